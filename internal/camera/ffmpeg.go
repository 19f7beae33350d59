package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"sync"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// ffmpegPixFmt はrawvideo出力時のffmpegのpix_fmt
var ffmpegPixFmt = map[PixelFormat]string{
	PixelFormatRGB565:    "rgb565le",
	PixelFormatYUV422:    "yuyv422",
	PixelFormatGrayscale: "gray",
	PixelFormatRGB888:    "rgb24",
}

// FFmpegSensor はffmpeg経由でV4L2デバイスからフレームを取得する
type FFmpegSensor struct {
	device string

	mu       sync.Mutex
	cfg      Config
	settings SensorSettings
	res      Resolution
	cancel   context.CancelFunc
	frames   chan []byte
	errs     chan error
	done     chan struct{}
	seq      uint64
}

// NewFFmpegSensor は新しいFFmpegSensorを作成する
func NewFFmpegSensor(device string) *FFmpegSensor {
	return &FFmpegSensor{device: device}
}

// Open はffmpegプロセスを起動する
func (s *FFmpegSensor) Open(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := cfg.FrameSize.Resolution()
	if !ok {
		return fmt.Errorf("無効なフレームサイズ: %q", cfg.FrameSize)
	}

	s.cfg = cfg
	s.res = res
	s.settings = cfg.DefaultSensorSettings()
	return s.startLocked(ctx)
}

// ffmpegArgs はキャプチャ用のffmpeg引数を組み立てる
func ffmpegArgs(device string, cfg Config, res Resolution, quality int) []string {
	args := []string{
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", res.Width, res.Height),
		"-r", strconv.Itoa(cfg.FPS),
		"-i", device,
	}

	if cfg.PixelFormat == PixelFormatJPEG {
		// センサー品質 0-63 を ffmpeg の -q:v 2-31 に対応させる
		qv := 2 + quality*29/63
		return append(args,
			"-f", "image2pipe",
			"-c:v", "mjpeg",
			"-q:v", strconv.Itoa(qv),
			"-",
		)
	}

	return append(args,
		"-f", "rawvideo",
		"-pix_fmt", ffmpegPixFmt[cfg.PixelFormat],
		"-",
	)
}

// startLocked はffmpegを起動して読み取りゴルーチンを開始する（ロック済み前提）
func (s *FFmpegSensor) startLocked(parent context.Context) error {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))

	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(s.device, s.cfg, s.res, s.settings.Quality)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	frames := make(chan []byte, 2)
	errs := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(frames)
		var readErr error
		if s.cfg.PixelFormat == PixelFormatJPEG {
			readErr = splitJPEGStream(ctx, stdout, frames)
		} else {
			readErr = readRawFrames(ctx, stdout, s.res.Width*s.res.Height*s.cfg.PixelFormat.BytesPerPixel(), frames)
		}
		waitErr := cmd.Wait()
		if ctx.Err() != nil {
			return
		}
		if readErr == nil {
			readErr = waitErr
		}
		errs <- fmt.Errorf("ffmpegが終了しました: %v (stderr: %s)", readErr, stderr.String())
	}()

	s.cancel = cancel
	s.frames = frames
	s.errs = errs
	s.done = done
	return nil
}

// stopLocked はffmpegを停止する（ロック済み前提）
func (s *FFmpegSensor) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

// ReadFrame は次のフレームを f に書き込む
func (s *FFmpegSensor) ReadFrame(ctx context.Context, f *Frame) error {
	s.mu.Lock()
	frames, errs := s.frames, s.errs
	res, format := s.res, s.cfg.PixelFormat
	s.mu.Unlock()

	if frames == nil {
		return ErrSensorClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errs:
		return err
	case data, ok := <-frames:
		if !ok {
			select {
			case err := <-errs:
				return err
			default:
				return ErrSensorClosed
			}
		}

		s.mu.Lock()
		s.seq++
		seq := s.seq
		s.mu.Unlock()

		f.SetData(data)
		f.Width = res.Width
		f.Height = res.Height
		f.Format = format
		f.Sequence = seq
		return nil
	}
}

// Apply はv4l2-ctlでコントロールを設定する
// 解像度か品質が変わった場合はffmpegを再起動する
func (s *FFmpegSensor) Apply(ctx context.Context, settings SensorSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	if err := s.setControls(ctx, settings); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	restart := settings.FrameSize != s.settings.FrameSize || settings.Quality != s.settings.Quality
	s.settings = settings
	if !restart || s.cancel == nil {
		return nil
	}

	res, _ := settings.FrameSize.Resolution()
	s.res = res
	s.stopLocked()
	return s.startLocked(ctx)
}

// setControls はセンサー設定をV4L2コントロールとして書き込む
func (s *FFmpegSensor) setControls(ctx context.Context, settings SensorSettings) error {
	controls := []struct {
		name  string
		value int
	}{
		{"brightness", settings.Brightness},
		{"contrast", settings.Contrast},
		{"saturation", settings.Saturation},
		{"vertical_flip", boolToInt(settings.VFlip)},
		{"horizontal_flip", boolToInt(settings.HMirror)},
		{"color_effects", settings.SpecialEffect},
	}

	for _, c := range controls {
		cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", s.device, "--set-ctrl", fmt.Sprintf("%s=%d", c.name, c.value))
		if err := cmd.Run(); err != nil {
			// デバイスが対応していないコントロールは無視する
			log.Printf("コントロール %s の設定をスキップ: %v", c.name, err)
		}
	}
	return nil
}

// Close はffmpegを停止する
func (s *FFmpegSensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.frames = nil
	return nil
}

// splitJPEGStream はMJPEGのバイト列をSOI/EOIマーカーで分割して送信する
func splitJPEGStream(ctx context.Context, r io.Reader, out chan<- []byte) error {
	reader := bufio.NewReaderSize(r, 64*1024)
	buffer := make([]byte, 32*1024)
	var pending bytes.Buffer

	for {
		n, err := reader.Read(buffer)
		if n > 0 {
			pending.Write(buffer[:n])
			for {
				frame, ok := nextJPEG(&pending)
				if !ok {
					break
				}
				select {
				case out <- frame:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("フレーム読み取りエラー: %w", err)
		}
	}
}

// nextJPEG は pending から完全なJPEGを1枚取り出す
// SOIより前のデータは破棄する
func nextJPEG(pending *bytes.Buffer) ([]byte, bool) {
	data := pending.Bytes()

	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		// 末尾の0xFFはマーカーの途中の可能性があるので残す
		if len(data) > 0 && data[len(data)-1] == 0xFF {
			pending.Next(len(data) - 1)
		} else {
			pending.Reset()
		}
		return nil, false
	}

	end := bytes.Index(data[start+2:], jpegEOI)
	if end == -1 {
		if start > 0 {
			pending.Next(start)
		}
		return nil, false
	}

	end += start + 2 + len(jpegEOI)
	frame := make([]byte, end-start)
	copy(frame, data[start:end])
	pending.Next(end)
	return frame, true
}

// readRawFrames は固定長のrawvideoフレームを読み取って送信する
func readRawFrames(ctx context.Context, r io.Reader, frameLen int, out chan<- []byte) error {
	if frameLen <= 0 {
		return fmt.Errorf("無効なフレーム長: %d", frameLen)
	}

	reader := bufio.NewReaderSize(r, frameLen)
	for {
		frame := make([]byte, frameLen)
		if _, err := io.ReadFull(reader, frame); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("フレーム読み取りエラー: %w", err)
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
