package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DevicePattern はテストパターンセンサーを選択するデバイス名
const DevicePattern = "pattern"

// ErrSensorClosed はクローズ済みセンサーから読み取った場合のエラー
var ErrSensorClosed = errors.New("センサーは閉じられています")

// Sensor はフレームを生成するデバイスを抽象化する
type Sensor interface {
	// Open はデバイスを開いてキャプチャを開始する
	Open(ctx context.Context, cfg Config) error

	// ReadFrame は次のフレームを f に書き込む
	ReadFrame(ctx context.Context, f *Frame) error

	// Apply は画質設定を適用する
	Apply(ctx context.Context, settings SensorSettings) error

	// Close はデバイスを閉じる
	Close() error
}

// NewSensor はデバイス名に応じたSensorを作成する
func NewSensor(device string) Sensor {
	if device == DevicePattern {
		return NewPatternSensor()
	}
	return NewFFmpegSensor(device)
}

// カラーバー（白, 黄, シアン, 緑, マゼンタ, 赤, 青, 黒）
var colorBars = [][3]byte{
	{0xff, 0xff, 0xff},
	{0xff, 0xff, 0x00},
	{0x00, 0xff, 0xff},
	{0x00, 0xff, 0x00},
	{0xff, 0x00, 0xff},
	{0xff, 0x00, 0x00},
	{0x00, 0x00, 0xff},
	{0x00, 0x00, 0x00},
}

// PatternSensor はカラーバーを生成するテスト用センサー
type PatternSensor struct {
	mu       sync.Mutex
	cfg      Config
	settings SensorSettings
	res      Resolution
	interval time.Duration
	last     time.Time
	seq      uint64
	opened   bool
}

// NewPatternSensor は新しいPatternSensorを作成する
func NewPatternSensor() *PatternSensor {
	return &PatternSensor{}
}

// Open はパターン生成を開始する
func (s *PatternSensor) Open(_ context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := cfg.FrameSize.Resolution()
	if !ok {
		return fmt.Errorf("無効なフレームサイズ: %q", cfg.FrameSize)
	}

	s.cfg = cfg
	s.settings = cfg.DefaultSensorSettings()
	s.res = res
	s.interval = time.Second / time.Duration(max(cfg.FPS, 1))
	s.opened = true
	return nil
}

// ReadFrame はフレーム間隔を待ってからカラーバーを書き込む
func (s *PatternSensor) ReadFrame(ctx context.Context, f *Frame) error {
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return ErrSensorClosed
	}
	wait := time.Until(s.last.Add(s.interval))
	s.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return ErrSensorClosed
	}

	s.seq++
	s.last = time.Now()

	raw := s.render(s.cfg.PixelFormat)
	if s.cfg.PixelFormat == PixelFormatJPEG {
		rgb := &Frame{Data: s.render(PixelFormatRGB888), Width: s.res.Width, Height: s.res.Height, Format: PixelFormatRGB888}
		data, err := EncodeJPEG(rgb, sensorQualityToJPEG(s.settings.Quality))
		if err != nil {
			return err
		}
		raw = data
	}

	f.SetData(raw)
	f.Width = s.res.Width
	f.Height = s.res.Height
	f.Format = s.cfg.PixelFormat
	f.Timestamp = s.last
	f.Sequence = s.seq
	return nil
}

// render は指定フォーマットでカラーバーを描画する
func (s *PatternSensor) render(format PixelFormat) []byte {
	w, h := s.res.Width, s.res.Height
	bpp := format.BytesPerPixel()
	if format == PixelFormatJPEG {
		bpp = 3
		format = PixelFormatRGB888
	}

	data := make([]byte, w*h*bpp)
	barWidth := max(w/len(colorBars), 1)
	shift := int(s.seq) % len(colorBars)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			col := x
			if s.settings.HMirror {
				col = w - 1 - x
			}
			c := colorBars[(col/barWidth+shift)%len(colorBars)]
			i := (y*w + x) * bpp

			switch format {
			case PixelFormatRGB888:
				data[i], data[i+1], data[i+2] = c[0], c[1], c[2]
			case PixelFormatGrayscale:
				data[i] = byte((299*int(c[0]) + 587*int(c[1]) + 114*int(c[2])) / 1000)
			case PixelFormatRGB565:
				v := uint16(c[0]>>3)<<11 | uint16(c[1]>>2)<<5 | uint16(c[2]>>3)
				data[i], data[i+1] = byte(v), byte(v>>8)
			case PixelFormatYUV422:
				yy, cb, cr := rgbToYCbCr(c)
				data[i] = yy
				if x%2 == 0 {
					data[i+1] = cb
				} else {
					data[i+1] = cr
				}
			}
		}
	}
	return data
}

// Apply は設定を保持する
func (s *PatternSensor) Apply(_ context.Context, settings SensorSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, _ := settings.FrameSize.Resolution()
	s.res = res
	s.settings = settings
	return nil
}

// Close はパターン生成を停止する
func (s *PatternSensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}

func rgbToYCbCr(c [3]byte) (byte, byte, byte) {
	r, g, b := int(c[0]), int(c[1]), int(c[2])
	y := (299*r + 587*g + 114*b) / 1000
	cb := 128 + (-168736*r-331264*g+500000*b)/1000000
	cr := 128 + (500000*r-418688*g-81312*b)/1000000
	return clampByte(y), clampByte(cb), clampByte(cr)
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
