package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"kumocam/internal/camera"
)

const (
	// ContentType はストリームレスポンスのContent-Type
	ContentType = "multipart/x-mixed-replace; boundary=frame"

	// Boundary は各パートの前に書き込む境界
	Boundary = "\r\n--frame\r\n"

	// partHeader は各パートのヘッダー
	partHeader = "Content-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n"

	// EncodeQuality はJPEG以外のフレームを変換する際の品質
	EncodeQuality = camera.DefaultEncodeQuality

	// DefaultYield はフレーム間で譲る時間
	DefaultYield = time.Millisecond
)

// ErrStopped は配信が停止されている場合のエラー
var ErrStopped = errors.New("ストリーム配信は停止中です")

// FrameSource はフレームの取得と返却を行う
type FrameSource interface {
	Acquire(ctx context.Context) (*camera.Frame, error)
	Release(f *camera.Frame)
}

// Stats は配信の統計情報
type Stats struct {
	Clients    int64  `json:"clients"`
	FramesSent uint64 `json:"frames_sent"`
	BytesSent  uint64 `json:"bytes_sent"`
}

// Streamer はフレームソースからMJPEGを配信する
type Streamer struct {
	source FrameSource
	yield  time.Duration

	mu   sync.Mutex
	stop chan struct{}

	clients atomic.Int64
	frames  atomic.Uint64
	bytes   atomic.Uint64
}

// NewStreamer は新しいStreamerを作成する
func NewStreamer(source FrameSource) *Streamer {
	return &Streamer{
		source: source,
		yield:  DefaultYield,
		stop:   make(chan struct{}),
	}
}

// SetYield はフレーム間で譲る時間を設定する
func (s *Streamer) SetYield(d time.Duration) {
	s.yield = d
}

// Serve は ctx が終了するか書き込みに失敗するまでフレームを w に書き込み続ける
// flush が nil でなければ各フレームの後に呼び出す
func (s *Streamer) Serve(ctx context.Context, w io.Writer, flush func()) error {
	stop, err := s.stopChannel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.clients.Add(1)
	defer s.clients.Add(-1)

	for {
		f, err := s.acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		n, err := s.writeFrame(w, f)
		if err != nil {
			return err
		}
		if flush != nil {
			flush()
		}

		s.frames.Add(1)
		s.bytes.Add(uint64(n))

		if s.yield > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.yield):
			}
		}
	}
}

// acquire はフレームを取得する。失敗した場合は1回だけ再試行する
func (s *Streamer) acquire(ctx context.Context) (*camera.Frame, error) {
	f, err := s.source.Acquire(ctx)
	if err == nil {
		return f, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	f, err = s.source.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("フレームの取得に失敗: %w", err)
	}
	return f, nil
}

// writeFrame は1フレーム分のパートを書き込み、フレームを返却する
func (s *Streamer) writeFrame(w io.Writer, f *camera.Frame) (int, error) {
	defer s.source.Release(f)

	data, err := camera.EncodeJPEG(f, EncodeQuality)
	if err != nil {
		return 0, fmt.Errorf("JPEG変換に失敗: %w", err)
	}

	total := 0
	for _, part := range [][]byte{
		[]byte(Boundary),
		[]byte(fmt.Sprintf(partHeader, len(data))),
		data,
	} {
		n, err := w.Write(part)
		total += n
		if err != nil {
			return total, fmt.Errorf("フレームの書き込みに失敗: %w", err)
		}
	}
	return total, nil
}

// Capture は1枚のJPEGを取得する
func (s *Streamer) Capture(ctx context.Context) ([]byte, error) {
	f, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.source.Release(f)

	data, err := camera.EncodeJPEG(f, EncodeQuality)
	if err != nil {
		return nil, fmt.Errorf("JPEG変換に失敗: %w", err)
	}

	// 返却後にバッファが再利用されるためコピーする
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Stop は実行中の配信をすべて終了し、新しい配信を拒否する
func (s *Streamer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	s.stop = nil
	log.Printf("ストリーム配信を停止しました")
}

// Resume は停止した配信を再開できるようにする
func (s *Streamer) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		s.stop = make(chan struct{})
	}
}

// Stopped は配信が停止中か判定する
func (s *Streamer) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop == nil
}

func (s *Streamer) stopChannel() (chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return nil, ErrStopped
	}
	return s.stop, nil
}

// Stats は統計情報を返す
func (s *Streamer) Stats() Stats {
	return Stats{
		Clients:    s.clients.Load(),
		FramesSent: s.frames.Load(),
		BytesSent:  s.bytes.Load(),
	}
}
