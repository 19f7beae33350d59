package camera

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed はプールが閉じられた後の操作で返される
var ErrPoolClosed = errors.New("フレームバッファプールは閉じられています")

// FramePool は固定数のフレームバッファを循環させる
type FramePool struct {
	free   chan *Frame
	filled chan *Frame
	mode   GrabMode
	count  int

	closed    chan struct{}
	closeOnce sync.Once
}

// NewFramePool は count 枚のバッファを持つプールを作成する
func NewFramePool(count int, mode GrabMode) *FramePool {
	if count < 1 {
		count = 1
	}

	p := &FramePool{
		free:   make(chan *Frame, count),
		filled: make(chan *Frame, count),
		mode:   mode,
		count:  count,
		closed: make(chan struct{}),
	}
	for i := 0; i < count; i++ {
		p.free <- &Frame{pool: p}
	}
	return p
}

// Count はバッファの総数を返す
func (p *FramePool) Count() int {
	return p.count
}

// Ready は取得待ちのフレーム数を返す
func (p *FramePool) Ready() int {
	return len(p.filled)
}

// Acquire は書き込み済みのフレームを取得する
// フレームが得られるまでブロックする
func (p *FramePool) Acquire(ctx context.Context) (*Frame, error) {
	select {
	case <-p.closed:
		return nil, ErrPoolClosed
	default:
	}

	select {
	case f := <-p.filled:
		f.held.Store(true)
		return f, nil
	case <-p.closed:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release はフレームをプールに返却する
// 保持されていないフレーム（二重返却）は無視する
func (p *FramePool) Release(f *Frame) {
	if f == nil || f.pool != p {
		return
	}
	if !f.held.CompareAndSwap(true, false) {
		return
	}

	// free の容量はバッファ総数と同じなのでブロックしない
	p.free <- f
}

// Fill は空きバッファを fill で埋めて取得待ちキューに入れる
func (p *FramePool) Fill(ctx context.Context, fill func(*Frame) error) error {
	f, err := p.take(ctx)
	if err != nil {
		return err
	}

	if err := fill(f); err != nil {
		p.Release(f)
		return err
	}

	select {
	case <-p.closed:
		p.Release(f)
		return ErrPoolClosed
	default:
	}

	// filled の容量はバッファ総数と同じなのでブロックしない
	f.held.Store(false)
	p.filled <- f
	return nil
}

// take は書き込み先のバッファを取り出し、保持中にする
func (p *FramePool) take(ctx context.Context) (*Frame, error) {
	f, err := p.takeFree(ctx)
	if err != nil {
		return nil, err
	}
	f.held.Store(true)
	return f, nil
}

func (p *FramePool) takeFree(ctx context.Context) (*Frame, error) {
	select {
	case f := <-p.free:
		return f, nil
	default:
	}

	if p.mode == GrabLatest {
		select {
		case f := <-p.free:
			return f, nil
		case f := <-p.filled:
			return f, nil
		case <-p.closed:
			return nil, ErrPoolClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	select {
	case f := <-p.free:
		return f, nil
	case <-p.closed:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close はプールを閉じ、待機中の Acquire と Fill を解放する
func (p *FramePool) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
}
