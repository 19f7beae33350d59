package camera

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fillWith(seq uint64) func(*Frame) error {
	return func(f *Frame) error {
		f.SetData([]byte{byte(seq)})
		f.Sequence = seq
		f.Format = PixelFormatJPEG
		return nil
	}
}

func TestFramePool_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	pool := NewFramePool(2, GrabWhenEmpty)

	if err := pool.Fill(ctx, fillWith(1)); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	if pool.Ready() != 1 {
		t.Errorf("Expected 1 ready frame, got %d", pool.Ready())
	}

	f, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if f.Sequence != 1 || len(f.Data) != 1 {
		t.Errorf("予期しないフレーム: %+v", f)
	}

	pool.Release(f)
	// 二重返却は無視される
	pool.Release(f)

	// 2枚とも書き込めること
	for i := uint64(2); i <= 3; i++ {
		if err := pool.Fill(ctx, fillWith(i)); err != nil {
			t.Fatalf("Fill %d failed: %v", i, err)
		}
	}
}

func TestFramePool_DoubleReleaseKeepsBuffersDistinct(t *testing.T) {
	ctx := context.Background()
	pool := NewFramePool(2, GrabWhenEmpty)

	if err := pool.Fill(ctx, fillWith(1)); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	f, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	pool.Release(f)
	pool.Release(f)

	if len(pool.free) != 2 {
		t.Fatalf("空きバッファ数 = %d, want 2", len(pool.free))
	}

	for i := uint64(2); i <= 3; i++ {
		if err := pool.Fill(ctx, fillWith(i)); err != nil {
			t.Fatalf("Fill %d failed: %v", i, err)
		}
	}
	a, _ := pool.Acquire(ctx)
	b, _ := pool.Acquire(ctx)
	if a == b {
		t.Fatal("同じバッファが2回取得されました")
	}
	if a.Sequence != 2 || b.Sequence != 3 {
		t.Errorf("Sequence = %d, %d, want 2, 3", a.Sequence, b.Sequence)
	}

	// 2枚とも保持中なので書き込み先が無い
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := pool.Fill(waitCtx, fillWith(4)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("DeadlineExceeded が期待されました: %v", err)
	}
}

func TestFramePool_AcquireBlocksUntilFilled(t *testing.T) {
	pool := NewFramePool(1, GrabWhenEmpty)

	got := make(chan uint64, 1)
	go func() {
		f, err := pool.Acquire(context.Background())
		if err != nil {
			return
		}
		got <- f.Sequence
	}()

	select {
	case <-got:
		t.Fatal("フレームがないのにAcquireが戻りました")
	case <-time.After(50 * time.Millisecond):
	}

	if err := pool.Fill(context.Background(), fillWith(7)); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}

	select {
	case seq := <-got:
		if seq != 7 {
			t.Errorf("Expected sequence 7, got %d", seq)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquireがタイムアウトしました")
	}
}

func TestFramePool_WhenEmptyBlocksProducer(t *testing.T) {
	pool := NewFramePool(1, GrabWhenEmpty)
	if err := pool.Fill(context.Background(), fillWith(1)); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}

	// 空きバッファがないのでタイムアウトする
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := pool.Fill(ctx, fillWith(2)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("DeadlineExceeded が期待されました: %v", err)
	}

	f, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if f.Sequence != 1 {
		t.Errorf("古いフレームが返るはずです: got %d", f.Sequence)
	}
}

func TestFramePool_LatestRecyclesOldest(t *testing.T) {
	ctx := context.Background()
	pool := NewFramePool(2, GrabLatest)

	for i := uint64(1); i <= 4; i++ {
		if err := pool.Fill(ctx, fillWith(i)); err != nil {
			t.Fatalf("Fill %d failed: %v", i, err)
		}
	}

	first, _ := pool.Acquire(ctx)
	second, _ := pool.Acquire(ctx)
	if first.Sequence != 3 || second.Sequence != 4 {
		t.Errorf("最新の2枚が期待されました: got %d, %d", first.Sequence, second.Sequence)
	}
}

func TestFramePool_FillErrorReturnsBuffer(t *testing.T) {
	pool := NewFramePool(1, GrabWhenEmpty)
	fillErr := errors.New("センサーエラー")

	if err := pool.Fill(context.Background(), func(*Frame) error { return fillErr }); !errors.Is(err, fillErr) {
		t.Fatalf("予期しないエラー: %v", err)
	}

	// バッファは返却されているので再度書き込める
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Fill(ctx, fillWith(1)); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
}

func TestFramePool_CloseWakesWaiters(t *testing.T) {
	pool := NewFramePool(1, GrabWhenEmpty)

	errCh := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	pool.Close()
	pool.Close() // 2回目は何もしない

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrPoolClosed) {
			t.Errorf("ErrPoolClosed が期待されました: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Closeで待機が解除されませんでした")
	}

	if err := pool.Fill(context.Background(), fillWith(1)); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("ErrPoolClosed が期待されました: %v", err)
	}
}

func TestFramePool_ReleaseForeignFrame(t *testing.T) {
	a := NewFramePool(1, GrabWhenEmpty)
	b := NewFramePool(1, GrabWhenEmpty)

	if err := a.Fill(context.Background(), fillWith(1)); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	f, _ := a.Acquire(context.Background())

	// 別のプールには返却されない
	b.Release(f)
	b.Release(nil)
	if len(b.free) != 1 {
		t.Errorf("別プールの空きバッファが変化しました: %d", len(b.free))
	}
}
