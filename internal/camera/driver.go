package camera

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNotInitialized は初期化前のドライバを操作した場合のエラー
var ErrNotInitialized = errors.New("カメラが初期化されていません")

// reopenThreshold は連続エラーでセンサーを開き直すまでの回数
const reopenThreshold = 3

// Driver はセンサーとフレームバッファプールを結び付ける
type Driver struct {
	sensor Sensor
	config Config

	lifecycle sync.Mutex // Init/Deinit を直列化する

	mu       sync.RWMutex
	pool     *FramePool
	status   Status
	settings SensorSettings
	lastErr  error
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	captured atomic.Uint64
	failures atomic.Uint64
}

// Stats はドライバの統計情報
type Stats struct {
	Status    Status
	Captured  uint64
	Failures  uint64
	Buffers   int
	Ready     int
	LastError string
}

// NewDriver は新しいDriverを作成する
func NewDriver(sensor Sensor, cfg Config) *Driver {
	return &Driver{
		sensor:   sensor,
		config:   cfg,
		status:   StatusInactive,
		settings: cfg.DefaultSensorSettings(),
	}
}

// Config はドライバの設定を返す
func (d *Driver) Config() Config {
	return d.config
}

// Init はセンサーを開き、既定の画質設定を適用してキャプチャを開始する
func (d *Driver) Init(ctx context.Context) error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status == StatusActive {
		return nil
	}

	if err := d.config.Validate(); err != nil {
		d.setErrorLocked(err)
		return fmt.Errorf("カメラ設定が無効: %w", err)
	}

	if err := d.sensor.Open(ctx, d.config); err != nil {
		d.setErrorLocked(err)
		return fmt.Errorf("カメラ %s の初期化に失敗: %w", d.config.Device, err)
	}

	if err := d.sensor.Apply(ctx, d.settings); err != nil {
		_ = d.sensor.Close()
		d.setErrorLocked(err)
		return fmt.Errorf("センサー設定の適用に失敗: %w", err)
	}

	pool := NewFramePool(d.config.FBCount, d.config.GrabMode)
	captureCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	d.pool = pool
	d.cancel = cancel
	d.status = StatusActive
	d.lastErr = nil

	d.wg.Add(1)
	go d.capture(captureCtx, pool)

	log.Printf("カメラを初期化しました: %s (%s, %s, バッファ%d枚)",
		d.config.Device, d.config.PixelFormat, d.settings.FrameSize, d.config.FBCount)
	return nil
}

// Deinit はキャプチャを停止してプールを閉じる
func (d *Driver) Deinit() error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	d.mu.Lock()
	pool, cancel := d.pool, d.cancel
	d.pool = nil
	d.cancel = nil
	d.status = StatusInactive
	d.mu.Unlock()

	if pool == nil {
		return nil
	}

	// キャプチャゴルーチンはロックを取るため、ロック外で終了を待つ
	cancel()
	pool.Close()
	d.wg.Wait()

	log.Printf("カメラを停止しました: %s", d.config.Device)
	if err := d.sensor.Close(); err != nil {
		return fmt.Errorf("センサーのクローズに失敗: %w", err)
	}
	return nil
}

// capture はプールの空きバッファにフレームを書き込み続ける
func (d *Driver) capture(ctx context.Context, pool *FramePool) {
	defer d.wg.Done()

	consecutive := 0
	for {
		err := pool.Fill(ctx, func(f *Frame) error {
			if err := d.sensor.ReadFrame(ctx, f); err != nil {
				return err
			}
			if f.Timestamp.IsZero() {
				f.Timestamp = time.Now()
			}
			return nil
		})

		if err == nil {
			consecutive = 0
			d.captured.Add(1)
			d.markActive()
			continue
		}

		if ctx.Err() != nil || errors.Is(err, ErrPoolClosed) {
			return
		}

		consecutive++
		d.failures.Add(1)
		log.Printf("フレーム取得に失敗 (%d回連続): %v", consecutive, err)

		if consecutive >= reopenThreshold {
			d.markError(err)
			d.reopen(ctx)
			consecutive = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// reopen はセンサーを開き直す
func (d *Driver) reopen(ctx context.Context) {
	d.mu.RLock()
	settings := d.settings
	d.mu.RUnlock()

	_ = d.sensor.Close()
	if err := d.sensor.Open(ctx, d.config); err != nil {
		log.Printf("センサーの再オープンに失敗: %v", err)
		return
	}
	if err := d.sensor.Apply(ctx, settings); err != nil {
		log.Printf("センサー設定の再適用に失敗: %v", err)
	}
}

func (d *Driver) markActive() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == StatusError && d.pool != nil {
		d.status = StatusActive
		d.lastErr = nil
	}
}

func (d *Driver) markError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool != nil {
		d.setErrorLocked(err)
	}
}

func (d *Driver) setErrorLocked(err error) {
	d.status = StatusError
	d.lastErr = err
}

// Acquire はキャプチャ済みのフレームを取得する
func (d *Driver) Acquire(ctx context.Context) (*Frame, error) {
	d.mu.RLock()
	pool := d.pool
	d.mu.RUnlock()

	if pool == nil {
		return nil, ErrNotInitialized
	}
	return pool.Acquire(ctx)
}

// Release はフレームを元のプールに返却する
func (d *Driver) Release(f *Frame) {
	if f == nil || f.pool == nil {
		return
	}
	f.pool.Release(f)
}

// Status は現在の状態を返す
func (d *Driver) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// Settings は現在のセンサー設定を返す
func (d *Driver) Settings() SensorSettings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settings
}

// ApplySettings はセンサー設定を検証して適用する
func (d *Driver) ApplySettings(ctx context.Context, settings SensorSettings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("設定が無効: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pool != nil {
		if err := d.sensor.Apply(ctx, settings); err != nil {
			return fmt.Errorf("設定の適用に失敗: %w", err)
		}
	}
	d.settings = settings
	return nil
}

// Stats は統計情報を返す
func (d *Driver) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := Stats{
		Status:   d.status,
		Captured: d.captured.Load(),
		Failures: d.failures.Load(),
	}
	if d.pool != nil {
		stats.Buffers = d.pool.Count()
		stats.Ready = d.pool.Ready()
	}
	if d.lastErr != nil {
		stats.LastError = d.lastErr.Error()
	}
	return stats
}
