package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// Config はネットワーク管理の設定
type Config struct {
	Enabled        bool          `yaml:"enabled"`
	Interface      string        `yaml:"interface"`
	SSID           string        `yaml:"ssid"`
	Password       string        `yaml:"password"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	AccessPoint    APConfig      `yaml:"access_point"`
	Repeater       bool          `yaml:"repeater"` // AP側をアップリンクへNATする
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Interface:      "wlan0",
		ConnectTimeout: DefaultConnectTimeout,
		PollInterval:   DefaultMonitorInterval,
		AccessPoint:    DefaultAPConfig(),
	}
}

// Validate は設定の妥当性を検証する
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Interface == "" {
		return errors.New("ネットワークインターフェースが指定されていません")
	}
	if c.SSID == "" {
		return errors.New("SSIDが指定されていません")
	}
	if c.AccessPoint.Enabled {
		if c.AccessPoint.SSID == "" || c.AccessPoint.Interface == "" {
			return errors.New("アクセスポイントのSSIDとインターフェースが必要です")
		}
		if c.AccessPoint.Password != "" && len(c.AccessPoint.Password) < 8 {
			return errors.New("アクセスポイントのパスワードは8文字以上必要です")
		}
		if _, _, err := net.ParseCIDR(c.AccessPoint.Address); err != nil {
			return fmt.Errorf("無効なアクセスポイントアドレス %q: %w", c.AccessPoint.Address, err)
		}
	}
	if c.Repeater && !c.AccessPoint.Enabled {
		return errors.New("リピーターにはアクセスポイントが必要です")
	}
	return nil
}

// Status はネットワークの状態
type Status struct {
	Enabled     bool         `json:"enabled"`
	Station     StationState `json:"station"`
	AccessPoint bool         `json:"access_point"`
	NAT         bool         `json:"nat"`
}

// Manager はステーション・アクセスポイント・NATをまとめて管理する
type Manager struct {
	config  Config
	station *Station
	ap      *AccessPoint
	nat     *NAT
	monitor *Monitor

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager は新しいManagerを作成する
func NewManager(cfg Config, runner Runner) *Manager {
	station := NewStation(runner, cfg.Interface, cfg.ConnectTimeout)
	m := &Manager{
		config:  cfg,
		station: station,
		ap:      NewAccessPoint(runner, cfg.AccessPoint),
		monitor: NewMonitor(station, cfg.PollInterval),
	}

	if cfg.Repeater {
		if _, subnet, err := net.ParseCIDR(cfg.AccessPoint.Address); err == nil {
			m.nat = NewNAT(runner, cfg.Interface, subnet.String())
			m.monitor.Subscribe(NewRepeater(m.nat).Handle)
		}
	}
	return m
}

// Monitor はイベント監視を返す
func (m *Manager) Monitor() *Monitor {
	return m.monitor
}

// Start はアクセスポイントを起動してからステーション接続を行い、監視を開始する
// 接続に失敗しても監視は開始し、エラーを返す
func (m *Manager) Start(ctx context.Context) (StationState, error) {
	if !m.config.Enabled {
		return StationState{}, nil
	}

	if m.config.AccessPoint.Enabled {
		if err := m.ap.Start(ctx); err != nil {
			log.Printf("アクセスポイントの起動に失敗: %v", err)
		} else {
			m.monitor.Emit(EventAPStart, StationState{Interface: m.config.AccessPoint.Interface})
		}
	}

	state, connErr := m.station.Connect(ctx, m.config.SSID, m.config.Password)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		_ = m.monitor.Run(runCtx)
	}()

	return state, connErr
}

// Stop は監視を止め、NATとアクセスポイントを停止する
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if m.nat != nil {
		if err := m.nat.Disable(ctx); err != nil {
			return err
		}
	}
	if m.ap.Active() {
		if err := m.ap.Stop(ctx); err != nil {
			return err
		}
		m.monitor.Emit(EventAPStop, StationState{Interface: m.config.AccessPoint.Interface})
	}
	return nil
}

// Status は現在の状態を返す
func (m *Manager) Status() Status {
	s := Status{
		Enabled:     m.config.Enabled,
		Station:     m.monitor.Last(),
		AccessPoint: m.ap.Active(),
	}
	if m.nat != nil {
		s.NAT = m.nat.Enabled()
	}
	return s
}
