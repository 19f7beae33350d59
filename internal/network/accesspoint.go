package network

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// APConfig はアクセスポイントの設定
type APConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Interface string `yaml:"interface"`
	SSID      string `yaml:"ssid"`
	Password  string `yaml:"password"`
	Address   string `yaml:"address"` // CIDR表記のAP側アドレス
}

// DefaultAPConfig はデフォルトのアクセスポイント設定を返す
func DefaultAPConfig() APConfig {
	return APConfig{
		Interface: "wlan1",
		SSID:      "kumocam",
		Address:   "192.168.4.1/24",
	}
}

// apConnection はNetworkManager上の接続名
const apConnection = "kumocam-ap"

// AccessPoint はホットスポットを管理する
type AccessPoint struct {
	runner Runner
	config APConfig

	mu     sync.Mutex
	active bool
}

// NewAccessPoint は新しいAccessPointを作成する
func NewAccessPoint(runner Runner, cfg APConfig) *AccessPoint {
	return &AccessPoint{runner: runner, config: cfg}
}

// Config は設定を返す
func (a *AccessPoint) Config() APConfig {
	return a.config
}

// Start はホットスポットを起動する
func (a *AccessPoint) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active {
		return nil
	}

	args := []string{"device", "wifi", "hotspot", "ifname", a.config.Interface, "con-name", apConnection, "ssid", a.config.SSID}
	if a.config.Password != "" {
		args = append(args, "password", a.config.Password)
	}
	if _, err := a.runner.Run(ctx, "nmcli", args...); err != nil {
		return fmt.Errorf("アクセスポイントの起動に失敗: %w", err)
	}

	if a.config.Address != "" {
		if _, err := a.runner.Run(ctx, "nmcli", "connection", "modify", apConnection,
			"ipv4.method", "shared", "ipv4.addresses", a.config.Address); err != nil {
			return fmt.Errorf("アクセスポイントのアドレス設定に失敗: %w", err)
		}
		if _, err := a.runner.Run(ctx, "nmcli", "connection", "up", apConnection); err != nil {
			return fmt.Errorf("アクセスポイントの再起動に失敗: %w", err)
		}
	}

	a.active = true
	log.Printf("アクセスポイントを起動しました: %s (%s)", a.config.SSID, a.config.Address)
	return nil
}

// Stop はホットスポットを停止する
func (a *AccessPoint) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active {
		return nil
	}
	if _, err := a.runner.Run(ctx, "nmcli", "connection", "down", apConnection); err != nil {
		return fmt.Errorf("アクセスポイントの停止に失敗: %w", err)
	}
	a.active = false
	log.Printf("アクセスポイントを停止しました")
	return nil
}

// Active は起動中か判定する
func (a *AccessPoint) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}
