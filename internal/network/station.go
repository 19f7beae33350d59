package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

const (
	// DefaultConnectTimeout は接続待ちの上限
	DefaultConnectTimeout = 15 * time.Second

	// DefaultConnectPoll は接続待ちのポーリング間隔
	DefaultConnectPoll = 250 * time.Millisecond
)

// ErrConnectTimeout は時間内に接続できなかった場合のエラー
var ErrConnectTimeout = errors.New("Wi-Fi接続がタイムアウトしました")

// StationState はステーションインターフェースの状態
type StationState struct {
	Interface string `json:"interface"`
	Connected bool   `json:"connected"`
	SSID      string `json:"ssid,omitempty"`
	IP        string `json:"ip,omitempty"`
}

// Station はアップリンク側のWi-Fi接続を扱う
type Station struct {
	runner  Runner
	iface   string
	poll    time.Duration
	timeout time.Duration
}

// NewStation は新しいStationを作成する
func NewStation(runner Runner, iface string, timeout time.Duration) *Station {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &Station{
		runner:  runner,
		iface:   iface,
		poll:    DefaultConnectPoll,
		timeout: timeout,
	}
}

// Interface はインターフェース名を返す
func (s *Station) Interface() string {
	return s.iface
}

// Connect はSSIDに接続し、IPが割り当てられるまで待つ
func (s *Station) Connect(ctx context.Context, ssid, password string) (StationState, error) {
	log.Printf("Wi-Fi: %s に接続しています", ssid)

	args := []string{"device", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	args = append(args, "ifname", s.iface)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.runner.Run(ctx, "nmcli", args...); err != nil {
		// 接続コマンドの失敗は状態のポーリングで判断する
		log.Printf("Wi-Fi: 接続コマンドが失敗しました: %v", err)
	}

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		state, err := s.State(ctx)
		if err == nil && state.Connected && state.IP != "" {
			log.Printf("Wi-Fi: 接続しました IP: %s", state.IP)
			return state, nil
		}

		select {
		case <-ctx.Done():
			log.Printf("Wi-Fi: 接続に失敗しました")
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return state, ErrConnectTimeout
			}
			return state, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Disconnect はインターフェースを切断する
func (s *Station) Disconnect(ctx context.Context) error {
	if _, err := s.runner.Run(ctx, "nmcli", "device", "disconnect", s.iface); err != nil {
		return fmt.Errorf("Wi-Fi切断に失敗: %w", err)
	}
	return nil
}

// State は現在の接続状態を取得する
func (s *Station) State(ctx context.Context) (StationState, error) {
	out, err := s.runner.Run(ctx, "nmcli", "-t", "-f", "GENERAL.STATE,GENERAL.CONNECTION,IP4.ADDRESS", "device", "show", s.iface)
	if err != nil {
		return StationState{Interface: s.iface}, fmt.Errorf("Wi-Fi状態の取得に失敗: %w", err)
	}
	state := parseDeviceShow(out)
	state.Interface = s.iface
	return state, nil
}

// parseDeviceShow は `nmcli -t device show` の出力を解析する
func parseDeviceShow(out string) StationState {
	var state StationState
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}

		switch {
		case key == "GENERAL.STATE":
			// 例: "100 (connected)"
			state.Connected = strings.HasPrefix(value, "100")
		case key == "GENERAL.CONNECTION":
			if value != "--" {
				state.SSID = value
			}
		case strings.HasPrefix(key, "IP4.ADDRESS") && state.IP == "":
			ip, _, _ := strings.Cut(value, "/")
			state.IP = ip
		}
	}
	return state
}
