package network

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// NAT はAP側のサブネットをアップリンクへIPマスカレードする
type NAT struct {
	runner Runner
	uplink string
	source string

	mu      sync.Mutex
	enabled bool
}

// NewNAT は新しいNATを作成する
// source はAP側のサブネット（例: 192.168.4.0/24）
func NewNAT(runner Runner, uplink, source string) *NAT {
	return &NAT{runner: runner, uplink: uplink, source: source}
}

func (n *NAT) rule(op string) []string {
	return []string{"-t", "nat", op, "POSTROUTING", "-s", n.source, "-o", n.uplink, "-j", "MASQUERADE"}
}

// Enable はIPフォワーディングとマスカレードを有効にする
// ルールが既にあれば追加しない
func (n *NAT) Enable(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, err := n.runner.Run(ctx, "sysctl", "-w", "net.ipv4.ip_forward=1"); err != nil {
		return fmt.Errorf("IPフォワーディングの有効化に失敗: %w", err)
	}

	if _, err := n.runner.Run(ctx, "iptables", n.rule("-C")...); err != nil {
		if _, err := n.runner.Run(ctx, "iptables", n.rule("-A")...); err != nil {
			return fmt.Errorf("NATルールの追加に失敗: %w", err)
		}
	}

	if !n.enabled {
		log.Printf("NATを有効にしました: %s -> %s", n.source, n.uplink)
	}
	n.enabled = true
	return nil
}

// Disable はマスカレードのルールを削除する
func (n *NAT) Disable(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	// 重複したルールもすべて削除する
	for i := 0; i < 8; i++ {
		if _, err := n.runner.Run(ctx, "iptables", n.rule("-C")...); err != nil {
			break
		}
		if _, err := n.runner.Run(ctx, "iptables", n.rule("-D")...); err != nil {
			return fmt.Errorf("NATルールの削除に失敗: %w", err)
		}
	}

	if n.enabled {
		log.Printf("NATを無効にしました")
	}
	n.enabled = false
	return nil
}

// Enabled は有効か判定する
func (n *NAT) Enabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enabled
}
