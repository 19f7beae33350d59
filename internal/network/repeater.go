package network

import (
	"context"
	"log"
	"time"
)

// Repeater はアップリンクの状態に合わせてNATを切り替える
type Repeater struct {
	nat     *NAT
	timeout time.Duration
}

// NewRepeater は新しいRepeaterを作成する
func NewRepeater(nat *NAT) *Repeater {
	return &Repeater{nat: nat, timeout: 10 * time.Second}
}

// Handle はイベントを処理する
func (r *Repeater) Handle(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	switch e.Type {
	case EventStationGotIP:
		if err := r.nat.Enable(ctx); err != nil {
			log.Printf("NATの有効化に失敗: %v", err)
		}
	case EventStationLostIP, EventStationDisconnected:
		if err := r.nat.Disable(ctx); err != nil {
			log.Printf("NATの無効化に失敗: %v", err)
		}
	}
}
