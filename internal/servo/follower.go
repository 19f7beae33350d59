package servo

import (
	"context"
	"log"
	"time"
)

// Pair はアナログ入力とサーボ出力の対応
type Pair struct {
	Input int `yaml:"input"`
	Motor int `yaml:"motor"`
}

// Follower はアナログ入力を周期的に読み取りサーボを追従させる
type Follower struct {
	controller *Controller
	reader     AnalogReader
	pairs      []Pair
	interval   time.Duration
}

// NewFollower は新しいFollowerを作成する
func NewFollower(controller *Controller, reader AnalogReader, pairs []Pair, interval time.Duration) *Follower {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	return &Follower{
		controller: controller,
		reader:     reader,
		pairs:      pairs,
		interval:   interval,
	}
}

// Run はコンテキストがキャンセルされるまで追従を続ける
func (f *Follower) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.Step(ctx)
		}
	}
}

// Step は全ての対応を1回ずつ処理し、成功した数を返す
func (f *Follower) Step(ctx context.Context) int {
	moved := 0
	for _, p := range f.pairs {
		raw, err := f.reader.ReadAnalog(ctx, p.Input)
		if err != nil {
			continue
		}

		if _, err := f.controller.MoveAnalog(p.Motor, raw); err != nil {
			log.Printf("サーボ %d の追従に失敗: %v", p.Motor, err)
			continue
		}
		moved++
	}
	return moved
}
