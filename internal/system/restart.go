// Package system はプロセスの再起動を扱う
package system

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Restarter はプロセスを再起動する
type Restarter interface {
	Restart(reason string) error
}

// ExecRestarter は現在の実行ファイルで自身を置き換えて再起動する
type ExecRestarter struct {
	// BeforeExec は exec 直前に呼ばれる（リソースの解放用）
	BeforeExec func()
}

// NewExecRestarter は新しいExecRestarterを作成する
func NewExecRestarter(beforeExec func()) *ExecRestarter {
	return &ExecRestarter{BeforeExec: beforeExec}
}

// Restart は execve で自身を再実行する。成功した場合は戻らない
func (r *ExecRestarter) Restart(reason string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("実行ファイルの取得に失敗: %w", err)
	}

	log.Printf("再起動します (%s): %s", reason, exe)
	if r.BeforeExec != nil {
		r.BeforeExec()
	}

	if err := unix.Exec(exe, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("再起動に失敗: %w", err)
	}
	return nil
}

// MockRestarter は再起動要求を記録するテスト用実装
type MockRestarter struct {
	mu      sync.Mutex
	reasons []string
	err     error
	called  chan struct{}
}

// NewMockRestarter は新しいMockRestarterを作成する
func NewMockRestarter(err error) *MockRestarter {
	return &MockRestarter{err: err, called: make(chan struct{}, 16)}
}

// Restart は理由を記録する
func (m *MockRestarter) Restart(reason string) error {
	m.mu.Lock()
	m.reasons = append(m.reasons, reason)
	m.mu.Unlock()

	select {
	case m.called <- struct{}{}:
	default:
	}
	return m.err
}

// Reasons は記録された理由を返す
func (m *MockRestarter) Reasons() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.reasons...)
}

// Called は Restart が呼ばれると通知されるチャンネルを返す
func (m *MockRestarter) Called() <-chan struct{} {
	return m.called
}

// PeriodicRestart は interval 経過後に再起動する
// interval が0以下の場合は何もしない。ctx が終了すると nil を返す
func PeriodicRestart(ctx context.Context, interval time.Duration, r Restarter) error {
	if interval <= 0 {
		return nil
	}

	log.Printf("%v後に定期再起動します", interval)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
	}

	return r.Restart("定期再起動")
}

// RestartAfter は delay 経過後に別ゴルーチンで再起動する
// レスポンスを返してから再起動するために使う。失敗時は onError が呼ばれる
func RestartAfter(delay time.Duration, r Restarter, reason string, onError func(error)) {
	go func() {
		time.Sleep(delay)
		if err := r.Restart(reason); err != nil {
			log.Printf("再起動に失敗: %v", err)
			if onError != nil {
				onError(err)
			}
		}
	}()
}
