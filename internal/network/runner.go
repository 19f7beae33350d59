package network

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Runner は外部コマンドを実行する
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner は os/exec でコマンドを実行する
type ExecRunner struct{}

// Run はコマンドを実行して標準出力を返す
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w (stderr: %s)",
			name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// MockRunner はコマンドを記録し、登録された応答を返すテスト用実装
type MockRunner struct {
	mu        sync.Mutex
	calls     []string
	responses map[string][]mockResponse
	fallback  func(cmdline string) (string, error)
}

type mockResponse struct {
	output string
	err    error
}

// NewMockRunner は新しいMockRunnerを作成する
func NewMockRunner() *MockRunner {
	return &MockRunner{responses: make(map[string][]mockResponse)}
}

// On はコマンドラインに対する応答を登録する
// 同じコマンドに複数登録した場合は順に返し、最後の応答を繰り返す
func (m *MockRunner) On(cmdline, output string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[cmdline] = append(m.responses[cmdline], mockResponse{output: output, err: err})
}

// Fallback は未登録コマンドの応答を設定する
func (m *MockRunner) Fallback(fn func(cmdline string) (string, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = fn
}

// Run はコマンドを記録して応答を返す
func (m *MockRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	cmdline := strings.Join(append([]string{name}, args...), " ")

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, cmdline)

	if rs := m.responses[cmdline]; len(rs) > 0 {
		r := rs[0]
		if len(rs) > 1 {
			m.responses[cmdline] = rs[1:]
		}
		return r.output, r.err
	}
	if m.fallback != nil {
		return m.fallback(cmdline)
	}
	return "", nil
}

// Calls は実行されたコマンドラインを返す
func (m *MockRunner) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Called は cmdline が実行された回数を返す
func (m *MockRunner) Called(cmdline string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == cmdline {
			n++
		}
	}
	return n
}
