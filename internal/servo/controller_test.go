package servo

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestController_MoveDegrees(t *testing.T) {
	driver := Dummy()
	controller := NewController(driver, map[int]string{0: "脚A"})

	if err := controller.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if driver.Frequency() != Frequency {
		t.Errorf("周波数が設定されていません: got %d, want %d", driver.Frequency(), Frequency)
	}

	pos, err := controller.MoveDegrees(0, 90)
	if err != nil {
		t.Fatalf("MoveDegrees failed: %v", err)
	}
	if pos.Ticks != 286 {
		t.Errorf("ティック数が一致しません: got %d, want 286", pos.Ticks)
	}
	if pos.Name != "脚A" {
		t.Errorf("名前が一致しません: got %s", pos.Name)
	}

	writes := driver.Writes()
	if len(writes) != 1 {
		t.Fatalf("書き込み回数が一致しません: got %d, want 1", len(writes))
	}
	if writes[0] != (Write{Channel: 0, On: 0, Off: 286}) {
		t.Errorf("書き込み内容が一致しません: %+v", writes[0])
	}
}

func TestController_MoveAnalog(t *testing.T) {
	driver := Dummy()
	controller := NewController(driver, nil)

	pos, err := controller.MoveAnalog(3, 1023)
	if err != nil {
		t.Fatalf("MoveAnalog failed: %v", err)
	}
	if pos.Kind != InputAnalog || pos.Ticks != 450 || pos.Pulse != 2200*time.Microsecond {
		t.Errorf("予期しない位置: %+v", pos)
	}
	if pos.Name != "servo3" {
		t.Errorf("デフォルト名が一致しません: got %s", pos.Name)
	}
}

func TestController_ChannelOutOfRange(t *testing.T) {
	controller := NewController(Dummy(), nil)

	for _, ch := range []int{-1, NumChannels} {
		if _, err := controller.MoveDegrees(ch, 90); !errors.Is(err, ErrChannelOutOfRange) {
			t.Errorf("チャンネル %d: ErrChannelOutOfRange が期待されました: %v", ch, err)
		}
	}
}

func TestController_Positions(t *testing.T) {
	controller := NewController(Dummy(), nil)

	_, _ = controller.MoveDegrees(5, 0)
	_, _ = controller.MoveDegrees(1, 180)
	_, _ = controller.MoveDegrees(5, 45)

	positions := controller.Positions()
	if len(positions) != 2 {
		t.Fatalf("Expected 2 positions, got %d", len(positions))
	}
	if positions[0].Channel != 1 || positions[1].Channel != 5 {
		t.Errorf("チャンネル順ではありません: %+v", positions)
	}
	if positions[1].Input != 45 {
		t.Errorf("最新の値が保持されていません: got %d", positions[1].Input)
	}

	if _, ok := controller.Position(7); ok {
		t.Error("未使用チャンネルが見つかりました")
	}
}

// fakeAnalog はテスト用のAnalogReader
type fakeAnalog struct {
	values map[int]int
}

func (f *fakeAnalog) ReadAnalog(_ context.Context, input int) (int, error) {
	v, ok := f.values[input]
	if !ok {
		return 0, ErrNoSample
	}
	return v, nil
}

func (f *fakeAnalog) Close() error { return nil }

func TestFollower_Step(t *testing.T) {
	driver := Dummy()
	controller := NewController(driver, nil)
	reader := &fakeAnalog{values: map[int]int{0: 0, 1: 1023}}

	follower := NewFollower(controller, reader, []Pair{
		{Input: 0, Motor: 0},
		{Input: 1, Motor: 1},
		{Input: 2, Motor: 2}, // 値なし
	}, time.Millisecond)

	moved := follower.Step(context.Background())
	if moved != 2 {
		t.Fatalf("Expected 2 moves, got %d", moved)
	}

	pos, _ := controller.Position(1)
	if pos.Ticks != 450 {
		t.Errorf("ティック数が一致しません: got %d, want 450", pos.Ticks)
	}
}

func TestFollower_RunStopsOnCancel(t *testing.T) {
	controller := NewController(Dummy(), nil)
	follower := NewFollower(controller, &fakeAnalog{values: map[int]int{0: 100}}, []Pair{{Input: 0, Motor: 0}}, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := follower.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("予期しないエラー: %v", err)
	}
	if _, ok := controller.Position(0); !ok {
		t.Error("追従が実行されていません")
	}
}

func TestParseAnalogLine(t *testing.T) {
	testCases := []struct {
		line      string
		input     int
		value     int
		expectErr bool
	}{
		{"A0:512", 0, 512, false},
		{"A3: 1023\r", 3, 1023, false},
		{"A1:2000", 1, AnalogMax, false},
		{"A1:-5", 1, 0, false},
		{"B0:1", 0, 0, true},
		{"A0", 0, 0, true},
		{"Ax:1", 0, 0, true},
		{"A0:abc", 0, 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.line, func(t *testing.T) {
			input, value, err := parseAnalogLine(tc.line)
			if tc.expectErr {
				if err == nil {
					t.Error("エラーが期待されましたが、エラーが発生しませんでした")
				}
				return
			}
			if err != nil {
				t.Fatalf("予期しないエラー: %v", err)
			}
			if input != tc.input || value != tc.value {
				t.Errorf("got (%d, %d), want (%d, %d)", input, value, tc.input, tc.value)
			}
		})
	}
}

func TestSerialAnalog_ReadLoop(t *testing.T) {
	port := io.NopCloser(strings.NewReader("boot\nA0:100\nA1:200\nA0:300\n"))
	reader := newSerialAnalog(port)

	// 受信ループの終了を待つ
	select {
	case <-reader.done:
	case <-time.After(time.Second):
		t.Fatal("受信ループが終了しません")
	}

	v, err := reader.ReadAnalog(context.Background(), 0)
	if err != nil || v != 300 {
		t.Errorf("A0: got (%d, %v), want 300", v, err)
	}
	v, err = reader.ReadAnalog(context.Background(), 1)
	if err != nil || v != 200 {
		t.Errorf("A1: got (%d, %v), want 200", v, err)
	}
	if _, err := reader.ReadAnalog(context.Background(), 2); !errors.Is(err, ErrNoSample) {
		t.Errorf("ErrNoSample が期待されました: %v", err)
	}

	if err := reader.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
