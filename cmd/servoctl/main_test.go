package main

import (
	"bytes"
	"strings"
	"testing"

	"kumocam/internal/servo"
)

func TestRepl(t *testing.T) {
	drv := servo.Dummy()
	controller := servo.NewController(drv, nil)

	in := strings.NewReader("s 0 90\na 1 1023\np 2 1500\nx\ns 16 90\ns 0\nl\nq\ns 3 0\n")
	var out bytes.Buffer
	if err := repl(in, &out, controller, drv); err != nil {
		t.Fatalf("repl() error = %v", err)
	}

	writes := drv.Writes()
	if len(writes) != 3 {
		t.Fatalf("書き込み回数 = %d, want 3: %+v", len(writes), writes)
	}

	tests := []struct {
		channel int
		off     uint16
	}{
		{0, 286}, // 1400µs
		{1, 450}, // 2200µs
		{2, 307}, // 1500µs
	}
	for i, tt := range tests {
		if writes[i].Channel != tt.channel || writes[i].Off != tt.off {
			t.Errorf("writes[%d] = %+v, want channel %d off %d", i, writes[i], tt.channel, tt.off)
		}
	}

	got := out.String()
	for _, want := range []string{"不明なコマンド: x", "チャンネルは", "引数が足りません", "angle=90"} {
		if !strings.Contains(got, want) {
			t.Errorf("出力に %q が含まれていません:\n%s", want, got)
		}
	}
}

func TestExecutePulseRange(t *testing.T) {
	drv := servo.Dummy()
	controller := servo.NewController(drv, nil)

	for _, v := range []string{"599", "2201"} {
		if _, err := execute([]string{"p", "0", v}, &bytes.Buffer{}, controller, drv); err == nil {
			t.Errorf("パルス幅 %s でエラーになりませんでした", v)
		}
	}
	if len(drv.Writes()) != 0 {
		t.Error("範囲外のパルス幅が書き込まれました")
	}
}
