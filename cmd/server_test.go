package main

import (
	"testing"

	"kumocam/internal/config"
)

func TestApplyOverrides(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		check   func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "上書きなし",
			args: nil,
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Server.Port != 8080 {
					t.Errorf("Port = %d, want 8080", cfg.Server.Port)
				}
			},
		},
		{
			name: "ホストとポートとデバイス",
			args: []string{"--host", "127.0.0.1", "-p", "9090", "--device", "pattern"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9090 || cfg.Camera.Device != "pattern" {
					t.Errorf("設定が上書きされていません: %+v %s", cfg.Server, cfg.Camera.Device)
				}
			},
		},
		{name: "範囲外のポート", args: []string{"--port", "70000"}, wantErr: true},
		{name: "空のデバイス", args: []string{"--device", ""}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := newFlagSet()
			if err := flags.Parse(tt.args); err != nil {
				t.Fatalf("Parse failed: %v", err)
			}

			cfg := config.Default()
			err := applyOverrides(flags, cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("applyOverrides() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}
