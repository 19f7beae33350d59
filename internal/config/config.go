package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"kumocam/internal/camera"
	"kumocam/internal/network"
	"kumocam/internal/ota"
	"kumocam/internal/servo"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Camera  camera.Config  `yaml:"camera"`
	Servo   ServoConfig    `yaml:"servo"`
	OTA     ota.Config     `yaml:"ota"`
	Network network.Config `yaml:"network"`
	Restart RestartConfig  `yaml:"restart"`
	Log     LogConfig      `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"` // ヘッダー読み込みタイムアウト（本文はOTAのため無制限）
	WriteTimeout      time.Duration `yaml:"write_timeout"`       // 書き込みタイムアウト
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`    // シャットダウン待ち
}

// ServoConfig はサーボ関連の設定
type ServoConfig struct {
	Driver   string         `yaml:"driver"`   // "pca9685" / "dummy"、空なら無効
	Bus      string         `yaml:"bus"`      // I2Cバス名（空ならデフォルト）
	Address  uint16         `yaml:"address"`  // PCA9685のI2Cアドレス
	Names    map[int]string `yaml:"names"`    // チャンネル名
	Initial  map[int]int    `yaml:"initial"`  // 起動時の角度
	Analog   AnalogConfig   `yaml:"analog"`   // 追従用のアナログ入力
	Follow   []servo.Pair   `yaml:"follow"`   // 入力とサーボの対応
	Interval time.Duration  `yaml:"interval"` // 追従の周期
}

// AnalogConfig はアナログ入力の設定
type AnalogConfig struct {
	Source     string  `yaml:"source"`      // "ads1115" / "serial"、空なら無効
	Bus        string  `yaml:"bus"`         // ADS1115のI2Cバス名
	Address    uint16  `yaml:"address"`     // ADS1115のI2Cアドレス
	MaxVoltage float64 `yaml:"max_voltage"` // フルスケール電圧 (V)
	Device     string  `yaml:"device"`      // シリアルデバイス
	Baud       int     `yaml:"baud"`        // ボーレート
}

// RestartConfig は定期再起動の設定
type RestartConfig struct {
	Interval time.Duration `yaml:"interval"` // 0なら無効
}

// LogConfig はログ出力の設定
type LogConfig struct {
	File       string `yaml:"file"`         // 空なら標準エラー出力のみ
	MaxSizeMB  int    `yaml:"max_size_mb"`  // ローテーションするサイズ
	MaxBackups int    `yaml:"max_backups"`  // 保持する世代数
	MaxAgeDays int    `yaml:"max_age_days"` // 保持する日数
	Compress   bool   `yaml:"compress"`     // 古いログを圧縮する
}

// largeMemoryThreshold はこれ以上のメモリがあれば大きいフレームサイズを使う
const largeMemoryThreshold = 512 << 20

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      0, // ストリーミング用にタイムアウト無効化
			ShutdownTimeout:   5 * time.Second,
		},
		Camera: camera.DefaultConfig(hasLargeMemory()),
		Servo: ServoConfig{
			Address:  servo.DefaultAddr,
			Interval: 20 * time.Millisecond,
			Analog: AnalogConfig{
				MaxVoltage: 3.3,
				Baud:       115200,
			},
		},
		OTA: ota.Config{
			Hostname:     "kumocam",
			RestartDelay: time.Second,
		},
		Network: network.DefaultConfig(),
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load は設定を読み込む
// デフォルト値に path のYAMLを重ね、さらに環境変数で上書きする
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// loadFile はYAMLファイルの内容で設定を上書きする
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("設定ファイル %s の解析に失敗: %w", path, err)
	}
	return nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Camera.Device = getEnvOrDefault("CAMERA_DEVICE", c.Camera.Device)
	c.Network.SSID = getEnvOrDefault("WIFI_SSID", c.Network.SSID)
	c.Network.Password = getEnvOrDefault("WIFI_PASSWORD", c.Network.Password)
	c.OTA.PasswordHash = getEnvOrDefault("OTA_PASSWORD_HASH", c.OTA.PasswordHash)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	if err := c.Camera.Validate(); err != nil {
		return fmt.Errorf("カメラ設定: %w", err)
	}

	switch c.Servo.Driver {
	case "", "pca9685", "dummy":
	default:
		return fmt.Errorf("不明なサーボドライバ: %q", c.Servo.Driver)
	}
	for ch, deg := range c.Servo.Initial {
		if ch < 0 || ch >= servo.NumChannels {
			return fmt.Errorf("初期角度のチャンネルが範囲外: %d", ch)
		}
		if deg < 0 || deg > servo.AngleMax {
			return fmt.Errorf("初期角度が範囲外: %d", deg)
		}
	}
	switch c.Servo.Analog.Source {
	case "", "ads1115", "serial":
	default:
		return fmt.Errorf("不明なアナログ入力: %q", c.Servo.Analog.Source)
	}
	if len(c.Servo.Follow) > 0 && (c.Servo.Analog.Source == "" || c.Servo.Driver == "") {
		return errors.New("追従にはサーボドライバとアナログ入力が必要です")
	}
	for _, p := range c.Servo.Follow {
		if p.Motor < 0 || p.Motor >= servo.NumChannels {
			return fmt.Errorf("追従先のチャンネルが範囲外: %d", p.Motor)
		}
	}

	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("ネットワーク設定: %w", err)
	}

	if c.Restart.Interval < 0 {
		return fmt.Errorf("無効な再起動間隔: %v", c.Restart.Interval)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// hasLargeMemory は搭載メモリが十分あるか判定する
func hasLargeMemory() bool {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return false
	}
	return uint64(info.Totalram)*uint64(info.Unit) >= largeMemoryThreshold
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
