// Package main はkumocamサーバーコマンドの実装です
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"kumocam/internal/app"
	"kumocam/internal/config"
	"kumocam/internal/logging"
)

// newFlagSet はコマンドラインオプションを定義する
func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("server", pflag.ContinueOnError)
	flags.StringP("config", "c", "", "設定ファイル (YAML)")
	flags.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
	flags.IntP("port", "p", 0, "サーバーのポート (デフォルト: 8080)")
	flags.String("device", "", "カメラデバイス (pattern でテストパターン)")
	flags.BoolP("help", "h", false, "ヘルプを表示")
	return flags
}

// applyOverrides は指定されたオプションで設定を上書きし、再検証する
func applyOverrides(flags *pflag.FlagSet, cfg *config.Config) error {
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("device") {
		cfg.Camera.Device, _ = flags.GetString("device")
	}
	return cfg.Validate()
}

func main() {
	// コマンドラインオプション
	flags := newFlagSet()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// ヘルプ表示
	if help, _ := flags.GetBool("help"); help {
		fmt.Println("kumocam")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flags.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	configPath, _ := flags.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if err := applyOverrides(flags, cfg); err != nil {
		log.Fatalf("オプションが無効です: %v", err)
	}

	// ログ出力
	_, closeLog := logging.Setup(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("kumocam を起動します: %s", cfg.ServerAddress())
	if err := app.New(cfg, app.Options{}).Run(ctx); err != nil {
		log.Printf("サーバーの起動に失敗しました: %v", err)
		stop()
		_ = closeLog()
		os.Exit(1)
	}
}
