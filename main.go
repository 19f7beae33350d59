package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"kumocam/internal/app"
	"kumocam/internal/config"
	"kumocam/internal/logging"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load(os.Getenv("KUMOCAM_CONFIG"))
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	_, closeLog := logging.Setup(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer func() { _ = closeLog() }()

	// コンテキストを作成
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 起動
	if err := app.New(cfg, app.Options{}).Run(ctx); err != nil {
		log.Printf("サーバーの起動に失敗しました: %v", err)
	}
}
