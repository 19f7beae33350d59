// Package logging は標準logパッケージの出力先を設定する
package logging

import (
	"io"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options はログ出力の設定
type Options struct {
	File       string // 空なら標準エラー出力のみ
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Setup はlogとginの出力先を設定し、ファイルを閉じる関数を返す
func Setup(opts Options) (io.Writer, func() error) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var w io.Writer = os.Stderr
	closeFn := func() error { return nil }

	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		w = io.MultiWriter(os.Stderr, rotator)
		closeFn = rotator.Close
	}

	log.SetOutput(w)
	gin.DefaultWriter = w
	gin.DefaultErrorWriter = w
	return w, closeFn
}
