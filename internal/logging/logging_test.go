package logging

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestSetup_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kumocam.log")

	_, closeFn := Setup(Options{File: path, MaxSizeMB: 1})
	defer func() {
		log.SetOutput(os.Stderr)
		gin.DefaultWriter = os.Stdout
		gin.DefaultErrorWriter = os.Stderr
	}()

	log.Printf("テストメッセージ")
	if err := closeFn(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "テストメッセージ") {
		t.Errorf("ログファイルにメッセージがありません: %q", data)
	}
	if !strings.Contains(string(data), "logging_test.go") {
		t.Errorf("ファイル名が出力されていません: %q", data)
	}
}

func TestSetup_Stderr(t *testing.T) {
	w, closeFn := Setup(Options{})
	defer log.SetOutput(os.Stderr)

	if w != os.Stderr {
		t.Error("ファイル未指定時は標準エラー出力のはずです")
	}
	if err := closeFn(); err != nil {
		t.Errorf("close failed: %v", err)
	}
}
