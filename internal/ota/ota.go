// Package ota は実行ファイルとデータアーカイブのネットワーク越しの更新を扱う。
//
// 更新は一度に1つだけ実行できる。開始時に OnStart、完了時に OnEnd、
// 進捗の百分率が変化するたびに OnProgress、失敗時に OnError が呼ばれる。
package ota

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/bcrypt"

	"kumocam/internal/system"
)

// Command は更新の種類
type Command string

const (
	CommandFlash      Command = "flash"      // 実行ファイルの更新
	CommandFilesystem Command = "filesystem" // データアーカイブの更新
)

// ErrorKind は更新失敗の分類
type ErrorKind string

const (
	ErrorAuth    ErrorKind = "auth"    // 認証エラー
	ErrorBegin   ErrorKind = "begin"   // 書き込み準備の失敗
	ErrorConnect ErrorKind = "connect" // 接続の中断
	ErrorReceive ErrorKind = "receive" // 受信データの不足
	ErrorEnd     ErrorKind = "end"     // 検証・確定の失敗
)

// ErrInProgress は別の更新が実行中の場合のエラー
var ErrInProgress = errors.New("別の更新が実行中です")

// Error は分類付きの更新エラー
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("OTA %sエラー: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Hooks は更新の各段階で呼ばれるコールバック
type Hooks struct {
	OnStart    func(cmd Command)
	OnEnd      func(cmd Command)
	OnProgress func(progress, total int64)
	OnError    func(kind ErrorKind, err error)
}

// Config は更新の設定
type Config struct {
	Hostname       string        `yaml:"hostname"`
	PasswordHash   string        `yaml:"password_hash"`   // bcryptハッシュ。空なら認証しない
	FlashPath      string        `yaml:"flash_path"`      // 空なら実行中のファイル
	FilesystemPath string        `yaml:"filesystem_path"` // データアーカイブの保存先
	RestartDelay   time.Duration `yaml:"restart_delay"`
}

// Request は1回分の更新要求
type Request struct {
	Command  Command
	Password string
	Digest   string // BLAKE3の16進表記。空なら検証しない
	Size     int64  // 0以下なら不明
	Body     io.Reader
}

// Result は更新結果
type Result struct {
	Command Command `json:"command"`
	Path    string  `json:"path"`
	Bytes   int64   `json:"bytes"`
	Digest  string  `json:"digest"`
	Restart bool    `json:"restart"`
}

// Updater は更新を受け付ける
type Updater struct {
	config    Config
	hooks     Hooks
	restarter system.Restarter

	inProgress atomic.Bool
}

// NewUpdater は新しいUpdaterを作成する
// restarter が nil の場合は実行ファイル更新後に再起動しない
func NewUpdater(cfg Config, hooks Hooks, restarter system.Restarter) *Updater {
	return &Updater{
		config:    cfg,
		hooks:     hooks,
		restarter: restarter,
	}
}

// InProgress は更新中か判定する
func (u *Updater) InProgress() bool {
	return u.inProgress.Load()
}

// HashPassword はパスワードのbcryptハッシュを生成する
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}
	return string(hash), nil
}

// ParseCommand は文字列を Command に変換する
func ParseCommand(s string) (Command, error) {
	switch c := Command(strings.ToLower(s)); c {
	case CommandFlash, CommandFilesystem:
		return c, nil
	case "":
		return CommandFlash, nil
	default:
		return "", fmt.Errorf("不明な更新コマンド: %q", s)
	}
}

// Update は更新を実行する
func (u *Updater) Update(ctx context.Context, req Request) (Result, error) {
	if !u.inProgress.CompareAndSwap(false, true) {
		return Result{}, ErrInProgress
	}

	if err := u.authenticate(req.Password); err != nil {
		u.inProgress.Store(false)
		return Result{}, u.fail(ErrorAuth, err)
	}

	target, err := u.targetPath(req.Command)
	if err != nil {
		u.inProgress.Store(false)
		return Result{}, u.fail(ErrorBegin, err)
	}

	log.Printf("OTA開始: %s -> %s", req.Command, target)
	if u.hooks.OnStart != nil {
		u.hooks.OnStart(req.Command)
	}

	result, kind, err := u.write(ctx, req, target)
	if err != nil {
		u.inProgress.Store(false)
		return Result{}, u.fail(kind, err)
	}

	log.Printf("OTA完了: %s (%dバイト)", target, result.Bytes)
	if u.hooks.OnEnd != nil {
		u.hooks.OnEnd(req.Command)
	}

	if req.Command == CommandFlash && u.restarter != nil {
		result.Restart = true
		// 再起動できなければ更新を失敗として扱い、次の更新を受け付ける
		system.RestartAfter(u.config.RestartDelay, u.restarter, "OTA更新", func(err error) {
			u.inProgress.Store(false)
			_ = u.fail(ErrorEnd, err)
		})
	} else {
		u.inProgress.Store(false)
	}
	return result, nil
}

func (u *Updater) authenticate(password string) error {
	if u.config.PasswordHash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.config.PasswordHash), []byte(password)); err != nil {
		return errors.New("パスワードが一致しません")
	}
	return nil
}

func (u *Updater) targetPath(cmd Command) (string, error) {
	switch cmd {
	case CommandFlash:
		if u.config.FlashPath != "" {
			return u.config.FlashPath, nil
		}
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("実行ファイルの取得に失敗: %w", err)
		}
		return filepath.EvalSymlinks(exe)
	case CommandFilesystem:
		if u.config.FilesystemPath == "" {
			return "", errors.New("データアーカイブの保存先が設定されていません")
		}
		return u.config.FilesystemPath, nil
	default:
		return "", fmt.Errorf("不明な更新コマンド: %q", cmd)
	}
}

// write は一時ファイルに書き込んでから target に置き換える
func (u *Updater) write(ctx context.Context, req Request, target string) (Result, ErrorKind, error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".ota-*")
	if err != nil {
		return Result{}, ErrorBegin, fmt.Errorf("一時ファイルの作成に失敗: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	hasher := blake3.New()
	progress := &progressWriter{total: req.Size, report: u.hooks.OnProgress}
	dst := io.MultiWriter(tmp, hasher, progress)

	n, err := io.Copy(dst, &contextReader{ctx: ctx, r: req.Body})
	if cerr := tmp.Close(); err == nil && cerr != nil {
		return Result{}, ErrorEnd, fmt.Errorf("一時ファイルのクローズに失敗: %w", cerr)
	}
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ErrorConnect, fmt.Errorf("接続が中断されました: %w", ctx.Err())
		}
		return Result{}, ErrorReceive, fmt.Errorf("受信に失敗: %w", err)
	}
	if req.Size > 0 && n != req.Size {
		return Result{}, ErrorReceive, fmt.Errorf("受信サイズが不足しています: %d / %d", n, req.Size)
	}
	if n == 0 {
		return Result{}, ErrorReceive, errors.New("受信データが空です")
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	if req.Digest != "" && !strings.EqualFold(req.Digest, digest) {
		return Result{}, ErrorEnd, fmt.Errorf("ダイジェストが一致しません: %s", digest)
	}

	mode := os.FileMode(0o644)
	if req.Command == CommandFlash {
		mode = 0o755
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return Result{}, ErrorEnd, fmt.Errorf("権限の設定に失敗: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return Result{}, ErrorEnd, fmt.Errorf("ファイルの置き換えに失敗: %w", err)
	}
	committed = true

	return Result{
		Command: req.Command,
		Path:    target,
		Bytes:   n,
		Digest:  digest,
	}, "", nil
}

func (u *Updater) fail(kind ErrorKind, err error) error {
	log.Printf("OTAエラー [%s]: %v", kind, err)
	if u.hooks.OnError != nil {
		u.hooks.OnError(kind, err)
	}
	return &Error{Kind: kind, Err: err}
}

// progressWriter は百分率が変化した時だけ進捗を通知する
type progressWriter struct {
	total   int64
	written int64
	last    int64
	report  func(progress, total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.report == nil || p.total <= 0 {
		return len(b), nil
	}

	pct := p.written * 100 / p.total
	if pct != p.last {
		p.last = pct
		p.report(p.written, p.total)
	}
	return len(b), nil
}

// contextReader は ctx が終了すると読み取りを中断する
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
