package camera

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Status はカメラの動作状態を表す
type Status string

const (
	StatusInactive Status = "inactive" // カメラは停止中
	StatusActive   Status = "active"   // カメラは動作中
	StatusError    Status = "error"    // カメラでエラーが発生
)

// PixelFormat はセンサーが出力する画素フォーマット
type PixelFormat string

const (
	PixelFormatJPEG      PixelFormat = "jpeg"
	PixelFormatRGB565    PixelFormat = "rgb565"    // リトルエンディアン 2byte/px
	PixelFormatYUV422    PixelFormat = "yuv422"    // YUYV 2byte/px
	PixelFormatGrayscale PixelFormat = "grayscale" // 1byte/px
	PixelFormatRGB888    PixelFormat = "rgb888"    // R,G,B 3byte/px
)

// BytesPerPixel は非圧縮フォーマットの1画素あたりのバイト数を返す
// JPEGの場合は0を返す
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatRGB565, PixelFormatYUV422:
		return 2
	case PixelFormatGrayscale:
		return 1
	case PixelFormatRGB888:
		return 3
	default:
		return 0
	}
}

// Valid はサポートされているフォーマットか判定する
func (f PixelFormat) Valid() bool {
	return f == PixelFormatJPEG || f.BytesPerPixel() > 0
}

// FrameSize はフレームの解像度プリセット
type FrameSize string

const (
	FrameSizeQVGA FrameSize = "qvga" // 320x240
	FrameSizeVGA  FrameSize = "vga"  // 640x480
	FrameSizeSVGA FrameSize = "svga" // 800x600
	FrameSizeXGA  FrameSize = "xga"  // 1024x768
	FrameSizeHD   FrameSize = "hd"   // 1280x720
	FrameSizeSXGA FrameSize = "sxga" // 1280x1024
	FrameSizeUXGA FrameSize = "uxga" // 1600x1200
)

var frameSizes = map[FrameSize]Resolution{
	FrameSizeQVGA: {Width: 320, Height: 240},
	FrameSizeVGA:  {Width: 640, Height: 480},
	FrameSizeSVGA: {Width: 800, Height: 600},
	FrameSizeXGA:  {Width: 1024, Height: 768},
	FrameSizeHD:   {Width: 1280, Height: 720},
	FrameSizeSXGA: {Width: 1280, Height: 1024},
	FrameSizeUXGA: {Width: 1600, Height: 1200},
}

// Resolution はカメラの解像度を表す
type Resolution struct {
	Width  int // 幅
	Height int // 高さ
}

// Resolution はプリセットの解像度を返す
func (s FrameSize) Resolution() (Resolution, bool) {
	r, ok := frameSizes[FrameSize(strings.ToLower(string(s)))]
	return r, ok
}

// GrabMode はバッファが満杯の時の動作
type GrabMode string

const (
	GrabWhenEmpty GrabMode = "when_empty" // 空きバッファがある時だけ書き込む
	GrabLatest    GrabMode = "latest"     // 満杯なら最も古いフレームを再利用する
)

// Frame はプールが管理する1枚分のフレームバッファ
type Frame struct {
	Data      []byte      // 画像データ
	Width     int         // 幅
	Height    int         // 高さ
	Format    PixelFormat // 画素フォーマット
	Timestamp time.Time   // 取得時刻
	Sequence  uint64      // キャプチャ通番

	pool *FramePool
	held atomic.Bool // 利用者（消費側か書き込み中の生産側）が保持している
}

// IsJPEG はフレームがJPEG済みか判定する
func (f *Frame) IsJPEG() bool {
	return f.Format == PixelFormatJPEG
}

// SetData はバッファの容量を再利用してデータを書き込む
func (f *Frame) SetData(b []byte) {
	f.Data = append(f.Data[:0], b...)
}

// SensorSettings はセンサーの画質設定
type SensorSettings struct {
	FrameSize     FrameSize `json:"frame_size"`
	Quality       int       `json:"quality"`        // JPEG品質 0-63（小さいほど高画質）
	Brightness    int       `json:"brightness"`     // -2..2
	Contrast      int       `json:"contrast"`       // -2..2
	Saturation    int       `json:"saturation"`     // -2..2
	VFlip         bool      `json:"vflip"`          // 上下反転
	HMirror       bool      `json:"hmirror"`        // 左右反転
	SpecialEffect int       `json:"special_effect"` // 0:なし 1:ネガ 2:グレー 3:赤 4:緑 5:青 6:セピア
}

// Validate は設定値の妥当性を検証する
func (s SensorSettings) Validate() error {
	if _, ok := s.FrameSize.Resolution(); !ok {
		return fmt.Errorf("無効なフレームサイズ: %q", s.FrameSize)
	}
	if s.Quality < 0 || s.Quality > 63 {
		return fmt.Errorf("無効なJPEG品質: %d", s.Quality)
	}
	for name, v := range map[string]int{"brightness": s.Brightness, "contrast": s.Contrast, "saturation": s.Saturation} {
		if v < -2 || v > 2 {
			return fmt.Errorf("無効な%s: %d", name, v)
		}
	}
	if s.SpecialEffect < 0 || s.SpecialEffect > 6 {
		return fmt.Errorf("無効なエフェクト: %d", s.SpecialEffect)
	}
	return nil
}

// Config はカメラドライバの設定
type Config struct {
	Device      string      `yaml:"device"`       // デバイスパス（"pattern" でテストパターン）
	PixelFormat PixelFormat `yaml:"pixel_format"` // 画素フォーマット
	FrameSize   FrameSize   `yaml:"frame_size"`   // 解像度
	JPEGQuality int         `yaml:"jpeg_quality"` // JPEG品質 0-63
	FBCount     int         `yaml:"fb_count"`     // フレームバッファ数
	GrabMode    GrabMode    `yaml:"grab_mode"`    // 取得モード
	FPS         int         `yaml:"fps"`          // フレームレート
}

// DefaultConfig はメモリ量に応じたデフォルト設定を返す
// largeMemory の場合は SVGA / 品質12 / バッファ2枚、それ以外は VGA / 品質15 / バッファ1枚
func DefaultConfig(largeMemory bool) Config {
	cfg := Config{
		Device:      "/dev/video0",
		PixelFormat: PixelFormatJPEG,
		GrabMode:    GrabWhenEmpty,
		FPS:         15,
	}
	if largeMemory {
		cfg.FrameSize = FrameSizeSVGA
		cfg.JPEGQuality = 12
		cfg.FBCount = 2
	} else {
		cfg.FrameSize = FrameSizeVGA
		cfg.JPEGQuality = 15
		cfg.FBCount = 1
	}
	return cfg
}

// Validate は設定の妥当性を検証する
func (c Config) Validate() error {
	if c.Device == "" {
		return errors.New("カメラデバイスが指定されていません")
	}
	if !c.PixelFormat.Valid() {
		return fmt.Errorf("無効な画素フォーマット: %q", c.PixelFormat)
	}
	if _, ok := c.FrameSize.Resolution(); !ok {
		return fmt.Errorf("無効なフレームサイズ: %q", c.FrameSize)
	}
	if c.JPEGQuality < 0 || c.JPEGQuality > 63 {
		return fmt.Errorf("無効なJPEG品質: %d", c.JPEGQuality)
	}
	if c.FBCount < 1 {
		return fmt.Errorf("無効なバッファ数: %d", c.FBCount)
	}
	if c.GrabMode != GrabWhenEmpty && c.GrabMode != GrabLatest {
		return fmt.Errorf("無効な取得モード: %q", c.GrabMode)
	}
	if c.FPS <= 0 || c.FPS > 60 {
		return fmt.Errorf("無効なFPS値: %d", c.FPS)
	}
	return nil
}

// DefaultSensorSettings は初期化直後に適用するセンサー設定を返す
func (c Config) DefaultSensorSettings() SensorSettings {
	return SensorSettings{
		FrameSize: c.FrameSize,
		Quality:   c.JPEGQuality,
	}
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device  string   // デバイスパス
	Name    string   // デバイス名
	Driver  string   // ドライバー名
	Formats []string // サポートされるフォーマット
}
