package camera

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNextJPEG(t *testing.T) {
	var pending bytes.Buffer
	pending.Write([]byte{0x00, 0x11})                         // ゴミ
	pending.Write([]byte{0xFF, 0xD8, 0xAA, 0xBB, 0xFF, 0xD9}) // 1枚目
	pending.Write([]byte{0xFF, 0xD8, 0xCC})                   // 2枚目（途中）

	frame, ok := nextJPEG(&pending)
	if !ok {
		t.Fatal("1枚目が取り出せません")
	}
	if !bytes.Equal(frame, []byte{0xFF, 0xD8, 0xAA, 0xBB, 0xFF, 0xD9}) {
		t.Errorf("1枚目が一致しません: % x", frame)
	}

	if _, ok := nextJPEG(&pending); ok {
		t.Fatal("不完全なフレームが取り出されました")
	}

	pending.Write([]byte{0xFF, 0xD9})
	frame, ok = nextJPEG(&pending)
	if !ok || !bytes.Equal(frame, []byte{0xFF, 0xD8, 0xCC, 0xFF, 0xD9}) {
		t.Errorf("2枚目が一致しません: % x", frame)
	}
	if pending.Len() != 0 {
		t.Errorf("バッファが残っています: %d", pending.Len())
	}
}

func TestNextJPEG_KeepsTrailingMarkerByte(t *testing.T) {
	var pending bytes.Buffer
	pending.Write([]byte{0x01, 0x02, 0xFF})

	if _, ok := nextJPEG(&pending); ok {
		t.Fatal("フレームがないはずです")
	}
	if !bytes.Equal(pending.Bytes(), []byte{0xFF}) {
		t.Errorf("末尾の0xFFが保持されていません: % x", pending.Bytes())
	}

	pending.Write([]byte{0xD8, 0x10, 0xFF, 0xD9})
	frame, ok := nextJPEG(&pending)
	if !ok || !bytes.Equal(frame, []byte{0xFF, 0xD8, 0x10, 0xFF, 0xD9}) {
		t.Errorf("分割されたマーカーから復元できません: % x", frame)
	}
}

func TestSplitJPEGStream(t *testing.T) {
	stream := []byte{
		0xFF, 0xD8, 0x01, 0xFF, 0xD9,
		0xFF, 0xD8, 0x02, 0x03, 0xFF, 0xD9,
	}
	out := make(chan []byte, 4)

	if err := splitJPEGStream(context.Background(), bytes.NewReader(stream), out); err != nil {
		t.Fatalf("splitJPEGStream failed: %v", err)
	}
	close(out)

	var frames [][]byte
	for f := range out {
		frames = append(frames, f)
	}
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if len(frames[1]) != 6 {
		t.Errorf("2枚目の長さが一致しません: %d", len(frames[1]))
	}
}

func TestReadRawFrames(t *testing.T) {
	out := make(chan []byte, 4)
	data := strings.Repeat("abcd", 3) + "ab" // 3枚 + 端数

	err := readRawFrames(context.Background(), strings.NewReader(data), 4, out)
	if err == nil {
		t.Fatal("端数でエラーが期待されました")
	}
	close(out)

	count := 0
	for f := range out {
		if string(f) != "abcd" {
			t.Errorf("フレーム内容が一致しません: %q", f)
		}
		count++
	}
	if count != 3 {
		t.Errorf("Expected 3 frames, got %d", count)
	}
}

func TestFFmpegArgs(t *testing.T) {
	cfg := DefaultConfig(true)
	res, _ := cfg.FrameSize.Resolution()

	args := strings.Join(ffmpegArgs("/dev/video0", cfg, res, cfg.JPEGQuality), " ")
	for _, want := range []string{"-video_size 800x600", "-i /dev/video0", "-c:v mjpeg", "-r 15"} {
		if !strings.Contains(args, want) {
			t.Errorf("引数に %q が含まれていません: %s", want, args)
		}
	}

	cfg.PixelFormat = PixelFormatYUV422
	args = strings.Join(ffmpegArgs("/dev/video0", cfg, res, cfg.JPEGQuality), " ")
	if !strings.Contains(args, "-pix_fmt yuyv422") {
		t.Errorf("rawvideo引数が一致しません: %s", args)
	}
}
