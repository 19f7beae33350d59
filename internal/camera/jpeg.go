package camera

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
)

// DefaultEncodeQuality はJPEG以外のフレームを変換する際の品質
const DefaultEncodeQuality = 80

// ErrShortFrame はフレームのデータ長が解像度と一致しない場合のエラー
var ErrShortFrame = errors.New("フレームのデータ長が不足しています")

// EncodeJPEG はフレームをJPEGに変換する
// 既にJPEGの場合はデータをそのまま返す
func EncodeJPEG(f *Frame, quality int) ([]byte, error) {
	if f.IsJPEG() {
		return f.Data, nil
	}

	img, err := toImage(f)
	if err != nil {
		return nil, err
	}

	if quality < 1 {
		quality = 1
	} else if quality > 100 {
		quality = 100
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("JPEGエンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// toImage は非圧縮フレームを image.Image に変換する
func toImage(f *Frame) (image.Image, error) {
	bpp := f.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("変換できない画素フォーマット: %q", f.Format)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("無効な解像度: %dx%d", f.Width, f.Height)
	}

	need := f.Width * f.Height * bpp
	if len(f.Data) < need {
		return nil, fmt.Errorf("%w: %d < %d", ErrShortFrame, len(f.Data), need)
	}

	rect := image.Rect(0, 0, f.Width, f.Height)

	switch f.Format {
	case PixelFormatGrayscale:
		img := image.NewGray(rect)
		copy(img.Pix, f.Data[:need])
		return img, nil

	case PixelFormatRGB888:
		img := image.NewRGBA(rect)
		for i, j := 0, 0; i < need; i, j = i+3, j+4 {
			img.Pix[j] = f.Data[i]
			img.Pix[j+1] = f.Data[i+1]
			img.Pix[j+2] = f.Data[i+2]
			img.Pix[j+3] = 0xff
		}
		return img, nil

	case PixelFormatRGB565:
		img := image.NewRGBA(rect)
		for i, j := 0, 0; i < need; i, j = i+2, j+4 {
			c := rgb565(uint16(f.Data[i]) | uint16(f.Data[i+1])<<8)
			img.Pix[j] = c.R
			img.Pix[j+1] = c.G
			img.Pix[j+2] = c.B
			img.Pix[j+3] = 0xff
		}
		return img, nil

	case PixelFormatYUV422:
		if f.Width%2 != 0 {
			return nil, fmt.Errorf("YUV422の幅は偶数である必要があります: %d", f.Width)
		}
		img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio422)
		// YUYV: Y0 U Y1 V
		for y := 0; y < f.Height; y++ {
			row := f.Data[y*f.Width*2:]
			for x := 0; x < f.Width; x += 2 {
				p := row[x*2:]
				img.Y[y*img.YStride+x] = p[0]
				img.Y[y*img.YStride+x+1] = p[2]
				ci := y*img.CStride + x/2
				img.Cb[ci] = p[1]
				img.Cr[ci] = p[3]
			}
		}
		return img, nil
	}

	return nil, fmt.Errorf("変換できない画素フォーマット: %q", f.Format)
}

// rgb565 は16bitの色を8bitずつに展開する
func rgb565(v uint16) color.RGBA {
	r := uint8(v >> 11 & 0x1f)
	g := uint8(v >> 5 & 0x3f)
	b := uint8(v & 0x1f)
	return color.RGBA{
		R: r<<3 | r>>2,
		G: g<<2 | g>>4,
		B: b<<3 | b>>2,
		A: 0xff,
	}
}

// sensorQualityToJPEG はセンサー品質 (0-63, 小さいほど高画質) を image/jpeg の品質 (1-100) に変換する
func sensorQualityToJPEG(q int) int {
	if q < 0 {
		q = 0
	} else if q > 63 {
		q = 63
	}
	return 100 - q*99/63
}
