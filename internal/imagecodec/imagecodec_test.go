package imagecodec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
)

func encodePNG(t *testing.T, width, height int, fill color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestNormalizeJPEGConvertsPNG(t *testing.T) {
	data := encodePNG(t, 40, 20, color.NRGBA{R: 200, G: 10, B: 10, A: 255})

	out, cfg, err := NormalizeJPEG(data, Options{})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if cfg.Format != "png" || cfg.Width != 40 || cfg.Height != 20 {
		t.Fatalf("unexpected source config: %+v", cfg)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not a jpeg: %v", err)
	}
	if decoded.Bounds().Dx() != 40 || decoded.Bounds().Dy() != 20 {
		t.Fatalf("unexpected output size: %v", decoded.Bounds())
	}
}

func TestToJPEGFlattensTransparencyOnWhite(t *testing.T) {
	data := encodePNG(t, 8, 8, color.NRGBA{A: 0})

	out, _, err := NormalizeJPEG(data, Options{})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not a jpeg: %v", err)
	}
	r, g, b, _ := decoded.At(4, 4).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Fatalf("expected white background, got %d/%d/%d", r>>8, g>>8, b>>8)
	}
}

func TestToJPEGBoundsLongEdge(t *testing.T) {
	data := encodePNG(t, 300, 100, color.NRGBA{G: 255, A: 255})

	out, _, err := NormalizeJPEG(data, Options{MaxDimension: 150})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	cfg, err := DecodeConfig(out)
	if err != nil {
		t.Fatalf("failed to read output config: %v", err)
	}
	if cfg.Width != 150 || cfg.Height != 50 {
		t.Fatalf("expected 150x50, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, _, err := Decode([]byte("definitely not an image")); !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("expected ErrUnsupportedImage, got %v", err)
	}
	if _, err := DecodeConfig(nil); !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("expected ErrUnsupportedImage, got %v", err)
	}
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		w, h, limit  int
		wantW, wantH int
	}{
		{100, 50, 0, 100, 50},
		{100, 50, 200, 100, 50},
		{400, 200, 100, 100, 50},
		{200, 400, 100, 50, 100},
		{1000, 1, 10, 10, 1},
	}
	for _, tt := range tests {
		w, h := fitWithin(tt.w, tt.h, tt.limit)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("fitWithin(%d, %d, %d) = %dx%d, want %dx%d", tt.w, tt.h, tt.limit, w, h, tt.wantW, tt.wantH)
		}
	}
}

// pngHeaderOnly builds a grayscale PNG that declares width x height but
// carries almost no pixel data.
func pngHeaderOnly(t *testing.T, width, height uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	writeChunk := func(kind string, data []byte) {
		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(len(data)))
		buf.Write(length[:])
		buf.WriteString(kind)
		buf.Write(data)
		var sum [4]byte
		binary.BigEndian.PutUint32(sum[:], crc32.ChecksumIEEE(append([]byte(kind), data...)))
		buf.Write(sum[:])
	}

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 0 // grayscale
	writeChunk("IHDR", ihdr)
	writeChunk("IDAT", []byte{0x78, 0x9c, 0x03, 0x00, 0x00, 0x00, 0x00, 0x01})
	writeChunk("IEND", nil)
	return buf.Bytes()
}

func TestNormalizeJPEGRejectsOversizedHeaderBeforeDecoding(t *testing.T) {
	data := pngHeaderOnly(t, 20000, 20000)

	cfg, err := DecodeConfig(data)
	if err != nil {
		t.Fatalf("expected crafted header to be readable, got %v", err)
	}
	if cfg.Width != 20000 || cfg.Height != 20000 {
		t.Fatalf("unexpected header size %dx%d", cfg.Width, cfg.Height)
	}

	_, _, err = NormalizeJPEG(data, Options{})
	if !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("expected ErrUnsupportedImage, got %v", err)
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected pixel budget error, got %v", err)
	}
}

func TestNormalizeJPEGHonorsMaxPixels(t *testing.T) {
	data := encodePNG(t, 40, 20, color.NRGBA{B: 255, A: 255})

	if _, _, err := NormalizeJPEG(data, Options{MaxPixels: 799}); !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("expected 40x20 to exceed 799 pixels, got %v", err)
	}
	if _, _, err := NormalizeJPEG(data, Options{MaxPixels: 800}); err != nil {
		t.Fatalf("expected 40x20 to fit 800 pixels, got %v", err)
	}
}

func TestCheckPixelsDefaultBudget(t *testing.T) {
	if err := CheckPixels(Config{Width: 5000, Height: 10000}, 0); err != nil {
		t.Fatalf("expected 50 MP to fit the default budget, got %v", err)
	}
	if err := CheckPixels(Config{Width: 5001, Height: 10000}, 0); !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("expected ErrUnsupportedImage above the default budget, got %v", err)
	}
}
