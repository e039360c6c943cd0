// Package imagecodec decodes uploaded photos and re-encodes them as RGB JPEG.
package imagecodec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register GIF decoder
	"image/jpeg"
	_ "image/png" // register PNG decoder

	_ "golang.org/x/image/bmp" // register BMP decoder
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 92

// DefaultMaxPixels bounds the decoded size of an image when Options.MaxPixels
// is zero. Decoding allocates width*height*4 bytes or more.
const DefaultMaxPixels = 50_000_000

// ErrUnsupportedImage is returned for data that no registered decoder accepts.
var ErrUnsupportedImage = errors.New("unsupported or corrupt image")

// Options controls JPEG normalization.
type Options struct {
	// MaxDimension bounds the longer edge; zero keeps the original size.
	MaxDimension int
	Quality      int
	// MaxPixels rejects images with more pixels before they are decoded;
	// zero means DefaultMaxPixels.
	MaxPixels int
}

// Config describes an image without decoding its pixels.
type Config struct {
	Format string
	Width  int
	Height int
}

// DecodeConfig reads the format and dimensions of data.
func DecodeConfig(data []byte) (Config, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Config{}, fmt.Errorf("%w: empty image", ErrUnsupportedImage)
	}
	return Config{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// Decode decodes data using any registered format.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return img, format, nil
}

// ToJPEG flattens img onto a white background, scales it down to fit
// MaxDimension and encodes it as JPEG.
func ToJPEG(img image.Image, opts Options) ([]byte, error) {
	bounds := img.Bounds()
	width, height := fitWithin(bounds.Dx(), bounds.Dy(), opts.MaxDimension)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)
	if width == bounds.Dx() && height == bounds.Dy() {
		xdraw.Draw(dst, dst.Bounds(), img, bounds.Min, xdraw.Over)
	} else {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
	}

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// CheckPixels returns ErrUnsupportedImage when cfg exceeds maxPixels
// (DefaultMaxPixels when zero).
func CheckPixels(cfg Config, maxPixels int) error {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrUnsupportedImage, cfg.Width, cfg.Height, maxPixels)
	}
	return nil
}

// NormalizeJPEG decodes data and re-encodes it with ToJPEG. The header is
// checked against opts.MaxPixels before any pixel data is decoded.
func NormalizeJPEG(data []byte, opts Options) ([]byte, Config, error) {
	cfg, err := DecodeConfig(data)
	if err != nil {
		return nil, Config{}, err
	}
	if err := CheckPixels(cfg, opts.MaxPixels); err != nil {
		return nil, Config{}, err
	}

	img, format, err := Decode(data)
	if err != nil {
		return nil, Config{}, err
	}
	out, err := ToJPEG(img, opts)
	if err != nil {
		return nil, Config{}, err
	}
	bounds := img.Bounds()
	return out, Config{Format: format, Width: bounds.Dx(), Height: bounds.Dy()}, nil
}

func fitWithin(width, height, maxDimension int) (int, int) {
	if maxDimension <= 0 || (width <= maxDimension && height <= maxDimension) {
		return width, height
	}
	if width >= height {
		scaled := height * maxDimension / width
		if scaled < 1 {
			scaled = 1
		}
		return maxDimension, scaled
	}
	scaled := width * maxDimension / height
	if scaled < 1 {
		scaled = 1
	}
	return scaled, maxDimension
}
