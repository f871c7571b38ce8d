package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"go.uber.org/multierr"
	"golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DefaultQuality is the JPEG/WebP quality used when none is configured
const DefaultQuality = 95

// Processor handles image processing operations
type Processor struct{}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{}
}

// LoadImage loads an image from a file path, applying the EXIF orientation
// so pixel coordinates match what a viewer shows.
func (p *Processor) LoadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}
	if !strings.EqualFold(filepath.Ext(path), ".webp") {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	// Fallback: explicit WebP decode
	f, ferr := os.Open(path)
	if ferr != nil {
		return nil, ferr
	}
	defer f.Close()
	if img, werr := webp.Decode(f); werr == nil {
		return img, nil
	}
	return nil, fmt.Errorf("decode %s: %w", path, err)
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}
	if quality <= 0 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// SaveImage writes img to path in the format given by the file extension.
// Unknown extensions are written as JPEG.
func (p *Processor) SaveImage(img image.Image, path string, quality int) error {
	if quality <= 0 {
		quality = DefaultQuality
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".webp":
		return writeFile(path, func(f *os.File) error {
			return webp.Encode(f, img, &webp.Options{Quality: float32(quality)})
		})
	case ".bmp":
		return writeFile(path, func(f *os.File) error {
			return bmp.Encode(f, img)
		})
	case ".png":
		return imaging.Save(img, path)
	case ".jpg", ".jpeg":
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	default:
		return writeFile(path, func(f *os.File) error {
			return jpeg.Encode(f, img, &jpeg.Options{Quality: quality})
		})
	}
}

func writeFile(path string, encode func(f *os.File) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	return encode(f)
}
