// Package encode turns captured images and structured data sets into the
// bytes of each export format.
package encode

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
)

// PNG encodes img as PNG.
func PNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// JPEG encodes img as JPEG. Quality is a fraction in (0,1]; transparency is
// flattened onto a white background first since JPEG has no alpha channel.
func JPEG(img image.Image, quality float64) ([]byte, error) {
	if quality <= 0 || quality > 1 {
		quality = 0.9
	}

	var buf bytes.Buffer
	opts := &jpeg.Options{Quality: int(quality * 100)}
	if err := jpeg.Encode(&buf, flatten(img), opts); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func flatten(img image.Image) image.Image {
	bg := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), color.White)
	return imaging.OverlayCenter(bg, img, 1.0)
}
