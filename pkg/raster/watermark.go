// Package raster applies pixel-level post-processing to captured chart
// images.
package raster

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	watermarkMargin  = 12
	watermarkOpacity = 0.45
)

// Watermark returns a copy of img with text drawn near the bottom-right
// corner. The input image is never modified.
func Watermark(img image.Image, text string) image.Image {
	if text == "" {
		return imaging.Clone(img)
	}

	face := basicfont.Face7x13
	textW := font.MeasureString(face, text).Ceil()
	textH := face.Metrics().Height.Ceil()

	layer := image.NewRGBA(image.Rect(0, 0, textW+4, textH+4))
	d := &font.Drawer{
		Dst:  layer,
		Src:  image.NewUniform(color.RGBA{60, 60, 60, 255}),
		Face: face,
		Dot:  fixed.P(2, 2+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)

	out := imaging.Clone(img)
	b := out.Bounds()
	pos := image.Pt(
		b.Dx()-layer.Bounds().Dx()-watermarkMargin,
		b.Dy()-layer.Bounds().Dy()-watermarkMargin,
	)
	if pos.X < 0 {
		pos.X = 0
	}
	if pos.Y < 0 {
		pos.Y = 0
	}
	return imaging.Overlay(out, layer, pos, watermarkOpacity)
}
