package llm

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// watermarkFile overlays text on the image at path, rewriting it in place.
func watermarkFile(path, text string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	marked, err := applyWatermark(data, text)
	if err != nil {
		return err
	}
	return os.WriteFile(path, marked, 0o644)
}

// applyWatermark draws text in the bottom-right corner. The glyphs are
// rendered at the fixed basicfont size and scaled to about a quarter of
// the image width.
func applyWatermark(data []byte, text string) ([]byte, error) {
	if text == "" {
		return data, nil
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	bounds := src.Bounds()
	canvas := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(canvas, canvas.Bounds(), src, bounds.Min, draw.Src)

	label := renderLabel(text)
	labelW, labelH := label.Bounds().Dx(), label.Bounds().Dy()

	scale := float64(bounds.Dx()) / 4 / float64(labelW)
	if scale < 1 {
		scale = 1
	}
	targetW := int(float64(labelW) * scale)
	targetH := int(float64(labelH) * scale)
	margin := bounds.Dx() / 50
	if targetW+margin > bounds.Dx() || targetH+margin > bounds.Dy() {
		return nil, fmt.Errorf("image %dx%d too small for watermark", bounds.Dx(), bounds.Dy())
	}

	dst := image.Rect(bounds.Dx()-targetW-margin, bounds.Dy()-targetH-margin, bounds.Dx()-margin, bounds.Dy()-margin)
	draw.BiLinear.Scale(canvas, dst, label, label.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: 92})
	default:
		err = png.Encode(&buf, canvas)
	}
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// renderLabel draws the text once with a dark shadow on a transparent tile.
func renderLabel(text string) *image.NRGBA {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil() + 2
	height := face.Metrics().Height.Ceil() + 2
	tile := image.NewNRGBA(image.Rect(0, 0, width, height))

	ascent := face.Metrics().Ascent.Ceil()
	shadow := &font.Drawer{
		Dst:  tile,
		Src:  image.NewUniform(color.NRGBA{0, 0, 0, 140}),
		Face: face,
		Dot:  fixed.P(2, ascent+2),
	}
	shadow.DrawString(text)
	front := &font.Drawer{
		Dst:  tile,
		Src:  image.NewUniform(color.NRGBA{255, 255, 255, 200}),
		Face: face,
		Dot:  fixed.P(1, ascent+1),
	}
	front.DrawString(text)
	return tile
}
