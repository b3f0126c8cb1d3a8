package llm

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"strconv"
	"strings"
)

const (
	SplitHorizontal = "horizontal"
	SplitVertical   = "vertical"

	ExtendTop    = "top"
	ExtendBottom = "bottom"
	ExtendLeft   = "left"
	ExtendRight  = "right"
	ExtendAll    = "all"

	defaultSplitCount = 2
	maxSplitCount     = 9
	defaultExtendGrow = 1.5
)

// normalizeSplit validates split options and fills defaults.
func normalizeSplit(count int, direction string) (int, string, error) {
	if count == 0 {
		count = defaultSplitCount
	}
	if count < 2 || count > maxSplitCount {
		return 0, "", fmt.Errorf("%w: split count must be between 2 and %d", ErrInvalidParams, maxSplitCount)
	}
	direction = strings.ToLower(strings.TrimSpace(direction))
	switch direction {
	case "":
		direction = SplitHorizontal
	case SplitHorizontal, SplitVertical:
	default:
		return 0, "", fmt.Errorf("%w: unknown split direction %q", ErrInvalidParams, direction)
	}
	return count, direction, nil
}

// splitRects cuts bounds into count strips. Horizontal strips sit side by
// side, vertical ones are stacked. The last strip takes the remainder.
func splitRects(bounds image.Rectangle, count int, direction string) []image.Rectangle {
	rects := make([]image.Rectangle, 0, count)
	if direction == SplitVertical {
		step := bounds.Dy() / count
		for i := 0; i < count; i++ {
			y0 := bounds.Min.Y + i*step
			y1 := y0 + step
			if i == count-1 {
				y1 = bounds.Max.Y
			}
			rects = append(rects, image.Rect(bounds.Min.X, y0, bounds.Max.X, y1))
		}
		return rects
	}
	step := bounds.Dx() / count
	for i := 0; i < count; i++ {
		x0 := bounds.Min.X + i*step
		x1 := x0 + step
		if i == count-1 {
			x1 = bounds.Max.X
		}
		rects = append(rects, image.Rect(x0, bounds.Min.Y, x1, bounds.Max.Y))
	}
	return rects
}

// splitImage decodes data and returns each tile PNG-encoded.
func splitImage(data []byte, count int, direction string) ([][]byte, error) {
	count, direction, err := normalizeSplit(count, direction)
	if err != nil {
		return nil, err
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode reference: %v", ErrInvalidParams, err)
	}
	bounds := src.Bounds()
	if (direction == SplitHorizontal && bounds.Dx() < count) || (direction == SplitVertical && bounds.Dy() < count) {
		return nil, fmt.Errorf("%w: image too small to split into %d", ErrInvalidParams, count)
	}

	tiles := make([][]byte, 0, count)
	for _, rect := range splitRects(bounds, count, direction) {
		tile := image.NewNRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
		draw.Draw(tile, tile.Bounds(), src, rect.Min, draw.Src)
		encoded, err := encodePNG(tile)
		if err != nil {
			return nil, err
		}
		tiles = append(tiles, encoded)
	}
	return tiles, nil
}

// extendLayout is the canvas size and where the original lands on it.
type extendLayout struct {
	Canvas Size
	Offset image.Point
}

// planExtend sizes the canvas from explicit dimensions, then an aspect
// ratio, then a fixed growth factor along the requested direction.
func planExtend(src Size, direction string, width, height int, ratio string) (extendLayout, error) {
	direction = strings.ToLower(strings.TrimSpace(direction))
	switch direction {
	case ExtendTop, ExtendBottom, ExtendLeft, ExtendRight, ExtendAll:
	default:
		return extendLayout{}, fmt.Errorf("%w: unknown extend direction %q", ErrInvalidParams, direction)
	}
	horizontal := direction == ExtendLeft || direction == ExtendRight || direction == ExtendAll
	vertical := direction == ExtendTop || direction == ExtendBottom || direction == ExtendAll

	canvas := src
	switch {
	case width > 0 || height > 0:
		if horizontal && width > src.Width {
			canvas.Width = width
		}
		if vertical && height > src.Height {
			canvas.Height = height
		}
	case strings.TrimSpace(ratio) != "":
		r, err := parseRatio(ratio)
		if err != nil {
			return extendLayout{}, err
		}
		current := float64(src.Width) / float64(src.Height)
		switch {
		case horizontal && (!vertical || current < r):
			canvas.Width = max(src.Width, int(math.Round(float64(src.Height)*r)))
		case vertical:
			canvas.Height = max(src.Height, int(math.Round(float64(src.Width)/r)))
		}
	default:
		if horizontal {
			canvas.Width = int(math.Round(float64(src.Width) * defaultExtendGrow))
		}
		if vertical {
			canvas.Height = int(math.Round(float64(src.Height) * defaultExtendGrow))
		}
	}
	if canvas == src {
		return extendLayout{}, fmt.Errorf("%w: target size does not extend the image %s", ErrInvalidParams, direction)
	}

	offset := image.Point{X: (canvas.Width - src.Width) / 2, Y: (canvas.Height - src.Height) / 2}
	switch direction {
	case ExtendLeft:
		offset.X = canvas.Width - src.Width
	case ExtendRight:
		offset.X = 0
	case ExtendTop:
		offset.Y = canvas.Height - src.Height
	case ExtendBottom:
		offset.Y = 0
	}
	return extendLayout{Canvas: canvas, Offset: offset}, nil
}

// extendCanvas places the decoded image on a white canvas per layout.
func extendCanvas(data []byte, direction string, width, height int, ratio string) ([]byte, Size, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Size{}, fmt.Errorf("%w: decode reference: %v", ErrInvalidParams, err)
	}
	bounds := src.Bounds()
	layout, err := planExtend(Size{Width: bounds.Dx(), Height: bounds.Dy()}, direction, width, height, ratio)
	if err != nil {
		return nil, Size{}, err
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, layout.Canvas.Width, layout.Canvas.Height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	target := image.Rectangle{Min: layout.Offset, Max: layout.Offset.Add(image.Pt(bounds.Dx(), bounds.Dy()))}
	draw.Draw(canvas, target, src, bounds.Min, draw.Src)

	encoded, err := encodePNG(canvas)
	if err != nil {
		return nil, Size{}, err
	}
	return encoded, layout.Canvas, nil
}

func parseRatio(value string) (float64, error) {
	left, right, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return 0, fmt.Errorf("%w: ratio must look like W:H", ErrInvalidParams)
	}
	w, errW := strconv.ParseFloat(strings.TrimSpace(left), 64)
	h, errH := strconv.ParseFloat(strings.TrimSpace(right), 64)
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, fmt.Errorf("%w: invalid ratio %q", ErrInvalidParams, value)
	}
	return w / h, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
