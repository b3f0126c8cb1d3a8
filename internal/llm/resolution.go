package llm

import (
	"fmt"
	"math"
	"strings"
)

// Seedream size constraints: total pixels in [1280x720, 4096x4096] and
// aspect ratio in [1/16, 16].
const (
	dreamMinPixels = 1280 * 720
	dreamMaxPixels = 4096 * 4096
	dreamMaxRatio  = 16
)

// Size is a pixel resolution.
type Size struct {
	Width  int
	Height int
}

func (s Size) Valid() bool { return s.Width > 0 && s.Height > 0 }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

var (
	defaultDreamSize   = Size{Width: 2048, Height: 2048}
	defaultGenericSize = Size{Width: 1024, Height: 1024}
)

// recommended sizes published for Seedream, keyed by aspect ratio.
var dreamRecommendedSizes = []struct {
	ratio string
	size  Size
}{
	{"1:1", Size{2048, 2048}},
	{"4:3", Size{2304, 1728}},
	{"3:4", Size{1728, 2304}},
	{"16:9", Size{2560, 1440}},
	{"9:16", Size{1440, 2560}},
	{"3:2", Size{2496, 1664}},
	{"2:3", Size{1664, 2496}},
	{"21:9", Size{3024, 1296}},
}

// Resolution is either a named quality tier or explicit pixels.
type Resolution struct {
	Tier string
	Size Size
}

func (r Resolution) String() string {
	if r.Tier != "" {
		return r.Tier
	}
	return r.Size.String()
}

// normalizeQualityTier returns "1K", "2K", "4K" or "".
func normalizeQualityTier(quality string) string {
	switch strings.ToUpper(strings.TrimSpace(quality)) {
	case "1K":
		return "1K"
	case "2K":
		return "2K"
	case "4K":
		return "4K"
	default:
		return ""
	}
}

// resolveResolution picks the target resolution: quality tier first, then
// explicit dimensions run through correct, then the probed reference size,
// then fallback.
func resolveResolution(quality string, width, height int, probe func() (Size, error), correct func(Size) Size, fallback Size) Resolution {
	if tier := normalizeQualityTier(quality); tier != "" {
		return Resolution{Tier: tier}
	}
	if correct == nil {
		correct = func(s Size) Size { return s }
	}
	if width > 0 && height > 0 {
		return Resolution{Size: correct(Size{Width: width, Height: height})}
	}
	if probe != nil {
		if size, err := probe(); err == nil && size.Valid() {
			return Resolution{Size: correct(size)}
		}
	}
	return Resolution{Size: fallback}
}

// CorrectDreamSize forces a size into Seedream's accepted range. In-range
// sizes are returned untouched, so applying it twice equals applying it once.
// Corrected sizes whose aspect ratio exactly matches a recommended ratio are
// snapped to that recommended size.
func CorrectDreamSize(s Size) Size {
	if !s.Valid() {
		return defaultDreamSize
	}
	if dreamSizeInRange(s) {
		return s
	}

	w, h := s.Width, s.Height
	// clamp the aspect ratio by growing the short side
	if w > dreamMaxRatio*h {
		h = ceilDiv(w, dreamMaxRatio)
	} else if h > dreamMaxRatio*w {
		w = ceilDiv(h, dreamMaxRatio)
	}

	pixels := float64(w) * float64(h)
	switch {
	case pixels < dreamMinPixels:
		scale := math.Sqrt(dreamMinPixels / pixels)
		w = int(math.Ceil(float64(w) * scale))
		h = int(math.Ceil(float64(h) * scale))
	case pixels > dreamMaxPixels:
		scale := math.Sqrt(dreamMaxPixels / pixels)
		w = int(math.Floor(float64(w) * scale))
		h = int(math.Floor(float64(h) * scale))
	}

	// flooring can push an extreme ratio just past the bound
	if w > dreamMaxRatio*h {
		w = dreamMaxRatio * h
	} else if h > dreamMaxRatio*w {
		h = dreamMaxRatio * w
	}

	corrected := Size{Width: w, Height: h}
	if snapped, ok := snapRecommended(corrected); ok {
		return snapped
	}
	return corrected
}

func dreamSizeInRange(s Size) bool {
	pixels := s.Width * s.Height
	if pixels < dreamMinPixels || pixels > dreamMaxPixels {
		return false
	}
	return s.Width <= dreamMaxRatio*s.Height && s.Height <= dreamMaxRatio*s.Width
}

func snapRecommended(s Size) (Size, bool) {
	for _, rec := range dreamRecommendedSizes {
		if s.Width*rec.size.Height == s.Height*rec.size.Width {
			return rec.size, true
		}
	}
	return Size{}, false
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Aspect ratios accepted by the Gemini image config.
var geminiAspectRatios = []struct {
	label string
	value float64
}{
	{"1:1", 1},
	{"2:3", 2.0 / 3.0},
	{"3:2", 3.0 / 2.0},
	{"3:4", 3.0 / 4.0},
	{"4:3", 4.0 / 3.0},
	{"4:5", 4.0 / 5.0},
	{"5:4", 5.0 / 4.0},
	{"9:16", 9.0 / 16.0},
	{"16:9", 16.0 / 9.0},
	{"21:9", 21.0 / 9.0},
}

// nearestAspectRatio maps pixel dimensions onto the closest supported label,
// comparing in log space so 1:2 and 2:1 are equally far from 1:1.
func nearestAspectRatio(s Size) string {
	if !s.Valid() {
		return "1:1"
	}
	target := math.Log(float64(s.Width) / float64(s.Height))
	best := geminiAspectRatios[0].label
	bestDist := math.Inf(1)
	for _, candidate := range geminiAspectRatios {
		dist := math.Abs(math.Log(candidate.value) - target)
		if dist < bestDist {
			best = candidate.label
			bestDist = dist
		}
	}
	return best
}
