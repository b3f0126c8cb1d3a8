package llm

import (
	"errors"
	"testing"
)

func TestCorrectDreamSize(t *testing.T) {
	tests := []struct {
		name string
		in   Size
		want Size
	}{
		{name: "in range untouched", in: Size{2048, 2048}, want: Size{2048, 2048}},
		{name: "odd in range untouched", in: Size{1500, 1000}, want: Size{1500, 1000}},
		{name: "small square snaps", in: Size{512, 512}, want: Size{2048, 2048}},
		{name: "small 16:9 snaps", in: Size{640, 360}, want: Size{2560, 1440}},
		{name: "huge square snaps", in: Size{8192, 8192}, want: Size{2048, 2048}},
		{name: "invalid falls back", in: Size{0, 100}, want: defaultDreamSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CorrectDreamSize(tt.in)
			if got != tt.want {
				t.Fatalf("CorrectDreamSize(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCorrectDreamSizeIdempotentAndInRange(t *testing.T) {
	inputs := []Size{
		{100, 100}, {300, 7000}, {7000, 300}, {10000, 100}, {100, 10000},
		{5000, 5000}, {1280, 720}, {4096, 4096}, {333, 777}, {20000, 9000},
	}
	for _, in := range inputs {
		once := CorrectDreamSize(in)
		if !dreamSizeInRange(once) {
			t.Fatalf("CorrectDreamSize(%v) = %v is out of range", in, once)
		}
		twice := CorrectDreamSize(once)
		if once != twice {
			t.Fatalf("correction not idempotent for %v: %v then %v", in, once, twice)
		}
	}
}

func TestResolveResolutionPriority(t *testing.T) {
	probed := func() (Size, error) { return Size{800, 600}, nil }
	failing := func() (Size, error) { return Size{}, errors.New("boom") }
	identity := func(s Size) Size { return s }

	tests := []struct {
		name    string
		quality string
		w, h    int
		probe   func() (Size, error)
		want    Resolution
	}{
		{name: "tier wins", quality: "4k", w: 100, h: 100, probe: probed, want: Resolution{Tier: "4K"}},
		{name: "explicit size", w: 1024, h: 768, probe: probed, want: Resolution{Size: Size{1024, 768}}},
		{name: "probed reference", probe: probed, want: Resolution{Size: Size{800, 600}}},
		{name: "probe failure falls back", probe: failing, want: Resolution{Size: defaultGenericSize}},
		{name: "nothing given", want: Resolution{Size: defaultGenericSize}},
		{name: "unknown tier ignored", quality: "8K", want: Resolution{Size: defaultGenericSize}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveResolution(tt.quality, tt.w, tt.h, tt.probe, identity, defaultGenericSize)
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNearestAspectRatio(t *testing.T) {
	tests := map[Size]string{
		{1024, 1024}: "1:1",
		{1920, 1080}: "16:9",
		{1080, 1920}: "9:16",
		{1200, 900}:  "4:3",
		{3000, 1280}: "21:9",
	}
	for in, want := range tests {
		if got := nearestAspectRatio(in); got != want {
			t.Errorf("nearestAspectRatio(%v) = %s, want %s", in, got, want)
		}
	}
}
