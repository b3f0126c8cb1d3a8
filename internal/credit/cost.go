package credit

import (
	"strings"

	"imagegate/internal/entity"
	"imagegate/internal/llm"
)

const (
	nanoCreditsPerImage   = 5
	dreamCreditsPerImage  = 1
	dreamCreditsPerImage4 = 2
	dreamFlatCredits      = 1
)

// CostInput carries the request details pricing depends on.
type CostInput struct {
	Quality    string
	ImageCount int
}

// CalcCost returns the credits an operation costs. Unknown providers are
// priced like the primary one.
//
//	nano:  5 per image, any operation
//	dream: generate 1 per image (2 at 4K); upscale/extend/split/layer_split flat 1
func CalcCost(provider string, op llm.Operation, in CostInput) int {
	count := in.ImageCount
	if count < 1 {
		count = 1
	}

	switch strings.ToLower(strings.TrimSpace(provider)) {
	case entity.ProviderNano:
		return nanoCreditsPerImage * count
	default:
		if op != llm.OpGenerate {
			return dreamFlatCredits
		}
		if strings.EqualFold(strings.TrimSpace(in.Quality), "4K") {
			return dreamCreditsPerImage4 * count
		}
		return dreamCreditsPerImage * count
	}
}
