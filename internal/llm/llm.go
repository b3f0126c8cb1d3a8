package llm

import (
	"context"
	"strings"
)

// Operation names one image capability a provider may offer.
type Operation string

const (
	OpGenerate   Operation = "generate"
	OpUpscale    Operation = "upscale"
	OpExtend     Operation = "extend"
	OpSplit      Operation = "split"
	OpLayerSplit Operation = "layer_split"
)

func (o Operation) String() string { return string(o) }

// ParseOperation maps a loose string onto a known Operation.
func ParseOperation(value string) (Operation, bool) {
	switch Operation(strings.ToLower(strings.TrimSpace(value))) {
	case OpGenerate:
		return OpGenerate, true
	case OpUpscale:
		return OpUpscale, true
	case OpExtend:
		return OpExtend, true
	case OpSplit:
		return OpSplit, true
	case OpLayerSplit:
		return OpLayerSplit, true
	default:
		return "", false
	}
}

// Credential is what an adapter needs to reach its vendor.
type Credential struct {
	APIKey   string
	Endpoint string
	Model    string
}

type GenerateParams struct {
	Prompt     string
	Width      int
	Height     int
	Quality    string
	Style      string
	Count      int
	References []string
	Model      string
}

type UpscaleParams struct {
	Reference string
	Scale     int
}

type ExtendParams struct {
	Reference string
	Direction string
	Width     int
	Height    int
	Ratio     string
	Prompt    string
}

type SplitParams struct {
	Reference string
	Count     int
	Direction string
}

type LayerSplitParams struct {
	Reference string
}

// AiResult holds the stored locations of every produced image. An empty
// Images slice is never returned together with a nil error.
type AiResult struct {
	TaskID string
	Images []string
}

// First returns the canonical image of the result.
func (r *AiResult) First() string {
	if r == nil || len(r.Images) == 0 {
		return ""
	}
	return r.Images[0]
}

// Adapter is implemented by every provider. Operations beyond Generate are
// optional; Supports reports which ones are available.
type Adapter interface {
	Name() string
	Supports(op Operation) bool
	Generate(ctx context.Context, params GenerateParams, cred Credential) (*AiResult, error)
}

type Upscaler interface {
	Upscale(ctx context.Context, params UpscaleParams, cred Credential) (*AiResult, error)
}

type Extender interface {
	Extend(ctx context.Context, params ExtendParams, cred Credential) (*AiResult, error)
}

type Splitter interface {
	Split(ctx context.Context, params SplitParams, cred Credential) (*AiResult, error)
}

type LayerSplitter interface {
	LayerSplit(ctx context.Context, params LayerSplitParams, cred Credential) (*AiResult, error)
}

// Upscale dispatches to the adapter or reports the capability as missing.
func Upscale(ctx context.Context, a Adapter, params UpscaleParams, cred Credential) (*AiResult, error) {
	impl, ok := a.(Upscaler)
	if !ok || !a.Supports(OpUpscale) {
		return nil, unsupported(a, OpUpscale)
	}
	return checkResult(impl.Upscale(ctx, params, cred))
}

func Extend(ctx context.Context, a Adapter, params ExtendParams, cred Credential) (*AiResult, error) {
	impl, ok := a.(Extender)
	if !ok || !a.Supports(OpExtend) {
		return nil, unsupported(a, OpExtend)
	}
	return checkResult(impl.Extend(ctx, params, cred))
}

func Split(ctx context.Context, a Adapter, params SplitParams, cred Credential) (*AiResult, error) {
	impl, ok := a.(Splitter)
	if !ok || !a.Supports(OpSplit) {
		return nil, unsupported(a, OpSplit)
	}
	return checkResult(impl.Split(ctx, params, cred))
}

func LayerSplit(ctx context.Context, a Adapter, params LayerSplitParams, cred Credential) (*AiResult, error) {
	impl, ok := a.(LayerSplitter)
	if !ok || !a.Supports(OpLayerSplit) {
		return nil, unsupported(a, OpLayerSplit)
	}
	return checkResult(impl.LayerSplit(ctx, params, cred))
}

func Generate(ctx context.Context, a Adapter, params GenerateParams, cred Credential) (*AiResult, error) {
	if !a.Supports(OpGenerate) {
		return nil, unsupported(a, OpGenerate)
	}
	return checkResult(a.Generate(ctx, params, cred))
}

func checkResult(res *AiResult, err error) (*AiResult, error) {
	if err != nil {
		return nil, err
	}
	if res == nil || len(res.Images) == 0 {
		return nil, ErrNoImage
	}
	return res, nil
}

func unsupported(a Adapter, op Operation) error {
	return &CapabilityError{Provider: a.Name(), Operation: op}
}
