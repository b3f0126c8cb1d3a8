package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	volcModel "github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"
)

//文档:https://www.volcengine.com/docs/82379/1824121

const (
	DreamProviderName = "dream"

	dreamDefaultModel   = "doubao-seedream-4-0-250828"
	dreamUpscalePrompt  = "Upscale this image to a higher resolution. Keep the composition, colors and content identical; sharpen fine details and remove compression artifacts."
	dreamExtendPrompt   = "Seamlessly extend this picture into the blank white area, continuing the scene, lighting and style naturally. Do not alter the existing content."
	dreamDefaultSummary = "Create a new image based on the reference image."
)

// arkImagesFunc performs one Seedream request and returns the image
// locations (URLs or data URLs) the vendor produced.
type arkImagesFunc func(ctx context.Context, cred Credential, req volcModel.GenerateImagesRequest) ([]string, error)

// DreamAdapter is the primary provider backed by Volcengine Ark Seedream.
// Split is local image geometry; layer split goes through a separate
// decomposition endpoint when one is configured.
type DreamAdapter struct {
	media  *MediaService
	retry  RetryPolicy
	layers *LayerClient
	call   arkImagesFunc
}

func NewDreamAdapter(media *MediaService, retry RetryPolicy, layers *LayerClient) *DreamAdapter {
	a := &DreamAdapter{media: media, retry: retry, layers: layers}
	a.call = a.callArk
	return a
}

func (a *DreamAdapter) Name() string { return DreamProviderName }

func (a *DreamAdapter) Supports(op Operation) bool {
	switch op {
	case OpGenerate, OpUpscale, OpExtend, OpSplit:
		return true
	case OpLayerSplit:
		return a.layers != nil
	default:
		return false
	}
}

func (a *DreamAdapter) Generate(ctx context.Context, params GenerateParams, cred Credential) (*AiResult, error) {
	if strings.TrimSpace(cred.APIKey) == "" {
		return nil, ErrMissingCredential
	}
	prompt := buildPrompt(params.Prompt, params.Style)
	if prompt == "" && len(params.References) == 0 {
		return nil, fmt.Errorf("%w: prompt or reference image required", ErrInvalidParams)
	}
	if prompt == "" {
		prompt = dreamDefaultSummary
	}

	refs := make([]string, 0, len(params.References))
	for _, ref := range params.References {
		resolved, err := a.media.ResolveReference(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolve reference: %w", err)
		}
		refs = append(refs, resolved.Value())
	}

	var probe func() (Size, error)
	if len(params.References) > 0 {
		first := params.References[0]
		probe = func() (Size, error) { return a.media.ProbeSize(ctx, first) }
	}
	resolution := resolveResolution(params.Quality, params.Width, params.Height, probe, CorrectDreamSize, defaultDreamSize)

	model := firstNonEmpty(params.Model, cred.Model, dreamDefaultModel)
	return a.run(ctx, OpGenerate, cred, model, prompt, refs, resolution)
}

func (a *DreamAdapter) Upscale(ctx context.Context, params UpscaleParams, cred Credential) (*AiResult, error) {
	if strings.TrimSpace(cred.APIKey) == "" {
		return nil, ErrMissingCredential
	}
	scale := params.Scale
	if scale == 0 {
		scale = 2
	}
	if scale != 2 && scale != 4 {
		return nil, fmt.Errorf("%w: upscale factor must be 2 or 4", ErrInvalidParams)
	}

	src, err := a.media.ProbeSize(ctx, params.Reference)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	ref, err := a.media.ResolveReference(ctx, params.Reference)
	if err != nil {
		return nil, fmt.Errorf("resolve reference: %w", err)
	}
	target := CorrectDreamSize(Size{Width: src.Width * scale, Height: src.Height * scale})
	return a.run(ctx, OpUpscale, cred, firstNonEmpty(cred.Model, dreamDefaultModel), dreamUpscalePrompt, []string{ref.Value()}, Resolution{Size: target})
}

func (a *DreamAdapter) Extend(ctx context.Context, params ExtendParams, cred Credential) (*AiResult, error) {
	if strings.TrimSpace(cred.APIKey) == "" {
		return nil, ErrMissingCredential
	}
	data, _, err := a.media.LoadImage(ctx, params.Reference)
	if err != nil {
		return nil, fmt.Errorf("load reference: %w", err)
	}
	canvas, canvasSize, err := extendCanvas(data, params.Direction, params.Width, params.Height, params.Ratio)
	if err != nil {
		return nil, err
	}

	prompt := dreamExtendPrompt
	if extra := strings.TrimSpace(params.Prompt); extra != "" {
		prompt += " " + extra
	}
	canvasRef := encodeDataURL("image/png", canvas)
	target := CorrectDreamSize(canvasSize)
	return a.run(ctx, OpExtend, cred, firstNonEmpty(cred.Model, dreamDefaultModel), prompt, []string{canvasRef}, Resolution{Size: target})
}

// Split cuts the reference locally; no vendor call is made.
func (a *DreamAdapter) Split(ctx context.Context, params SplitParams, _ Credential) (*AiResult, error) {
	data, _, err := a.media.LoadImage(ctx, params.Reference)
	if err != nil {
		return nil, fmt.Errorf("load reference: %w", err)
	}
	tiles, err := splitImage(data, params.Count, params.Direction)
	if err != nil {
		return nil, err
	}
	stored := make([]string, 0, len(tiles))
	for _, tile := range tiles {
		path, err := a.media.SaveBytes(ctx, a.Name(), tile)
		if err != nil {
			return nil, fmt.Errorf("save tile: %w", err)
		}
		stored = append(stored, path)
	}
	providerLogger(ctx, a.Name(), OpSplit, "").WithField("tile_count", len(stored)).Info("dream_split_done")
	return &AiResult{TaskID: "split-" + uuid.NewString(), Images: stored}, nil
}

func (a *DreamAdapter) LayerSplit(ctx context.Context, params LayerSplitParams, _ Credential) (*AiResult, error) {
	if a.layers == nil {
		return nil, &CapabilityError{Provider: a.Name(), Operation: OpLayerSplit}
	}
	return a.layers.Decompose(ctx, a.Name(), params.Reference)
}

// run sends one Seedream request with retries and stores the results.
func (a *DreamAdapter) run(ctx context.Context, op Operation, cred Credential, model, prompt string, refs []string, resolution Resolution) (*AiResult, error) {
	log := providerLogger(ctx, a.Name(), op, model)
	log.WithFields(logrus.Fields{
		"prompt_preview":  logSnippet(prompt),
		"reference_count": len(refs),
		"size":            resolution.String(),
	}).Info("dream_request_start")

	sequential := volcModel.SequentialImageGeneration("disabled")
	req := volcModel.GenerateImagesRequest{
		Model:                     model,
		Prompt:                    prompt,
		Size:                      volcengine.String(resolution.String()),
		ResponseFormat:            volcengine.String(volcModel.GenerateImagesResponseFormatURL),
		Watermark:                 volcengine.Bool(false),
		SequentialImageGeneration: &sequential,
	}
	if len(refs) > 0 {
		req.Image = refs
	}

	var images []string
	err := a.retry.Do(ctx, log, func(ctx context.Context, attempt int) error {
		found, callErr := a.call(ctx, cred, req)
		if callErr != nil {
			return callErr
		}
		if len(found) == 0 {
			return fmt.Errorf("%w: seedream returned success without image url", ErrNoImage)
		}
		images = found
		return nil
	})
	if err != nil {
		log.WithError(err).Error("dream_request_failed")
		return nil, err
	}

	stored := make([]string, 0, len(images))
	for _, img := range images {
		path, err := a.media.SaveResult(ctx, a.Name(), img)
		if err != nil {
			return nil, fmt.Errorf("dream save result: %w", err)
		}
		stored = append(stored, path)
	}
	log.WithField("image_count", len(stored)).Info("dream_request_done")
	return &AiResult{TaskID: "dream-" + uuid.NewString(), Images: stored}, nil
}

// callArk streams one generation from Ark and gathers every succeeded image.
func (a *DreamAdapter) callArk(ctx context.Context, cred Credential, req volcModel.GenerateImagesRequest) ([]string, error) {
	options := []arkruntime.ConfigOption{arkruntime.WithHTTPClient(a.media.HTTPClient())}
	if endpoint := strings.TrimRight(strings.TrimSpace(cred.Endpoint), "/"); endpoint != "" {
		options = append(options, arkruntime.WithBaseUrl(endpoint))
	}
	client := arkruntime.NewClientWithApiKey(cred.APIKey, options...)

	stream, err := client.GenerateImagesStreaming(ctx, req)
	if err != nil {
		return nil, arkError(err)
	}
	defer stream.Close()

	var (
		images  []string
		lastErr string
	)
	for {
		recv, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if len(images) > 0 {
				break
			}
			return nil, arkError(err)
		}
		switch recv.Type {
		case "image_generation.partial_succeeded":
			if recv.Error == nil && recv.Url != nil && strings.TrimSpace(*recv.Url) != "" {
				images = append(images, strings.TrimSpace(*recv.Url))
			}
		case "image_generation.partial_failed":
			if recv.Error != nil {
				lastErr = recv.Error.Code + ": " + recv.Error.Message
			}
		}
	}
	if len(images) == 0 && lastErr != "" {
		return nil, &UpstreamError{Provider: DreamProviderName, StatusCode: http.StatusOK, Body: lastErr}
	}
	return images, nil
}

var arkStatusPattern = regexp.MustCompile(`status code: (\d{3})`)

// arkError lifts the HTTP status out of SDK errors so the retry policy
// can classify them.
func arkError(err error) error {
	upErr := &UpstreamError{Provider: DreamProviderName, Body: err.Error()}
	if m := arkStatusPattern.FindStringSubmatch(err.Error()); m != nil {
		upErr.StatusCode, _ = strconv.Atoi(m[1])
		if upErr.RateLimited() {
			upErr.RetryAfter = parseRetryDelay("", err.Error())
		}
		return upErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s request: %w", DreamProviderName, err)
}

var (
	_ Adapter       = (*DreamAdapter)(nil)
	_ Upscaler      = (*DreamAdapter)(nil)
	_ Extender      = (*DreamAdapter)(nil)
	_ Splitter      = (*DreamAdapter)(nil)
	_ LayerSplitter = (*DreamAdapter)(nil)
)
