package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	NanoProviderName = "nano"

	nanoDefaultModel    = "gemini-2.5-flash-image-preview"
	nanoStreamEndpoint  = "https://generativelanguage.googleapis.com/v1beta/models/%s:streamGenerateContent?alt=sse"
	nanoReferencePrompt = "Create a new image based on the reference image."
)

type (
	nanoInlineData struct {
		MimeType string `json:"mimeType,omitempty"`
		Data     string `json:"data,omitempty"`
	}
	nanoFileData struct {
		FileURI  string `json:"fileUri,omitempty"`
		MimeType string `json:"mimeType,omitempty"`
	}
	nanoPart struct {
		Text       string          `json:"text,omitempty"`
		InlineData *nanoInlineData `json:"inlineData,omitempty"`
		FileData   *nanoFileData   `json:"fileData,omitempty"`
	}
	nanoContent struct {
		Role  string     `json:"role,omitempty"`
		Parts []nanoPart `json:"parts"`
	}
	nanoImageConfig struct {
		AspectRatio string `json:"aspectRatio,omitempty"`
		ImageSize   string `json:"imageSize,omitempty"`
	}
	nanoGenerationConfig struct {
		ResponseModalities []string         `json:"responseModalities"`
		ImageConfig        *nanoImageConfig `json:"imageConfig,omitempty"`
	}
	nanoRequest struct {
		Contents         []nanoContent        `json:"contents"`
		GenerationConfig nanoGenerationConfig `json:"generationConfig"`
	}
)

// NanoAdapter talks to Gemini image models through the streaming
// generateContent endpoint. It only generates; other operations are
// reported as unsupported so the orchestrator can fall back.
type NanoAdapter struct {
	media *MediaService
	retry RetryPolicy
}

func NewNanoAdapter(media *MediaService, retry RetryPolicy) *NanoAdapter {
	return &NanoAdapter{media: media, retry: retry}
}

func (a *NanoAdapter) Name() string { return NanoProviderName }

func (a *NanoAdapter) Supports(op Operation) bool {
	return op == OpGenerate
}

func (a *NanoAdapter) Generate(ctx context.Context, params GenerateParams, cred Credential) (*AiResult, error) {
	if strings.TrimSpace(cred.APIKey) == "" {
		return nil, ErrMissingCredential
	}
	model := firstNonEmpty(params.Model, cred.Model, nanoDefaultModel)
	log := providerLogger(ctx, a.Name(), OpGenerate, model)

	prompt := buildPrompt(params.Prompt, params.Style)
	if prompt == "" && len(params.References) == 0 {
		return nil, fmt.Errorf("%w: prompt or reference image required", ErrInvalidParams)
	}
	if prompt == "" {
		prompt = nanoReferencePrompt
	}

	parts := []nanoPart{{Text: prompt}}
	for _, ref := range params.References {
		resolved, err := a.media.ResolveReference(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolve reference: %w", err)
		}
		parts = append(parts, nanoReferencePart(resolved))
	}

	var firstRef string
	if len(params.References) > 0 {
		firstRef = params.References[0]
	}
	resolution := resolveResolution(params.Quality, params.Width, params.Height, a.probe(ctx, firstRef), nil, defaultGenericSize)
	imageConfig := &nanoImageConfig{ImageSize: resolution.Tier}
	if resolution.Tier == "" {
		imageConfig.AspectRatio = nearestAspectRatio(resolution.Size)
	}

	body, err := json.Marshal(nanoRequest{
		Contents: []nanoContent{{Role: "user", Parts: parts}},
		GenerationConfig: nanoGenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
			ImageConfig:        imageConfig,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("nano marshal request: %w", err)
	}

	log.WithFields(logrus.Fields{
		"prompt_preview":  logSnippet(prompt),
		"reference_count": len(params.References),
		"resolution":      resolution.String(),
	}).Info("nano_generate_start")

	targetURL := resolveNanoEndpoint(cred.Endpoint, model)
	var images []string
	err = a.retry.Do(ctx, log, func(ctx context.Context, attempt int) error {
		found, callErr := a.stream(ctx, targetURL, cred.APIKey, body)
		if callErr != nil {
			return callErr
		}
		images = found
		return nil
	})
	if err != nil {
		log.WithError(err).Error("nano_generate_failed")
		return nil, err
	}

	stored := make([]string, 0, len(images))
	for _, img := range images {
		path, err := a.media.SaveResult(ctx, a.Name(), img)
		if err != nil {
			return nil, fmt.Errorf("nano save result: %w", err)
		}
		stored = append(stored, path)
	}
	log.WithField("image_count", len(stored)).Info("nano_generate_done")
	return &AiResult{TaskID: "nano-" + uuid.NewString(), Images: stored}, nil
}

// stream performs one HTTP round trip and returns the collected images.
func (a *NanoAdapter) stream(ctx context.Context, targetURL, apiKey string, body []byte) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("nano create request: %w", err)
	}
	req.Header.Set("x-goog-api-key", apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.media.HTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("nano send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, newUpstreamError(a.Name(), resp.StatusCode, resp.Header, errBody)
	}

	result, err := decodeImageStream(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(result.Images) > 0 {
		return result.Images, nil
	}
	if result.Err != nil {
		return nil, streamErrorToUpstream(a.Name(), result.Err)
	}
	if text := strings.TrimSpace(result.Text); text != "" {
		return nil, fmt.Errorf("%w: model replied with text: %s", ErrNoImage, logSnippet(text))
	}
	return nil, ErrNoImage
}

func streamErrorToUpstream(provider string, envErr *envelopeError) *UpstreamError {
	status := envErr.Code
	if status == 0 && strings.EqualFold(envErr.Status, "RESOURCE_EXHAUSTED") {
		status = http.StatusTooManyRequests
	}
	raw := envErr.Message
	if len(envErr.Details) > 0 {
		raw += " " + string(envErr.Details)
	}
	upErr := &UpstreamError{Provider: provider, StatusCode: status, Body: raw}
	if upErr.RateLimited() {
		upErr.RetryAfter = parseRetryDelay("", raw)
	}
	return upErr
}

func (a *NanoAdapter) probe(ctx context.Context, ref string) func() (Size, error) {
	if ref == "" {
		return nil
	}
	return func() (Size, error) { return a.media.ProbeSize(ctx, ref) }
}

func nanoReferencePart(ref ResolvedReference) nanoPart {
	if ref.URL != "" {
		return nanoPart{FileData: &nanoFileData{FileURI: ref.URL, MimeType: ref.MimeType}}
	}
	_, payload, _ := strings.Cut(ref.DataURL, ",")
	return nanoPart{InlineData: &nanoInlineData{MimeType: ref.MimeType, Data: payload}}
}

// resolveNanoEndpoint accepts a full template containing %s, a gateway base
// URL, or nothing (public Gemini endpoint).
func resolveNanoEndpoint(endpoint, model string) string {
	base := strings.TrimSpace(endpoint)
	if base == "" {
		return fmt.Sprintf(nanoStreamEndpoint, model)
	}
	if strings.Contains(base, "%s") {
		return fmt.Sprintf(base, model)
	}
	base = strings.TrimRight(base, "/")
	return fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", base, model)
}

func buildPrompt(prompt, style string) string {
	prompt = strings.TrimSpace(prompt)
	style = strings.TrimSpace(style)
	if style == "" {
		return prompt
	}
	if prompt == "" {
		return "Style: " + style
	}
	return prompt + "\nStyle: " + style
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

var _ Adapter = (*NanoAdapter)(nil)
