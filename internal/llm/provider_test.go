package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	volcModel "github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
)

func fastRetry(waits *[]time.Duration) RetryPolicy {
	p := DefaultRetryPolicy()
	p.Jitter = 0
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		if waits != nil {
			*waits = append(*waits, d)
		}
		return nil
	}
	return p
}

func nanoChunk(t *testing.T, data []byte) string {
	t.Helper()
	return fmt.Sprintf("data: {\"candidates\":[{\"content\":{\"parts\":[{\"inlineData\":{\"mimeType\":\"image/png\",\"data\":\"%s\"}}]}}]}\n\n",
		base64.StdEncoding.EncodeToString(data))
}

func TestNanoGenerateRetriesAfterRateLimit(t *testing.T) {
	media, _ := newTestMedia(t, MediaOptions{})
	pngBytes := testPNG(t, 16, 16, color.White)

	var calls int32
	var lastBody nanoRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-goog-api-key"); got != "secret" {
			t.Errorf("unexpected api key header %q", got)
		}
		if !strings.Contains(r.URL.Path, "/v1beta/models/gemini-test:streamGenerateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &lastBody)
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":429,"message":"Resource exhausted","details":[{"retryDelay":"4s"}]}}`))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, nanoChunk(t, pngBytes))
	}))
	defer srv.Close()

	var waits []time.Duration
	adapter := NewNanoAdapter(media, fastRetry(&waits))
	res, err := Generate(context.Background(), adapter, GenerateParams{Prompt: "a cat", Width: 1920, Height: 1080}, Credential{APIKey: "secret", Endpoint: srv.URL, Model: "gemini-test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Images) != 1 || !strings.HasPrefix(res.Images[0], "/uploads/nano/") {
		t.Fatalf("unexpected images %v", res.Images)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if len(waits) != 1 || waits[0] != 4*time.Second {
		t.Fatalf("expected a single 4s wait, got %v", waits)
	}
	if cfg := lastBody.GenerationConfig.ImageConfig; cfg == nil || cfg.AspectRatio != "16:9" || cfg.ImageSize != "" {
		t.Fatalf("unexpected image config %+v", cfg)
	}
}

func TestNanoGenerateNoImageIsNotRetried(t *testing.T) {
	media, _ := newTestMedia(t, MediaOptions{})
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = io.WriteString(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"sorry, text only\"}]}}]}\n\n")
	}))
	defer srv.Close()

	adapter := NewNanoAdapter(media, fastRetry(nil))
	_, err := Generate(context.Background(), adapter, GenerateParams{Prompt: "a cat", Quality: "2K"}, Credential{APIKey: "k", Endpoint: srv.URL})
	if !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
	if !strings.Contains(err.Error(), "sorry, text only") {
		t.Fatalf("expected model text in error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestNanoRequiresCredentialAndReportsCapabilities(t *testing.T) {
	media, _ := newTestMedia(t, MediaOptions{})
	adapter := NewNanoAdapter(media, fastRetry(nil))

	if _, err := Generate(context.Background(), adapter, GenerateParams{Prompt: "x"}, Credential{}); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	_, err := Upscale(context.Background(), adapter, UpscaleParams{Reference: "https://cdn.example.com/a.png"}, Credential{APIKey: "k"})
	var capErr *CapabilityError
	if !errors.As(err, &capErr) || capErr.Operation != OpUpscale || !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected capability error, got %v", err)
	}
}

func TestResolveNanoEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"", "https://generativelanguage.googleapis.com/v1beta/models/m:streamGenerateContent?alt=sse"},
		{"https://proxy.example.com/", "https://proxy.example.com/v1beta/models/m:streamGenerateContent?alt=sse"},
		{"https://gw.example.com/models/%s:stream", "https://gw.example.com/models/m:stream"},
	}
	for _, tt := range tests {
		if got := resolveNanoEndpoint(tt.endpoint, "m"); got != tt.want {
			t.Errorf("resolveNanoEndpoint(%q) = %s, want %s", tt.endpoint, got, tt.want)
		}
	}
}

type arkRecorder struct {
	requests []volcModel.GenerateImagesRequest
	results  [][]string
	errs     []error
}

func (r *arkRecorder) call(ctx context.Context, cred Credential, req volcModel.GenerateImagesRequest) ([]string, error) {
	idx := len(r.requests)
	r.requests = append(r.requests, req)
	if idx < len(r.errs) && r.errs[idx] != nil {
		return nil, r.errs[idx]
	}
	if idx < len(r.results) {
		return r.results[idx], nil
	}
	return nil, nil
}

func newTestDream(t *testing.T, layers *LayerClient) (*DreamAdapter, *arkRecorder, *MediaService) {
	t.Helper()
	media, _ := newTestMedia(t, MediaOptions{})
	adapter := NewDreamAdapter(media, fastRetry(nil), layers)
	rec := &arkRecorder{}
	adapter.call = rec.call
	return adapter, rec, media
}

func TestDreamGenerateCorrectsSize(t *testing.T) {
	adapter, rec, _ := newTestDream(t, nil)
	out := "data:image/png;base64," + base64.StdEncoding.EncodeToString(testPNG(t, 8, 8, color.White))
	rec.results = [][]string{{out}}

	res, err := Generate(context.Background(), adapter, GenerateParams{Prompt: "a fox", Style: "watercolor", Width: 640, Height: 360}, Credential{APIKey: "k"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Images) != 1 {
		t.Fatalf("expected one image, got %v", res.Images)
	}
	req := rec.requests[0]
	if req.Size == nil || *req.Size != "2560x1440" {
		t.Fatalf("expected corrected size 2560x1440, got %v", req.Size)
	}
	if req.Model != dreamDefaultModel {
		t.Fatalf("expected default model, got %s", req.Model)
	}
	if !strings.Contains(req.Prompt, "watercolor") {
		t.Fatalf("expected style in prompt, got %q", req.Prompt)
	}
}

func TestDreamGenerateRetriesTransientFailure(t *testing.T) {
	adapter, rec, _ := newTestDream(t, nil)
	out := "data:image/png;base64," + base64.StdEncoding.EncodeToString(testPNG(t, 8, 8, color.White))
	rec.errs = []error{arkError(errors.New("request failed: status code: 503, message: busy"))}
	rec.results = [][]string{nil, {out}}

	if _, err := Generate(context.Background(), adapter, GenerateParams{Prompt: "x", Quality: "4K"}, Credential{APIKey: "k"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.requests) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(rec.requests))
	}
	if *rec.requests[1].Size != "4K" {
		t.Fatalf("expected 4K tier, got %s", *rec.requests[1].Size)
	}
}

func TestDreamGenerateWithoutImageURL(t *testing.T) {
	adapter, rec, _ := newTestDream(t, nil)

	res, err := Generate(context.Background(), adapter, GenerateParams{Prompt: "x"}, Credential{APIKey: "k"})
	if !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v (%+v)", err, res)
	}
	if len(rec.requests) != 1 {
		t.Fatalf("a response without images must not be retried, got %d calls", len(rec.requests))
	}
}

func TestDreamUpscaleScalesReference(t *testing.T) {
	adapter, rec, media := newTestDream(t, nil)
	ref, err := media.SaveBytes(context.Background(), "upload", testPNG(t, 1000, 750, color.White))
	if err != nil {
		t.Fatalf("seed reference: %v", err)
	}
	out := "data:image/png;base64," + base64.StdEncoding.EncodeToString(testPNG(t, 8, 8, color.White))
	rec.results = [][]string{{out}}

	if _, err := Upscale(context.Background(), adapter, UpscaleParams{Reference: ref}, Credential{APIKey: "k"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := *rec.requests[0].Size; got != "2000x1500" {
		t.Fatalf("expected 2000x1500, got %s", got)
	}
	if _, err := Upscale(context.Background(), adapter, UpscaleParams{Reference: ref, Scale: 3}, Credential{APIKey: "k"}); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for scale 3, got %v", err)
	}
}

func TestDreamExtendSendsCanvas(t *testing.T) {
	adapter, rec, media := newTestDream(t, nil)
	ref, err := media.SaveBytes(context.Background(), "upload", testPNG(t, 1200, 900, color.White))
	if err != nil {
		t.Fatalf("seed reference: %v", err)
	}
	out := "data:image/png;base64," + base64.StdEncoding.EncodeToString(testPNG(t, 8, 8, color.White))
	rec.results = [][]string{{out}}

	if _, err := Extend(context.Background(), adapter, ExtendParams{Reference: ref, Direction: ExtendRight, Prompt: "more beach"}, Credential{APIKey: "k"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req := rec.requests[0]
	if got := *req.Size; got != "1800x900" {
		t.Fatalf("expected 1800x900 canvas, got %s", got)
	}
	if !strings.HasSuffix(req.Prompt, "more beach") {
		t.Fatalf("expected user prompt appended, got %q", req.Prompt)
	}
}

func TestDreamSplitIsLocal(t *testing.T) {
	adapter, rec, media := newTestDream(t, nil)
	ref, err := media.SaveBytes(context.Background(), "upload", testPNG(t, 90, 30, color.White))
	if err != nil {
		t.Fatalf("seed reference: %v", err)
	}
	res, err := Split(context.Background(), adapter, SplitParams{Reference: ref, Count: 3}, Credential{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Images) != 3 {
		t.Fatalf("expected 3 tiles, got %d", len(res.Images))
	}
	if len(rec.requests) != 0 {
		t.Fatalf("split must not call the vendor, got %d calls", len(rec.requests))
	}
}

func TestDreamLayerSplit(t *testing.T) {
	media, _ := newTestMedia(t, MediaOptions{})
	layerPNG := testPNG(t, 8, 8, color.Black)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/models/Qwen/Qwen-Image-Layered/inference":
			if r.Header.Get("Authorization") != "Bearer layer-key" {
				t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
			}
			var req layerRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if !strings.HasPrefix(req.Input.Image, "data:image/png;base64,") {
				t.Errorf("expected data url input, got %q", logSnippet(req.Input.Image))
			}
			base := "http://" + r.Host
			_, _ = fmt.Fprintf(w, `{"output":{"layers":[{"url":"%s/layer/1.png"},{"image_url":"%s/layer/2.png"}]}}`, base, base)
		case strings.HasPrefix(r.URL.Path, "/layer/"):
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(layerPNG)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	layers := NewLayerClient(srv.URL+"/models", "layer-key", "", media, fastRetry(nil))
	adapter := NewDreamAdapter(media, fastRetry(nil), layers)
	ref := "data:image/png;base64," + base64.StdEncoding.EncodeToString(testPNG(t, 8, 8, color.White))

	res, err := LayerSplit(context.Background(), adapter, LayerSplitParams{Reference: ref}, Credential{APIKey: "k"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Images) != 2 {
		t.Fatalf("expected 2 layers, got %v", res.Images)
	}

	noLayers := NewDreamAdapter(media, fastRetry(nil), NewLayerClient("", "", "", media, fastRetry(nil)))
	if noLayers.Supports(OpLayerSplit) {
		t.Fatal("layer split must be unsupported without a layer key")
	}
	if _, err := LayerSplit(context.Background(), noLayers, LayerSplitParams{Reference: ref}, Credential{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestArkErrorClassification(t *testing.T) {
	err := arkError(errors.New("error, status code: 429, message: rate limit, retry after 12s"))
	var upErr *UpstreamError
	if !errors.As(err, &upErr) || !upErr.RateLimited() || upErr.RetryAfter != 12*time.Second {
		t.Fatalf("expected rate limited upstream error with 12s delay, got %#v", err)
	}
	if !IsRetryable(err) {
		t.Fatal("429 must be retryable")
	}
	if IsRetryable(arkError(errors.New("status code: 400, message: bad size"))) {
		t.Fatal("400 must not be retryable")
	}
}
