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
	layerDefaultModel    = "Qwen/Qwen-Image-Layered"
	layerDefaultEndpoint = "https://api-inference.modelscope.cn/api/v1/models"
)

// LayerClient calls a hosted image decomposition model that returns one
// image per layer.
type LayerClient struct {
	endpoint string
	apiKey   string
	model    string
	media    *MediaService
	retry    RetryPolicy
}

// NewLayerClient returns nil when no key is configured so adapters can
// report layer split as unsupported.
func NewLayerClient(endpoint, apiKey, model string, media *MediaService, retry RetryPolicy) *LayerClient {
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	return &LayerClient{
		endpoint: firstNonEmpty(strings.TrimRight(strings.TrimSpace(endpoint), "/"), layerDefaultEndpoint),
		apiKey:   strings.TrimSpace(apiKey),
		model:    firstNonEmpty(model, layerDefaultModel),
		media:    media,
		retry:    retry,
	}
}

type layerRequest struct {
	Input struct {
		Image string `json:"image"`
	} `json:"input"`
}

type layerItem struct {
	URL      string `json:"url"`
	ImageURL string `json:"image_url"`
}

type layerResponse struct {
	Output struct {
		Layers []layerItem `json:"layers"`
	} `json:"output"`
	Layers []layerItem `json:"layers"`
}

func (r layerResponse) urls() []string {
	items := r.Output.Layers
	if len(items) == 0 {
		items = r.Layers
	}
	urls := make([]string, 0, len(items))
	for _, item := range items {
		if u := firstNonEmpty(item.URL, item.ImageURL); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// Decompose sends the reference as a data URL and stores every returned layer.
func (c *LayerClient) Decompose(ctx context.Context, provider, reference string) (*AiResult, error) {
	log := providerLogger(ctx, provider, OpLayerSplit, c.model)

	data, mimeType, err := c.media.LoadImage(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("load reference: %w", err)
	}
	var payload layerRequest
	payload.Input.Image = encodeDataURL(mimeType, data)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("layer marshal request: %w", err)
	}

	targetURL := fmt.Sprintf("%s/%s/inference", c.endpoint, c.model)
	log.WithFields(logrus.Fields{"url": targetURL, "image_bytes": len(data)}).Info("layer_split_start")

	var layers []string
	err = c.retry.Do(ctx, log, func(ctx context.Context, attempt int) error {
		found, callErr := c.post(ctx, provider, targetURL, body)
		if callErr != nil {
			return callErr
		}
		layers = found
		return nil
	})
	if err != nil {
		log.WithError(err).Error("layer_split_failed")
		return nil, err
	}

	stored := make([]string, 0, len(layers))
	for _, layer := range layers {
		path, err := c.media.SaveResult(ctx, provider, layer)
		if err != nil {
			return nil, fmt.Errorf("save layer: %w", err)
		}
		stored = append(stored, path)
	}
	log.WithField("layer_count", len(stored)).Info("layer_split_done")
	return &AiResult{TaskID: "layer-" + uuid.NewString(), Images: stored}, nil
}

func (c *LayerClient) post(ctx context.Context, provider, targetURL string, body []byte) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("layer create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.media.HTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("layer send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("layer read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newUpstreamError(provider, resp.StatusCode, resp.Header, respBody)
	}

	var parsed layerResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("layer decode response: %w", err)
	}
	urls := parsed.urls()
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: layer response had no layers: %s", ErrNoImage, logSnippet(string(respBody)))
	}
	return urls, nil
}
