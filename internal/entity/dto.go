package entity

// GenerateImageRequest is the payload of POST /api/image/generate.
type GenerateImageRequest struct {
	APIType   string   `json:"api_type"`
	Prompt    string   `json:"prompt"`
	Width     int      `json:"width,omitempty"`
	Height    int      `json:"height,omitempty"`
	Quality   string   `json:"quality,omitempty"`
	Style     string   `json:"style,omitempty"`
	NumImages int      `json:"num_images,omitempty"`
	ImageURL  string   `json:"image_url,omitempty"`
	ImageURLs []string `json:"image_urls,omitempty"`
	Model     string   `json:"model,omitempty"`
}

// References merges the single and list form of reference images.
func (r GenerateImageRequest) References() []string {
	refs := make([]string, 0, len(r.ImageURLs)+1)
	if r.ImageURL != "" {
		refs = append(refs, r.ImageURL)
	}
	for _, ref := range r.ImageURLs {
		if ref != "" && ref != r.ImageURL {
			refs = append(refs, ref)
		}
	}
	return refs
}

type UpscaleImageRequest struct {
	APIType  string `json:"api_type"`
	ImageURL string `json:"image_url" binding:"required"`
	Scale    int    `json:"scale,omitempty"`
}

type ExtendImageRequest struct {
	APIType   string `json:"api_type"`
	ImageURL  string `json:"image_url" binding:"required"`
	Direction string `json:"direction" binding:"required"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Ratio     string `json:"ratio,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
}

type SplitImageRequest struct {
	APIType   string `json:"api_type"`
	ImageURL  string `json:"image_url" binding:"required"`
	Count     int    `json:"count,omitempty"`
	Direction string `json:"direction,omitempty"`
}

type LayerSplitRequest struct {
	APIType  string `json:"api_type"`
	ImageURL string `json:"image_url" binding:"required"`
}

// ImageOperationResponse is returned by every image route.
type ImageOperationResponse struct {
	Success  bool     `json:"success"`
	ImageURL string   `json:"image_url"`
	Images   []string `json:"images"`
	TaskID   string   `json:"task_id"`
	APIType  string   `json:"api_type"`
	Cost     int      `json:"cost"`
	RecordID uint     `json:"record_id,omitempty"`
}

type ImageResultListResponse struct {
	Results []DbImageResult `json:"results"`
	Meta    *Meta           `json:"meta"`
}
