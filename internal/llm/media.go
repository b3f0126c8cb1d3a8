package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"

	"imagegate/internal/storage"

	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"
)

const maxImageBytes = 40 << 20

// MediaOptions configures where results go and how references are fetched.
type MediaOptions struct {
	// PublicBase prefixes stored keys, e.g. "/uploads".
	PublicBase       string
	ProxyURL         string
	WatermarkEnabled bool
	WatermarkText    string
}

// MediaService moves image bytes between vendors, the scratch area and
// result storage.
type MediaService struct {
	store      storage.Storage
	scratch    *storage.Scratch
	httpClient *http.Client
	publicBase string
	watermark  string
}

func NewMediaService(store storage.Storage, scratch *storage.Scratch, opts MediaOptions) (*MediaService, error) {
	if store == nil {
		return nil, errors.New("media: storage is required")
	}
	if scratch == nil {
		scratch = storage.NewScratch("")
	}
	client, err := newHTTPClient(opts.ProxyURL)
	if err != nil {
		return nil, err
	}
	svc := &MediaService{
		store:      store,
		scratch:    scratch,
		httpClient: client,
		publicBase: normalizePublicBase(opts.PublicBase),
	}
	if opts.WatermarkEnabled {
		svc.watermark = strings.TrimSpace(opts.WatermarkText)
	}
	return svc, nil
}

// newHTTPClient returns the client used for every outbound vendor call.
// Timeouts come from the caller's context.
func newHTTPClient(proxyURL string) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if trimmed := strings.TrimSpace(proxyURL); trimmed != "" {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}
	return &http.Client{Transport: transport}, nil
}

func normalizePublicBase(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		trimmed = "/uploads"
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return strings.TrimRight(trimmed, "/")
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return strings.TrimRight(trimmed, "/")
}

// HTTPClient exposes the proxy-aware client to adapters.
func (m *MediaService) HTTPClient() *http.Client {
	return m.httpClient
}

// PublicPath turns a storage key into the reference handed to callers.
func (m *MediaService) PublicPath(key string) string {
	return m.publicBase + "/" + strings.TrimLeft(key, "/")
}

// storageKey reports whether ref points at our own storage.
func (m *MediaService) storageKey(ref string) (string, bool) {
	prefix := m.publicBase + "/"
	if strings.HasPrefix(ref, prefix) {
		return strings.TrimPrefix(ref, prefix), true
	}
	if parsed, err := url.Parse(ref); err == nil && parsed.Host != "" && !strings.HasPrefix(m.publicBase, "http") {
		if strings.HasPrefix(parsed.Path, prefix) && isLoopbackHost(parsed.Hostname()) {
			return strings.TrimPrefix(parsed.Path, prefix), true
		}
	}
	return "", false
}

// ResolvedReference is a reference image in the form a vendor accepts.
type ResolvedReference struct {
	// URL is set when the vendor can fetch the image itself.
	URL string
	// DataURL is set when the bytes had to be embedded.
	DataURL  string
	MimeType string
}

func (r ResolvedReference) Value() string {
	if r.URL != "" {
		return r.URL
	}
	return r.DataURL
}

// ResolveReference passes externally reachable URLs through and embeds
// everything else (loopback URLs, stored keys, raw base64) as a data URL.
func (m *MediaService) ResolveReference(ctx context.Context, ref string) (ResolvedReference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ResolvedReference{}, fmt.Errorf("%w: empty reference image", ErrInvalidParams)
	}
	if isRemoteURL(ref) && !isLocalOnlyURL(ref) {
		return ResolvedReference{URL: ref, MimeType: mimeFromPath(ref)}, nil
	}
	data, mimeType, err := m.LoadImage(ctx, ref)
	if err != nil {
		return ResolvedReference{}, err
	}
	return ResolvedReference{
		DataURL:  encodeDataURL(mimeType, data),
		MimeType: mimeType,
	}, nil
}

// LoadImage returns the bytes behind any supported reference form.
func (m *MediaService) LoadImage(ctx context.Context, ref string) ([]byte, string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil, "", fmt.Errorf("%w: empty reference image", ErrInvalidParams)
	case strings.HasPrefix(ref, "data:"):
		return decodeDataURL(ref)
	}
	if key, ok := m.storageKey(ref); ok {
		data, err := m.store.Load(ctx, key)
		if err != nil {
			return nil, "", fmt.Errorf("load stored image %s: %w", key, err)
		}
		return data, detectImageMime(data), nil
	}
	if isRemoteURL(ref) {
		return m.Download(ctx, ref)
	}
	if !looksLikeBase64(ref) {
		return nil, "", fmt.Errorf("%w: unknown local reference %s", ErrInvalidParams, logSnippet(ref))
	}
	raw, err := base64.StdEncoding.DecodeString(ref)
	if err != nil {
		return nil, "", fmt.Errorf("%w: reference is neither url nor base64", ErrInvalidParams)
	}
	return raw, detectImageMime(raw), nil
}

// Download fetches a remote image through the proxy-aware client.
func (m *MediaService) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create download request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", &UpstreamError{Provider: "download", StatusCode: resp.StatusCode, Body: string(body)}
	}
	if len(body) > maxImageBytes {
		return nil, "", fmt.Errorf("image larger than %d bytes", maxImageBytes)
	}
	mimeType := fallbackMime(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = detectImageMime(body)
	}
	return body, mimeType, nil
}

// ProbeSize reads only the header of the reference image.
func (m *MediaService) ProbeSize(ctx context.Context, ref string) (Size, error) {
	data, _, err := m.LoadImage(ctx, ref)
	if err != nil {
		return Size{}, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Size{}, fmt.Errorf("probe image size: %w", err)
	}
	return Size{Width: cfg.Width, Height: cfg.Height}, nil
}

// SaveResult stores one vendor result (remote URL, data URL or raw base64)
// under a fresh name and returns its public path. The bytes are staged in
// the scratch area, watermarked there when enabled, then handed to storage.
func (m *MediaService) SaveResult(ctx context.Context, provider, source string) (string, error) {
	var (
		data []byte
		err  error
	)
	if isRemoteURL(source) {
		data, _, err = m.Download(ctx, source)
	} else {
		data, _, err = m.LoadImage(ctx, source)
	}
	if err != nil {
		return "", fmt.Errorf("fetch result image: %w", err)
	}
	return m.SaveBytes(ctx, provider, data)
}

// SaveBytes stores already available image bytes.
func (m *MediaService) SaveBytes(ctx context.Context, provider string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrNoImage
	}
	staged, err := m.scratch.Write(provider, data)
	if err != nil {
		return "", err
	}
	defer m.scratch.Remove(staged)

	if m.watermark != "" {
		if err := watermarkFile(staged, m.watermark); err != nil {
			logrus.WithError(err).WithField("provider", provider).Warn("watermark_failed")
		}
	}

	final, err := os.ReadFile(staged)
	if err != nil {
		return "", fmt.Errorf("read staged image: %w", err)
	}
	key, err := m.store.Save(ctx, final, storage.SaveOptions{
		Category:  provider,
		Extension: extensionFromMime(detectImageMime(final)),
	})
	if err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return m.PublicPath(key), nil
}

func isRemoteURL(value string) bool {
	return strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://")
}

// isLocalOnlyURL reports URLs a vendor cannot reach.
func isLocalOnlyURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return isLoopbackHost(parsed.Hostname())
}

func isLoopbackHost(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast()
}

func decodeDataURL(value string) ([]byte, string, error) {
	rest := strings.TrimPrefix(value, "data:")
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: malformed data url", ErrInvalidParams)
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, "", fmt.Errorf("%w: data url is not base64", ErrInvalidParams)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode data url: %v", ErrInvalidParams, err)
	}
	mimeType := fallbackMime(strings.TrimSuffix(meta, ";base64"))
	return raw, mimeType, nil
}

func encodeDataURL(mimeType string, data []byte) string {
	return "data:" + fallbackMime(mimeType) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func looksLikeBase64(value string) bool {
	if len(value) < 16 {
		return false
	}
	for _, ch := range value {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '+', ch == '/', ch == '=', ch == '\n', ch == '\r':
		default:
			return false
		}
	}
	return true
}

func detectImageMime(data []byte) string {
	return fallbackMime(http.DetectContentType(data))
}

// fallbackMime strips parameters and defaults to image/png.
func fallbackMime(mimeType string) string {
	v := strings.TrimSpace(mimeType)
	if idx := strings.Index(v, ";"); idx > 0 {
		v = strings.TrimSpace(v[:idx])
	}
	if v == "" || v == "application/octet-stream" {
		return "image/png"
	}
	return strings.ToLower(v)
}

func mimeFromPath(rawURL string) string {
	path := rawURL
	if parsed, err := url.Parse(rawURL); err == nil {
		path = parsed.Path
	}
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		if typeName := mime.TypeByExtension(path[idx:]); strings.HasPrefix(typeName, "image/") {
			return fallbackMime(typeName)
		}
	}
	return "image/png"
}

func extensionFromMime(mimeType string) string {
	switch fallbackMime(mimeType) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}
