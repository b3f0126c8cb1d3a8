package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"imagegate/internal/credit"
	"imagegate/internal/entity"
	"imagegate/internal/llm"
	"imagegate/internal/metrics"

	"github.com/sirupsen/logrus"
)

const (
	maxGenerateCount = 4
	defaultSplitTile = 2
	maxSplitTile     = 9
)

// ResultStore persists what a finished operation produced.
type ResultStore interface {
	CreateImageResult(ctx context.Context, record *entity.DbImageResult) error
	IncrementProviderUsage(ctx context.Context, apiType string, delta int) error
}

// AdapterSource resolves provider keys to adapters. llm.Registry satisfies it.
type AdapterSource interface {
	Get(name string) (llm.Adapter, error)
	Names() []string
}

// QuotaGate is the daily per-provider image ceiling.
type QuotaGate interface {
	Check(ctx context.Context, userID uint, apiType string, requested, limit int) error
	Record(ctx context.Context, userID uint, apiType string, produced int) error
}

// Charger wraps a provider call in a debit and its settlement.
type Charger interface {
	DeductAndExecute(ctx context.Context, user *entity.DbUser, cost int, info credit.UsageInfo, op func(ctx context.Context) error) error
}

// Options are the orchestration switches read from configuration.
type Options struct {
	FallbackEnabled   bool
	DailyQuotaEnabled bool

	// ProviderOrder lists preferred providers per operation; the first
	// entry is the default when a request names none.
	ProviderOrder func(op string) []string
	Timeout       func(op string) time.Duration

	// Limiter is keyed by the provider that actually serves the call,
	// after defaulting and fallback. Nil disables it.
	Limiter RateGate
}

// ImageService runs image operations for a user: provider resolution,
// fallback, quota, credit settlement and result bookkeeping.
type ImageService struct {
	results   ResultStore
	providers *ProviderRegistry
	adapters  AdapterSource
	ledger    Charger
	quota     QuotaGate
	opts      Options
}

func NewImageService(results ResultStore, providers *ProviderRegistry, adapters AdapterSource, ledger Charger, quota QuotaGate, opts Options) *ImageService {
	if opts.ProviderOrder == nil {
		opts.ProviderOrder = func(string) []string { return []string{entity.ProviderDream, entity.ProviderNano} }
	}
	if opts.Timeout == nil {
		opts.Timeout = func(string) time.Duration { return 2 * time.Minute }
	}
	return &ImageService{
		results:   results,
		providers: providers,
		adapters:  adapters,
		ledger:    ledger,
		quota:     quota,
		opts:      opts,
	}
}

// job is one logical operation, independent of the provider serving it.
type job struct {
	op        llm.Operation
	apiType   string
	prompt    string
	quality   string
	requested int
	// costImages is the image count pricing uses.
	costImages int
	invoke     func(ctx context.Context, adapter llm.Adapter, cred llm.Credential) (*llm.AiResult, error)
}

func (s *ImageService) Generate(ctx context.Context, user *entity.DbUser, req entity.GenerateImageRequest) (*entity.ImageOperationResponse, error) {
	refs := req.References()
	if strings.TrimSpace(req.Prompt) == "" && len(refs) == 0 {
		return nil, fmt.Errorf("%w: prompt or reference image required", ErrInvalidRequest)
	}
	count := req.NumImages
	if count <= 0 {
		count = 1
	}
	if count > maxGenerateCount {
		return nil, fmt.Errorf("%w: num_images must be between 1 and %d", ErrInvalidRequest, maxGenerateCount)
	}
	if req.Width < 0 || req.Height < 0 {
		return nil, fmt.Errorf("%w: width and height must not be negative", ErrInvalidRequest)
	}

	base := llm.GenerateParams{
		Prompt:     strings.TrimSpace(req.Prompt),
		Width:      req.Width,
		Height:     req.Height,
		Quality:    strings.TrimSpace(req.Quality),
		Style:      strings.TrimSpace(req.Style),
		Count:      1,
		References: refs,
		Model:      strings.TrimSpace(req.Model),
	}
	return s.run(ctx, user, job{
		op:         llm.OpGenerate,
		apiType:    req.APIType,
		prompt:     base.Prompt,
		quality:    base.Quality,
		requested:  count,
		costImages: count,
		invoke: func(ctx context.Context, adapter llm.Adapter, cred llm.Credential) (*llm.AiResult, error) {
			return fanOut(ctx, count, func(ctx context.Context, _ int) (*llm.AiResult, error) {
				return llm.Generate(ctx, adapter, base, cred)
			})
		},
	}, true)
}

func (s *ImageService) Upscale(ctx context.Context, user *entity.DbUser, req entity.UpscaleImageRequest) (*entity.ImageOperationResponse, error) {
	ref := strings.TrimSpace(req.ImageURL)
	if ref == "" {
		return nil, fmt.Errorf("%w: image_url required", ErrInvalidRequest)
	}
	scale := req.Scale
	if scale == 0 {
		scale = 2
	}
	if scale != 2 && scale != 4 {
		return nil, fmt.Errorf("%w: scale must be 2 or 4", ErrInvalidRequest)
	}

	params := llm.UpscaleParams{Reference: ref, Scale: scale}
	return s.run(ctx, user, job{
		op:         llm.OpUpscale,
		apiType:    req.APIType,
		prompt:     fmt.Sprintf("upscale x%d", scale),
		requested:  1,
		costImages: 1,
		invoke: func(ctx context.Context, adapter llm.Adapter, cred llm.Credential) (*llm.AiResult, error) {
			return llm.Upscale(ctx, adapter, params, cred)
		},
	}, true)
}

func (s *ImageService) Extend(ctx context.Context, user *entity.DbUser, req entity.ExtendImageRequest) (*entity.ImageOperationResponse, error) {
	ref := strings.TrimSpace(req.ImageURL)
	if ref == "" {
		return nil, fmt.Errorf("%w: image_url required", ErrInvalidRequest)
	}
	direction := strings.ToLower(strings.TrimSpace(req.Direction))
	switch direction {
	case "top", "bottom", "left", "right", "all":
	default:
		return nil, fmt.Errorf("%w: direction must be one of top, bottom, left, right, all", ErrInvalidRequest)
	}
	if req.Width < 0 || req.Height < 0 {
		return nil, fmt.Errorf("%w: width and height must not be negative", ErrInvalidRequest)
	}

	params := llm.ExtendParams{
		Reference: ref,
		Direction: direction,
		Width:     req.Width,
		Height:    req.Height,
		Ratio:     strings.TrimSpace(req.Ratio),
		Prompt:    strings.TrimSpace(req.Prompt),
	}
	return s.run(ctx, user, job{
		op:         llm.OpExtend,
		apiType:    req.APIType,
		prompt:     params.Prompt,
		requested:  1,
		costImages: 1,
		invoke: func(ctx context.Context, adapter llm.Adapter, cred llm.Credential) (*llm.AiResult, error) {
			return llm.Extend(ctx, adapter, params, cred)
		},
	}, true)
}

func (s *ImageService) Split(ctx context.Context, user *entity.DbUser, req entity.SplitImageRequest) (*entity.ImageOperationResponse, error) {
	ref := strings.TrimSpace(req.ImageURL)
	if ref == "" {
		return nil, fmt.Errorf("%w: image_url required", ErrInvalidRequest)
	}
	count := req.Count
	if count == 0 {
		count = defaultSplitTile
	}
	if count < 2 || count > maxSplitTile {
		return nil, fmt.Errorf("%w: count must be between 2 and %d", ErrInvalidRequest, maxSplitTile)
	}
	direction := strings.ToLower(strings.TrimSpace(req.Direction))
	switch direction {
	case "":
		direction = "horizontal"
	case "horizontal", "vertical":
	default:
		return nil, fmt.Errorf("%w: direction must be horizontal or vertical", ErrInvalidRequest)
	}

	params := llm.SplitParams{Reference: ref, Count: count, Direction: direction}
	return s.run(ctx, user, job{
		op:         llm.OpSplit,
		apiType:    req.APIType,
		prompt:     fmt.Sprintf("split %d %s", count, direction),
		requested:  count,
		costImages: 1,
		invoke: func(ctx context.Context, adapter llm.Adapter, cred llm.Credential) (*llm.AiResult, error) {
			return llm.Split(ctx, adapter, params, cred)
		},
	}, true)
}

func (s *ImageService) LayerSplit(ctx context.Context, user *entity.DbUser, req entity.LayerSplitRequest) (*entity.ImageOperationResponse, error) {
	ref := strings.TrimSpace(req.ImageURL)
	if ref == "" {
		return nil, fmt.Errorf("%w: image_url required", ErrInvalidRequest)
	}

	params := llm.LayerSplitParams{Reference: ref}
	return s.run(ctx, user, job{
		op:         llm.OpLayerSplit,
		apiType:    req.APIType,
		prompt:     "layer split",
		requested:  1,
		costImages: 1,
		invoke: func(ctx context.Context, adapter llm.Adapter, cred llm.Credential) (*llm.AiResult, error) {
			return llm.LayerSplit(ctx, adapter, params, cred)
		},
	}, true)
}

// run resolves the provider, falls back once when allowed, then charges
// and executes the job.
func (s *ImageService) run(ctx context.Context, user *entity.DbUser, j job, allowFallback bool) (*entity.ImageOperationResponse, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: user required", ErrInvalidRequest)
	}
	apiType := normalizeProviderKey(j.apiType)
	if apiType == "" {
		apiType = s.defaultProvider(j.op)
	}

	log := logrus.WithContext(ctx).WithFields(logrus.Fields{
		"user_id":   user.ID,
		"api_type":  apiType,
		"operation": j.op.String(),
	})

	cfg, adapter, err := s.resolve(ctx, apiType, j.op)
	if err != nil {
		if allowFallback && s.opts.FallbackEnabled && canFallback(err) {
			if next := s.fallbackTarget(apiType, j.op); next != "" {
				log.WithError(err).WithField("fallback", next).Warn("provider_fallback")
				metrics.Fallbacks.WithLabelValues(apiType, next, j.op.String()).Inc()
				j.apiType = next
				return s.run(ctx, user, j, false)
			}
		}
		return nil, err
	}

	if s.opts.Limiter != nil && !s.opts.Limiter.Allow(user.ID, apiType) {
		log.Warn("rate_limited")
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, apiType)
	}

	if s.opts.DailyQuotaEnabled && s.quota != nil {
		if err := s.quota.Check(ctx, user.ID, apiType, j.requested, cfg.UserDailyLimit); err != nil {
			return nil, err
		}
	}

	cost := credit.CalcCost(apiType, j.op, credit.CostInput{Quality: j.quality, ImageCount: j.costImages})
	cred := llm.Credential{APIKey: cfg.APIKey, Endpoint: cfg.APIURL, Model: cfg.Model}
	timeout := s.opts.Timeout(j.op.String())

	var result *llm.AiResult
	err = s.ledger.DeductAndExecute(ctx, user, cost, credit.UsageInfo{Operation: j.op.String(), APIType: apiType}, func(ctx context.Context) error {
		// the vendor call outlives a dropped client, bounded by its own timeout
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		res, callErr := j.invoke(callCtx, adapter, cred)
		if callErr != nil {
			return callErr
		}
		result = res
		return nil
	})
	if err != nil {
		var insufficient *credit.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			return nil, err
		}
		metrics.ObserveCall(apiType, j.op.String(), err, 0, 0)
		log.WithError(err).Error("provider_call_failed")
		if errors.Is(err, llm.ErrUnsupported) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	produced := len(result.Images)
	charged := cost
	if user.IsAdmin() {
		charged = 0
	}
	metrics.ObserveCall(apiType, j.op.String(), nil, produced, charged)

	// the debit is settled; bookkeeping failures are logged, not returned
	bookCtx := context.WithoutCancel(ctx)
	record := &entity.DbImageResult{
		UserID:    user.ID,
		APIType:   apiType,
		Operation: j.op.String(),
		Prompt:    j.prompt,
		ImageURL:  result.First(),
		Status:    entity.ImageResultSuccess,
	}
	if err := s.results.CreateImageResult(bookCtx, record); err != nil {
		log.WithError(err).Error("image_result_save_failed")
	}
	if err := s.results.IncrementProviderUsage(bookCtx, apiType, produced); err != nil {
		log.WithError(err).Warn("provider_usage_increment_failed")
	}
	if s.opts.DailyQuotaEnabled && s.quota != nil {
		if err := s.quota.Record(bookCtx, user.ID, apiType, produced); err != nil {
			log.WithError(err).Warn("daily_quota_record_failed")
		}
	}

	log.WithFields(logrus.Fields{"images": produced, "cost": charged}).Info("image_operation_completed")
	return &entity.ImageOperationResponse{
		Success:  true,
		ImageURL: result.First(),
		Images:   result.Images,
		TaskID:   result.TaskID,
		APIType:  apiType,
		Cost:     charged,
		RecordID: record.ID,
	}, nil
}

// resolve loads the provider row and adapter and checks it can serve op.
func (s *ImageService) resolve(ctx context.Context, apiType string, op llm.Operation) (entity.DbProviderConfig, llm.Adapter, error) {
	cfg, err := s.providers.Lookup(ctx, apiType)
	if err != nil {
		return cfg, nil, err
	}
	if !cfg.Enabled {
		return cfg, nil, fmt.Errorf("%w: %s", ErrProviderDisabled, apiType)
	}
	adapter, err := s.adapters.Get(apiType)
	if err != nil {
		return cfg, nil, fmt.Errorf("%w: %v", ErrProviderNotFound, err)
	}
	if !adapter.Supports(op) {
		return cfg, nil, &llm.CapabilityError{Provider: apiType, Operation: op}
	}
	if needsCredential(op) && strings.TrimSpace(cfg.APIKey) == "" {
		return cfg, nil, fmt.Errorf("%w: %s", llm.ErrMissingCredential, apiType)
	}
	return cfg, adapter, nil
}

// needsCredential is false for operations served without the provider key:
// split is local and layer split uses its own endpoint.
func needsCredential(op llm.Operation) bool {
	return op != llm.OpSplit && op != llm.OpLayerSplit
}

func (s *ImageService) defaultProvider(op llm.Operation) string {
	for _, key := range s.opts.ProviderOrder(op.String()) {
		if key != "" {
			return key
		}
	}
	return entity.ProviderDream
}

// fallbackTarget picks the first other provider, in preference order, whose
// adapter supports op. Whether it is enabled is checked by the retry.
func (s *ImageService) fallbackTarget(from string, op llm.Operation) string {
	candidates := append([]string{}, s.opts.ProviderOrder(op.String())...)
	candidates = append(candidates, s.adapters.Names()...)
	for _, key := range candidates {
		key = normalizeProviderKey(key)
		if key == "" || key == from {
			continue
		}
		adapter, err := s.adapters.Get(key)
		if err != nil || !adapter.Supports(op) {
			continue
		}
		return key
	}
	return ""
}
