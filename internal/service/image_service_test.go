package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"imagegate/internal/credit"
	"imagegate/internal/entity"
	"imagegate/internal/llm"
	"imagegate/internal/quota"

	"gorm.io/gorm"
)

// fakeAdapter counts calls and answers through the configured funcs.
type fakeAdapter struct {
	name     string
	ops      map[llm.Operation]bool
	calls    atomic.Int32
	generate func(call int32) (*llm.AiResult, error)
	upscale  func() (*llm.AiResult, error)
}

func (a *fakeAdapter) Name() string                   { return a.name }
func (a *fakeAdapter) Supports(op llm.Operation) bool { return a.ops[op] }

func (a *fakeAdapter) Generate(_ context.Context, params llm.GenerateParams, _ llm.Credential) (*llm.AiResult, error) {
	call := a.calls.Add(1)
	if params.Count != 1 {
		return nil, fmt.Errorf("sub-request count must be 1, got %d", params.Count)
	}
	if a.generate != nil {
		return a.generate(call)
	}
	return &llm.AiResult{TaskID: fmt.Sprintf("%s-%d", a.name, call), Images: []string{fmt.Sprintf("/uploads/%s-%d.png", a.name, call)}}, nil
}

func (a *fakeAdapter) Upscale(_ context.Context, _ llm.UpscaleParams, _ llm.Credential) (*llm.AiResult, error) {
	a.calls.Add(1)
	if a.upscale != nil {
		return a.upscale()
	}
	return &llm.AiResult{TaskID: a.name + "-up", Images: []string{"/uploads/" + a.name + "-up.png"}}, nil
}

type fakeProviders struct {
	mu    sync.Mutex
	rows  map[string]entity.DbProviderConfig
	loads int
}

func (p *fakeProviders) GetProviderConfig(_ context.Context, apiType string) (*entity.DbProviderConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads++
	row, ok := p.rows[apiType]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &row, nil
}

type fakeResults struct {
	mu      sync.Mutex
	records []entity.DbImageResult
	usage   map[string]int
}

func (r *fakeResults) CreateImageResult(_ context.Context, record *entity.DbImageResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record.ID = uint(len(r.records) + 1)
	r.records = append(r.records, *record)
	return nil
}

func (r *fakeResults) IncrementProviderUsage(_ context.Context, apiType string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage[apiType] += delta
	return nil
}

type fakeCredits struct {
	mu       sync.Mutex
	balances map[uint]int
	logs     int
}

func (s *fakeCredits) GetUserByID(_ context.Context, id uint) (*entity.DbUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &entity.DbUser{ID: id, Credits: s.balances[id]}, nil
}

func (s *fakeCredits) DebitCredits(_ context.Context, userID uint, amount int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[userID] < amount {
		return false, nil
	}
	s.balances[userID] -= amount
	return true, nil
}

func (s *fakeCredits) RefundCredits(_ context.Context, userID uint, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] += amount
	return nil
}

func (s *fakeCredits) AddCredits(_ context.Context, userID uint, amount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] += amount
	return s.balances[userID], nil
}

func (s *fakeCredits) SetCredits(_ context.Context, userID uint, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = amount
	return nil
}

func (s *fakeCredits) CreateCreditUsageLog(context.Context, *entity.DbCreditUsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs++
	return nil
}

func (s *fakeCredits) balance(id uint) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[id]
}

type fakeQuota struct {
	mu       sync.Mutex
	used     map[string]int
	checks   int
	recorded int
}

func (q *fakeQuota) Check(_ context.Context, userID uint, apiType string, requested, limit int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.checks++
	if limit <= 0 {
		return nil
	}
	used := q.used[apiType]
	if used+requested > limit {
		return &quota.LimitError{APIType: apiType, Used: used, Requested: requested, Limit: limit}
	}
	return nil
}

func (q *fakeQuota) Record(_ context.Context, _ uint, apiType string, produced int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.used[apiType] += produced
	q.recorded += produced
	return nil
}

type harness struct {
	svc     *ImageService
	dream   *fakeAdapter
	nano    *fakeAdapter
	configs *fakeProviders
	results *fakeResults
	credits *fakeCredits
	quota   *fakeQuota
	limiter RateGate
	user    *entity.DbUser
}

func newHarness(t *testing.T, balance int) *harness {
	t.Helper()
	h := &harness{
		dream: &fakeAdapter{name: "dream", ops: map[llm.Operation]bool{
			llm.OpGenerate: true, llm.OpUpscale: true, llm.OpExtend: true, llm.OpSplit: true,
		}},
		nano: &fakeAdapter{name: "nano", ops: map[llm.Operation]bool{llm.OpGenerate: true}},
		configs: &fakeProviders{rows: map[string]entity.DbProviderConfig{
			"dream": {APIType: "dream", APIKey: "ark", Enabled: true},
			"nano":  {APIType: "nano", APIKey: "gem", Enabled: true},
		}},
		results: &fakeResults{usage: map[string]int{}},
		credits: &fakeCredits{balances: map[uint]int{7: balance}},
		quota:   &fakeQuota{used: map[string]int{}},
		user:    &entity.DbUser{ID: 7, Role: entity.UserRoleUser, Credits: balance},
	}
	h.rebuild(true)
	return h
}

func (h *harness) rebuild(fallback bool) {
	h.svc = NewImageService(
		h.results,
		NewProviderRegistry(h.configs, time.Minute),
		llm.NewRegistryWith(h.dream, h.nano),
		credit.NewLedger(h.credits),
		h.quota,
		Options{
			FallbackEnabled:   fallback,
			DailyQuotaEnabled: true,
			ProviderOrder:     func(string) []string { return []string{"dream", "nano"} },
			Timeout:           func(string) time.Duration { return time.Second },
			Limiter:           h.limiter,
		},
	)
}

func (h *harness) setProvider(apiType string, mutate func(*entity.DbProviderConfig)) {
	h.configs.mu.Lock()
	row := h.configs.rows[apiType]
	mutate(&row)
	h.configs.rows[apiType] = row
	h.configs.mu.Unlock()
	h.svc.providers.Invalidate(apiType)
}

func TestGenerateFanOutPartialSuccess(t *testing.T) {
	h := newHarness(t, 10)
	h.dream.generate = func(call int32) (*llm.AiResult, error) {
		if call == 3 {
			return &llm.AiResult{TaskID: "ok", Images: []string{"/uploads/only.png"}}, nil
		}
		return nil, &llm.UpstreamError{Provider: "dream", StatusCode: 500, Body: "boom"}
	}

	resp, err := h.svc.Generate(context.Background(), h.user, entity.GenerateImageRequest{APIType: "dream", Prompt: "cat", NumImages: 4})
	if err != nil {
		t.Fatalf("expected partial success, got %v", err)
	}
	if len(resp.Images) != 1 || resp.ImageURL != "/uploads/only.png" || !resp.Success {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got := h.dream.calls.Load(); got != 4 {
		t.Fatalf("expected 4 sub-requests, got %d", got)
	}
	if got := h.credits.balance(7); got != 6 {
		t.Fatalf("expected 4 credits charged, balance %d", got)
	}
	if len(h.results.records) != 1 || h.results.usage["dream"] != 1 || h.quota.recorded != 1 {
		t.Fatalf("bookkeeping must count produced images: records=%d usage=%d quota=%d",
			len(h.results.records), h.results.usage["dream"], h.quota.recorded)
	}
	if resp.RecordID != h.results.records[0].ID {
		t.Fatalf("expected record id %d, got %d", h.results.records[0].ID, resp.RecordID)
	}
}

func TestGenerateFanOutTotalFailureRefunds(t *testing.T) {
	h := newHarness(t, 10)
	h.dream.generate = func(int32) (*llm.AiResult, error) {
		return nil, &llm.UpstreamError{Provider: "dream", StatusCode: 400, Body: "bad prompt"}
	}

	_, err := h.svc.Generate(context.Background(), h.user, entity.GenerateImageRequest{APIType: "dream", Prompt: "cat", NumImages: 4})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected generation failure, got %v", err)
	}
	var upErr *llm.UpstreamError
	if !errors.As(err, &upErr) || upErr.StatusCode != 400 {
		t.Fatalf("vendor error must stay in the chain, got %v", err)
	}
	if got := h.credits.balance(7); got != 10 {
		t.Fatalf("expected full refund, balance %d", got)
	}
	if len(h.results.records) != 0 || h.credits.logs != 0 {
		t.Fatal("failed call must not leave records or usage logs")
	}
}

func TestGenerateCostsByProvider(t *testing.T) {
	h := newHarness(t, 100)
	resp, err := h.svc.Generate(context.Background(), h.user, entity.GenerateImageRequest{APIType: "nano", Prompt: "cat", NumImages: 2})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Cost != 10 || h.credits.balance(7) != 90 {
		t.Fatalf("expected nano to charge 10, cost=%d balance=%d", resp.Cost, h.credits.balance(7))
	}

	resp, err = h.svc.Generate(context.Background(), h.user, entity.GenerateImageRequest{Prompt: "cat", Quality: "4K", NumImages: 3})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.APIType != "dream" || resp.Cost != 6 || len(resp.Images) != 3 {
		t.Fatalf("expected default dream at 4K to charge 6 for 3 images, got %+v", resp)
	}
}

func TestFallbackWhenProviderDisabled(t *testing.T) {
	h := newHarness(t, 20)
	h.setProvider("dream", func(c *entity.DbProviderConfig) { c.Enabled = false })

	resp, err := h.svc.Generate(context.Background(), h.user, entity.GenerateImageRequest{APIType: "dream", Prompt: "cat"})
	if err != nil {
		t.Fatalf("expected fallback to nano, got %v", err)
	}
	if resp.APIType != "nano" || resp.Cost != 5 {
		t.Fatalf("expected nano pricing after fallback, got %+v", resp)
	}
	if h.dream.calls.Load() != 0 {
		t.Fatal("disabled provider must not be called")
	}
}

func TestFallbackIsSingleLevel(t *testing.T) {
	h := newHarness(t, 20)
	h.setProvider("dream", func(c *entity.DbProviderConfig) { c.Enabled = false })
	h.setProvider("nano", func(c *entity.DbProviderConfig) { c.Enabled = false })

	_, err := h.svc.Generate(context.Background(), h.user, entity.GenerateImageRequest{APIType: "dream", Prompt: "cat"})
	if !errors.Is(err, ErrProviderDisabled) || !IsConfigError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if h.dream.calls.Load()+h.nano.calls.Load() != 0 || h.credits.balance(7) != 20 {
		t.Fatal("no provider call and no debit expected")
	}
}

func TestCapabilityFallback(t *testing.T) {
	h := newHarness(t, 20)

	resp, err := h.svc.Upscale(context.Background(), h.user, entity.UpscaleImageRequest{APIType: "nano", ImageURL: "https://cdn.example.com/a.png"})
	if err != nil {
		t.Fatalf("expected dream to serve the upscale, got %v", err)
	}
	if resp.APIType != "dream" || resp.Cost != 1 || h.dream.calls.Load() != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}

	h.rebuild(false)
	_, err = h.svc.Upscale(context.Background(), h.user, entity.UpscaleImageRequest{APIType: "nano", ImageURL: "https://cdn.example.com/a.png"})
	if !errors.Is(err, llm.ErrUnsupported) {
		t.Fatalf("expected capability error without fallback, got %v", err)
	}
}

func TestMissingCredentialFailsBeforeDebit(t *testing.T) {
	h := newHarness(t, 20)
	h.rebuild(false)
	h.setProvider("dream", func(c *entity.DbProviderConfig) { c.APIKey = "" })

	_, err := h.svc.Generate(context.Background(), h.user, entity.GenerateImageRequest{APIType: "dream", Prompt: "cat"})
	if !errors.Is(err, llm.ErrMissingCredential) {
		t.Fatalf("expected missing credential, got %v", err)
	}
	if h.dream.calls.Load() != 0 || h.credits.balance(7) != 20 {
		t.Fatal("keyless provider must fail before debit")
	}
}

func TestInsufficientCreditsNeverCallsProvider(t *testing.T) {
	h := newHarness(t, 3)

	_, err := h.svc.Generate(context.Background(), h.user, entity.GenerateImageRequest{APIType: "nano", Prompt: "cat"})
	var insufficient *credit.InsufficientCreditsError
	if !errors.As(err, &insufficient) || insufficient.Balance != 3 || insufficient.Required != 5 {
		t.Fatalf("expected insufficient credits 3/5, got %v", err)
	}
	if h.nano.calls.Load() != 0 || h.credits.balance(7) != 3 {
		t.Fatal("provider must not be invoked and balance must stay")
	}
}

func TestAdminIsNotCharged(t *testing.T) {
	h := newHarness(t, 0)
	h.user.Role = entity.UserRoleSuperAdmin

	resp, err := h.svc.Generate(context.Background(), h.user, entity.GenerateImageRequest{APIType: "nano", Prompt: "cat", NumImages: 2})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Cost != 0 || h.credits.balance(7) != 0 || h.credits.logs != 0 {
		t.Fatalf("admin must not be charged or logged, got cost %d", resp.Cost)
	}
}

func TestDailyQuotaBlocksBeforeCall(t *testing.T) {
	h := newHarness(t, 50)
	h.setProvider("dream", func(c *entity.DbProviderConfig) { c.UserDailyLimit = 3 })
	h.quota.used["dream"] = 2

	_, err := h.svc.Generate(context.Background(), h.user, entity.GenerateImageRequest{APIType: "dream", Prompt: "cat", NumImages: 2})
	if !errors.Is(err, quota.ErrDailyLimitExceeded) {
		t.Fatalf("expected daily limit error, got %v", err)
	}
	if h.dream.calls.Load() != 0 || h.credits.balance(7) != 50 {
		t.Fatal("quota rejection must happen before debit and call")
	}
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t, 50)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"generate without prompt or image", func() error {
			_, err := h.svc.Generate(ctx, h.user, entity.GenerateImageRequest{})
			return err
		}},
		{"generate too many images", func() error {
			_, err := h.svc.Generate(ctx, h.user, entity.GenerateImageRequest{Prompt: "cat", NumImages: 5})
			return err
		}},
		{"upscale scale 3", func() error {
			_, err := h.svc.Upscale(ctx, h.user, entity.UpscaleImageRequest{ImageURL: "a.png", Scale: 3})
			return err
		}},
		{"extend unknown direction", func() error {
			_, err := h.svc.Extend(ctx, h.user, entity.ExtendImageRequest{ImageURL: "a.png", Direction: "diagonal"})
			return err
		}},
		{"split too many tiles", func() error {
			_, err := h.svc.Split(ctx, h.user, entity.SplitImageRequest{ImageURL: "a.png", Count: 10})
			return err
		}},
		{"layer split without image", func() error {
			_, err := h.svc.LayerSplit(ctx, h.user, entity.LayerSplitRequest{})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected invalid request, got %v", err)
			}
		})
	}
	if h.credits.balance(7) != 50 || h.quota.checks != 0 {
		t.Fatal("validation failures must not touch quota or credits")
	}
}

func TestUnknownProviderWithoutFallback(t *testing.T) {
	h := newHarness(t, 10)
	h.rebuild(false)
	_, err := h.svc.Generate(context.Background(), h.user, entity.GenerateImageRequest{APIType: "midjourney", Prompt: "cat"})
	if !errors.Is(err, ErrProviderNotFound) {
		t.Fatalf("expected provider not found, got %v", err)
	}
}
