package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"imagegate/internal/entity"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const (
	defaultProviderCacheTTL = time.Minute
	providerCacheCleanup    = 5 * time.Minute
)

// ProviderConfigSource is the read side of provider configuration.
type ProviderConfigSource interface {
	GetProviderConfig(ctx context.Context, apiType string) (*entity.DbProviderConfig, error)
}

// ProviderRegistry caches provider configuration rows. Concurrent misses
// for the same key share one database read.
type ProviderRegistry struct {
	source ProviderConfigSource
	cache  *cache.Cache
	group  singleflight.Group
}

func NewProviderRegistry(source ProviderConfigSource, ttl time.Duration) *ProviderRegistry {
	if ttl <= 0 {
		ttl = defaultProviderCacheTTL
	}
	return &ProviderRegistry{
		source: source,
		cache:  cache.New(ttl, providerCacheCleanup),
	}
}

// Lookup returns a copy of the provider row, ErrProviderNotFound when it
// does not exist. Disabled rows are returned as is; Enabled decides.
func (r *ProviderRegistry) Lookup(ctx context.Context, apiType string) (entity.DbProviderConfig, error) {
	key := normalizeProviderKey(apiType)
	if key == "" {
		return entity.DbProviderConfig{}, fmt.Errorf("%w: empty provider key", ErrProviderNotFound)
	}
	if cached, ok := r.cache.Get(key); ok {
		return cached.(entity.DbProviderConfig), nil
	}

	value, err, _ := r.group.Do(key, func() (interface{}, error) {
		row, err := r.source.GetProviderConfig(context.WithoutCancel(ctx), key)
		if err != nil {
			return nil, err
		}
		cfg := *row
		r.cache.Set(key, cfg, cache.DefaultExpiration)
		return cfg, nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entity.DbProviderConfig{}, fmt.Errorf("%w: %s", ErrProviderNotFound, key)
		}
		logrus.WithError(err).WithField("api_type", key).Error("provider_config_load_failed")
		return entity.DbProviderConfig{}, fmt.Errorf("load provider %s: %w", key, err)
	}
	return value.(entity.DbProviderConfig), nil
}

// Invalidate drops one cached row, or all of them for an empty key.
func (r *ProviderRegistry) Invalidate(apiType string) {
	key := normalizeProviderKey(apiType)
	if key == "" {
		r.cache.Flush()
		return
	}
	r.cache.Delete(key)
}

func normalizeProviderKey(apiType string) string {
	return strings.ToLower(strings.TrimSpace(apiType))
}
