package model

import (
	"context"
	"errors"
	"strings"

	"imagegate/internal/config"
	"imagegate/internal/entity"

	"gorm.io/gorm"
)

// SeedDefaultProviders makes sure the built-in providers exist. Keys from
// the environment only fill an empty stored key; admin edits win.
func SeedDefaultProviders(ctx context.Context, repo ProviderConfigRepository, cfg config.Config) error {
	if repo == nil {
		return nil
	}

	for _, seed := range buildDefaultProviderSeeds(cfg) {
		existing, err := repo.GetProviderConfig(ctx, seed.APIType)
		switch {
		case err == nil:
			if err := syncExistingProvider(ctx, repo, existing, seed); err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			provider := seed
			if err := repo.CreateProviderConfig(ctx, &provider); err != nil {
				return err
			}
		default:
			return err
		}
	}
	return nil
}

func syncExistingProvider(ctx context.Context, repo ProviderConfigRepository, existing *entity.DbProviderConfig, seed entity.DbProviderConfig) error {
	if existing == nil {
		return nil
	}

	updates := make(map[string]interface{})
	envAPIKey := strings.TrimSpace(seed.APIKey)
	if envAPIKey != "" && strings.TrimSpace(existing.APIKey) == "" {
		updates["api_key"] = envAPIKey
	}
	if strings.TrimSpace(existing.APIURL) == "" && seed.APIURL != "" {
		updates["api_url"] = seed.APIURL
	}
	if strings.TrimSpace(existing.Model) == "" && seed.Model != "" {
		updates["model"] = seed.Model
	}
	if len(updates) == 0 {
		return nil
	}
	return repo.UpdateProviderConfig(ctx, existing.APIType, updates)
}

func buildDefaultProviderSeeds(cfg config.Config) []entity.DbProviderConfig {
	limit := cfg.DefaultDailyLimit
	if limit < 0 {
		limit = 0
	}
	return []entity.DbProviderConfig{
		{
			APIType:        entity.ProviderDream,
			Name:           "Seedream (Volcengine Ark)",
			APIURL:         strings.TrimSpace(cfg.DreamAPIURL),
			APIKey:         strings.TrimSpace(cfg.DreamAPIKey),
			Model:          strings.TrimSpace(cfg.DreamModel),
			Enabled:        true,
			UserDailyLimit: limit,
		},
		{
			APIType:        entity.ProviderNano,
			Name:           "Nano Banana (Gemini)",
			APIURL:         strings.TrimSpace(cfg.NanoAPIURL),
			APIKey:         strings.TrimSpace(cfg.NanoAPIKey),
			Model:          strings.TrimSpace(cfg.NanoModel),
			Enabled:        true,
			UserDailyLimit: limit,
		},
	}
}
