package sql

import (
	"context"
	"fmt"
	"strings"

	"imagegate/internal/entity"

	"gorm.io/gorm"
)

// GetProviderConfig loads one provider by api_type.
func (r *GormRepository) GetProviderConfig(ctx context.Context, apiType string) (*entity.DbProviderConfig, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	apiType = strings.ToLower(strings.TrimSpace(apiType))
	if apiType == "" {
		return nil, fmt.Errorf("api_type is required")
	}
	var cfg entity.DbProviderConfig
	if err := r.db.WithContext(ctx).Where("api_type = ?", apiType).First(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ListProviderConfigs returns every provider ordered by api_type.
func (r *GormRepository) ListProviderConfigs(ctx context.Context) ([]entity.DbProviderConfig, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	var cfgs []entity.DbProviderConfig
	if err := r.db.WithContext(ctx).Order("api_type ASC").Find(&cfgs).Error; err != nil {
		return nil, err
	}
	return cfgs, nil
}

// CreateProviderConfig inserts a new provider row.
func (r *GormRepository) CreateProviderConfig(ctx context.Context, cfg *entity.DbProviderConfig) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if cfg == nil {
		return fmt.Errorf("provider config is nil")
	}
	cfg.APIType = strings.ToLower(strings.TrimSpace(cfg.APIType))
	if cfg.APIType == "" {
		return fmt.Errorf("api_type is required")
	}
	return r.db.WithContext(ctx).Create(cfg).Error
}

// UpdateProviderConfig updates provider fields using a map of updates.
func (r *GormRepository) UpdateProviderConfig(ctx context.Context, apiType string, updates map[string]interface{}) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	apiType = strings.ToLower(strings.TrimSpace(apiType))
	if apiType == "" {
		return fmt.Errorf("api_type is required")
	}
	if len(updates) == 0 {
		return nil
	}

	delete(updates, "id")
	delete(updates, "api_type")
	delete(updates, "used_quota")

	result := r.db.WithContext(ctx).
		Model(&entity.DbProviderConfig{}).
		Where("api_type = ?", apiType).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IncrementProviderUsage bumps the cumulative image counter.
func (r *GormRepository) IncrementProviderUsage(ctx context.Context, apiType string, delta int) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if delta <= 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&entity.DbProviderConfig{}).
		Where("api_type = ?", strings.ToLower(strings.TrimSpace(apiType))).
		UpdateColumn("used_quota", gorm.Expr("used_quota + ?", delta)).Error
}
