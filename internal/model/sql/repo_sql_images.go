package sql

import (
	"context"
	"fmt"
	"strings"

	"imagegate/internal/entity"
)

// CreateImageResult stores one operation outcome.
func (r *GormRepository) CreateImageResult(ctx context.Context, record *entity.DbImageResult) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if record == nil {
		return fmt.Errorf("image result is nil")
	}
	return r.db.WithContext(ctx).Create(record).Error
}

// ListImageResults returns a user's results newest first.
func (r *GormRepository) ListImageResults(ctx context.Context, params *entity.ImageResultQuery) ([]entity.DbImageResult, *entity.Meta, error) {
	if r == nil || r.db == nil {
		return nil, nil, fmt.Errorf("repository not initialised")
	}
	if params == nil {
		params = &entity.ImageResultQuery{}
	}

	query := r.db.WithContext(ctx).Model(&entity.DbImageResult{})
	if params.UserID != 0 {
		query = query.Where("user_id = ?", params.UserID)
	}
	if apiType := strings.TrimSpace(params.APIType); apiType != "" {
		query = query.Where("api_type = ?", strings.ToLower(apiType))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, nil, err
	}

	page, pageSize := normalizePage(params.BaseParams)
	var results []entity.DbImageResult
	if err := query.Order("created_at DESC, id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&results).Error; err != nil {
		return nil, nil, err
	}
	return results, r.calculatePagination(total, page, pageSize), nil
}
