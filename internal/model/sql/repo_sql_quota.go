package sql

import (
	"context"
	"errors"
	"fmt"

	"imagegate/internal/entity"

	"gorm.io/gorm"
)

// GetOrCreateDailyQuota returns the (user, api_type, date) counter,
// inserting an empty one on first use. Two first calls of the day may race
// on the unique index; the loser reads the winner's row.
func (r *GormRepository) GetOrCreateDailyQuota(ctx context.Context, userID uint, apiType, date string) (*entity.DbUserDailyQuota, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	row, err := r.findDailyQuota(ctx, userID, apiType, date)
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	created := entity.DbUserDailyQuota{UserID: userID, APIType: apiType, Date: date}
	if err := r.db.WithContext(ctx).Create(&created).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return r.findDailyQuota(ctx, userID, apiType, date)
		}
		return nil, err
	}
	return &created, nil
}

func (r *GormRepository) findDailyQuota(ctx context.Context, userID uint, apiType, date string) (*entity.DbUserDailyQuota, error) {
	var row entity.DbUserDailyQuota
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND api_type = ? AND date = ?", userID, apiType, date).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// IncrementDailyQuota adds delta to the day's counter.
func (r *GormRepository) IncrementDailyQuota(ctx context.Context, userID uint, apiType, date string, delta int) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if delta <= 0 {
		return nil
	}
	if _, err := r.GetOrCreateDailyQuota(ctx, userID, apiType, date); err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Model(&entity.DbUserDailyQuota{}).
		Where("user_id = ? AND api_type = ? AND date = ?", userID, apiType, date).
		UpdateColumn("used_quota", gorm.Expr("used_quota + ?", delta)).Error
}
