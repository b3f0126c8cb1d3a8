package sql

import (
	"context"
	"fmt"

	"imagegate/internal/entity"

	"gorm.io/gorm"
)

// DebitCredits subtracts amount in a single conditional UPDATE. It reports
// false without touching the row when the balance is too low, so two
// concurrent debits can never overdraw.
func (r *GormRepository) DebitCredits(ctx context.Context, userID uint, amount int) (bool, error) {
	if r == nil || r.db == nil {
		return false, fmt.Errorf("repository not initialised")
	}
	if userID == 0 || amount <= 0 {
		return false, fmt.Errorf("invalid debit")
	}
	result := r.db.WithContext(ctx).
		Model(&entity.DbUser{}).
		Where("id = ? AND credits >= ?", userID, amount).
		UpdateColumn("credits", gorm.Expr("credits - ?", amount))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// RefundCredits gives back a previous debit.
func (r *GormRepository) RefundCredits(ctx context.Context, userID uint, amount int) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if userID == 0 || amount <= 0 {
		return fmt.Errorf("invalid refund")
	}
	result := r.db.WithContext(ctx).
		Model(&entity.DbUser{}).
		Where("id = ?", userID).
		UpdateColumn("credits", gorm.Expr("credits + ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// AddCredits applies delta and floors the balance at zero, returning the
// new balance.
func (r *GormRepository) AddCredits(ctx context.Context, userID uint, delta int) (int, error) {
	if r == nil || r.db == nil {
		return 0, fmt.Errorf("repository not initialised")
	}
	if userID == 0 {
		return 0, fmt.Errorf("invalid user id")
	}

	var balance int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&entity.DbUser{}).
			Where("id = ?", userID).
			UpdateColumn("credits", gorm.Expr("CASE WHEN credits + ? < 0 THEN 0 ELSE credits + ? END", delta, delta))
		if result.Error != nil {
			return result.Error
		}
		var user entity.DbUser
		if err := tx.Select("credits").First(&user, userID).Error; err != nil {
			return err
		}
		balance = user.Credits
		return nil
	})
	return balance, err
}

// SetCredits overwrites the balance.
func (r *GormRepository) SetCredits(ctx context.Context, userID uint, amount int) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if userID == 0 {
		return fmt.Errorf("invalid user id")
	}
	if amount < 0 {
		return fmt.Errorf("credits must not be negative")
	}
	result := r.db.WithContext(ctx).
		Model(&entity.DbUser{}).
		Where("id = ?", userID).
		UpdateColumn("credits", amount)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// MySQL 不计入值未变化的行
		_, err := r.GetUserByID(ctx, userID)
		return err
	}
	return nil
}

// CreateCreditUsageLog appends one committed debit.
func (r *GormRepository) CreateCreditUsageLog(ctx context.Context, entry *entity.DbCreditUsageLog) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if entry == nil {
		return fmt.Errorf("credit usage log is nil")
	}
	return r.db.WithContext(ctx).Create(entry).Error
}
