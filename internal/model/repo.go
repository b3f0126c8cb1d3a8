package model

import (
	"context"

	"imagegate/internal/entity"
)

// UserRepository 用户与积分
type UserRepository interface {
	CreateUser(ctx context.Context, user *entity.DbUser) error
	GetUserByEmail(ctx context.Context, email string) (*entity.DbUser, error)
	GetUserByID(ctx context.Context, id uint) (*entity.DbUser, error)
	ListUsers(ctx context.Context, params *entity.UserQuery) ([]entity.DbUser, *entity.Meta, error)
	CountUsers(ctx context.Context) (int64, error)

	DebitCredits(ctx context.Context, userID uint, amount int) (bool, error)
	RefundCredits(ctx context.Context, userID uint, amount int) error
	AddCredits(ctx context.Context, userID uint, amount int) (int, error)
	SetCredits(ctx context.Context, userID uint, amount int) error
	CreateCreditUsageLog(ctx context.Context, entry *entity.DbCreditUsageLog) error
}

// ProviderConfigRepository 服务商配置
type ProviderConfigRepository interface {
	GetProviderConfig(ctx context.Context, apiType string) (*entity.DbProviderConfig, error)
	ListProviderConfigs(ctx context.Context) ([]entity.DbProviderConfig, error)
	CreateProviderConfig(ctx context.Context, cfg *entity.DbProviderConfig) error
	UpdateProviderConfig(ctx context.Context, apiType string, updates map[string]interface{}) error
	IncrementProviderUsage(ctx context.Context, apiType string, delta int) error
}

// ImageResultRepository 生成结果
type ImageResultRepository interface {
	CreateImageResult(ctx context.Context, record *entity.DbImageResult) error
	ListImageResults(ctx context.Context, params *entity.ImageResultQuery) ([]entity.DbImageResult, *entity.Meta, error)
}

// DailyQuotaRepository 每日配额
type DailyQuotaRepository interface {
	GetOrCreateDailyQuota(ctx context.Context, userID uint, apiType, date string) (*entity.DbUserDailyQuota, error)
	IncrementDailyQuota(ctx context.Context, userID uint, apiType, date string, delta int) error
}

// Repository 定义数据库操作接口
type Repository interface {
	UserRepository
	ProviderConfigRepository
	ImageResultRepository
	DailyQuotaRepository
}
