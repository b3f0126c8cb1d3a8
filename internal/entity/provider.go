package entity

import "time"

const (
	ProviderDream = "dream"
	ProviderNano  = "nano"
)

// DbProviderConfig stores the endpoint, credential and limits of one
// upstream image vendor. APIType is the provider key used everywhere else.
type DbProviderConfig struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	APIType        string    `gorm:"column:api_type;type:varchar(64);uniqueIndex;not null" json:"api_type"`
	Name           string    `gorm:"column:name;type:varchar(128)" json:"name"`
	APIURL         string    `gorm:"column:api_url;type:text" json:"api_url"`
	APIKey         string    `gorm:"column:api_key;type:text" json:"-"`
	Model          string    `gorm:"column:model;type:varchar(255)" json:"model"`
	Enabled        bool      `gorm:"column:enabled;not null;default:true" json:"enabled"`
	UserDailyLimit int       `gorm:"column:user_daily_limit;not null;default:0" json:"user_daily_limit"`
	UsedQuota      int64     `gorm:"column:used_quota;not null;default:0" json:"used_quota"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (DbProviderConfig) TableName() string {
	return "provider_config"
}

// ProviderConfigUpdates 提供商配置更新字段
type ProviderConfigUpdates struct {
	Name           *string
	APIURL         *string
	APIKey         *string
	Model          *string
	Enabled        *bool
	UserDailyLimit *int
}

// ToMap 转换为 GORM 更新 map
func (u ProviderConfigUpdates) ToMap() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.Name != nil {
		updates["name"] = *u.Name
	}
	if u.APIURL != nil {
		updates["api_url"] = *u.APIURL
	}
	if u.APIKey != nil {
		updates["api_key"] = *u.APIKey
	}
	if u.Model != nil {
		updates["model"] = *u.Model
	}
	if u.Enabled != nil {
		updates["enabled"] = *u.Enabled
	}
	if u.UserDailyLimit != nil {
		updates["user_daily_limit"] = *u.UserDailyLimit
	}
	return updates
}

// ProviderConfigUpdateRequest is the admin payload for PATCH /providers/:api_type.
type ProviderConfigUpdateRequest struct {
	Name           *string `json:"name,omitempty"`
	APIURL         *string `json:"api_url,omitempty"`
	APIKey         *string `json:"api_key,omitempty"`
	Model          *string `json:"model,omitempty"`
	Enabled        *bool   `json:"enabled,omitempty"`
	UserDailyLimit *int    `json:"user_daily_limit,omitempty"`
}

func (r ProviderConfigUpdateRequest) ToUpdates() ProviderConfigUpdates {
	return ProviderConfigUpdates{
		Name:           r.Name,
		APIURL:         r.APIURL,
		APIKey:         r.APIKey,
		Model:          r.Model,
		Enabled:        r.Enabled,
		UserDailyLimit: r.UserDailyLimit,
	}
}

// ProviderConfigSummary hides the credential while telling admins whether one is set.
type ProviderConfigSummary struct {
	APIType        string    `json:"api_type"`
	Name           string    `json:"name"`
	APIURL         string    `json:"api_url"`
	Model          string    `json:"model"`
	Enabled        bool      `json:"enabled"`
	HasAPIKey      bool      `json:"has_api_key"`
	UserDailyLimit int       `json:"user_daily_limit"`
	UsedQuota      int64     `json:"used_quota"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (p DbProviderConfig) Summary() ProviderConfigSummary {
	return ProviderConfigSummary{
		APIType:        p.APIType,
		Name:           p.Name,
		APIURL:         p.APIURL,
		Model:          p.Model,
		Enabled:        p.Enabled,
		HasAPIKey:      p.APIKey != "",
		UserDailyLimit: p.UserDailyLimit,
		UsedQuota:      p.UsedQuota,
		UpdatedAt:      p.UpdatedAt,
	}
}
