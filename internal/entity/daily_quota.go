package entity

import "time"

// DbUserDailyQuota counts images produced per user, provider and calendar day.
type DbUserDailyQuota struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	UserID    uint      `gorm:"column:user_id;not null;uniqueIndex:idx_user_api_date,priority:1" json:"user_id"`
	APIType   string    `gorm:"column:api_type;type:varchar(64);not null;uniqueIndex:idx_user_api_date,priority:2" json:"api_type"`
	Date      string    `gorm:"column:date;type:varchar(10);not null;uniqueIndex:idx_user_api_date,priority:3" json:"date"`
	UsedQuota int       `gorm:"column:used_quota;not null;default:0" json:"used_quota"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (DbUserDailyQuota) TableName() string {
	return "user_daily_quota"
}
