package entity

import "time"

const (
	ImageResultFailed  = 0
	ImageResultSuccess = 1
)

// DbImageResult is written once per user-facing operation. Only the first
// produced image is kept as the canonical path.
type DbImageResult struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	UserID    uint      `gorm:"column:user_id;index;not null" json:"user_id"`
	APIType   string    `gorm:"column:api_type;type:varchar(64);not null" json:"api_type"`
	Operation string    `gorm:"column:operation;type:varchar(32);not null" json:"operation"`
	Prompt    string    `gorm:"column:prompt;type:text" json:"prompt"`
	ImageURL  string    `gorm:"column:image_url;type:text" json:"image_url"`
	Status    int       `gorm:"column:status;not null;default:1" json:"status"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (DbImageResult) TableName() string {
	return "image_result"
}

// ImageResultQuery lists a user's results page by page.
type ImageResultQuery struct {
	BaseParams
	UserID  uint   `json:"-"`
	APIType string `json:"api_type" form:"api_type"`
}
