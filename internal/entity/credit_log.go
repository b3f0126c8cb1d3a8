package entity

import "time"

// DbCreditUsageLog is appended only after a debit has been committed.
type DbCreditUsageLog struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	UserID        uint      `gorm:"column:user_id;index;not null" json:"user_id"`
	Amount        int       `gorm:"column:amount;not null" json:"amount"`
	OperationType string    `gorm:"column:operation_type;type:varchar(32);not null" json:"operation_type"`
	APIType       string    `gorm:"column:api_type;type:varchar(64);not null" json:"api_type"`
	CreatedAt     time.Time `json:"created_at"`
}

func (DbCreditUsageLog) TableName() string {
	return "credit_usage_log"
}
