package entity

import "time"

const (
	UserRoleSuperAdmin = "super_admin"
	UserRoleAdmin      = "admin"
	UserRoleUser       = "user"
)

// DbUser represents a persisted user account. Credits is the spendable
// balance and must never go negative.
type DbUser struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Email        string    `gorm:"column:email;type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"column:password_hash;type:varchar(255);not null" json:"-"`
	DisplayName  string    `gorm:"column:display_name;type:varchar(255)" json:"display_name"`
	Role         string    `gorm:"column:role;type:varchar(50);index;not null" json:"role"`
	IsActive     bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	Credits      int       `gorm:"column:credits;not null;default:0" json:"credits"`
}

// TableName overrides default pluralised name.
func (DbUser) TableName() string {
	return "users"
}

// IsAdmin reports whether the role is exempt from credit charges.
func (u DbUser) IsAdmin() bool {
	return IsAdminRole(u.Role)
}

func (u DbUser) IsSuperAdmin() bool {
	return u.Role == UserRoleSuperAdmin
}

func IsAdminRole(role string) bool {
	switch role {
	case UserRoleAdmin, UserRoleSuperAdmin:
		return true
	default:
		return false
	}
}

// UserSummary is a lightweight user description returned to clients.
type UserSummary struct {
	ID          uint      `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	IsActive    bool      `json:"is_active"`
	Credits     int       `json:"credits"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserQuery 用户列表查询参数
type UserQuery struct {
	BaseParams
	Role    string `json:"role" form:"role"`
	Keyword string `json:"keyword" form:"keyword"`
}

type UserListResponse struct {
	Users []UserSummary `json:"users"`
	Meta  *Meta         `json:"meta"`
}

// UserCreateRequest is used by admins to open an account with an opening balance.
type UserCreateRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Credits     int    `json:"credits" binding:"min=0"`
	IsActive    *bool  `json:"is_active"`
}

type AuthRegisterRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name"`
}

type AuthStatusResponse struct {
	HasUser bool `json:"has_user"`
}

type AuthLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      UserSummary `json:"user"`
}

// CreditAdjustRequest is used by admins to grant or overwrite a balance.
// Mode "add" applies Amount as a delta, "set" overwrites.
type CreditAdjustRequest struct {
	Mode   string `json:"mode" binding:"required,oneof=add set"`
	Amount int    `json:"amount"`
}

type CreditBalanceResponse struct {
	UserID  uint `json:"user_id"`
	Credits int  `json:"credits"`
	IsAdmin bool `json:"is_admin"`
}
