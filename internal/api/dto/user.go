package dto

import "time"

// UserDTO 用户
type UserDTO struct {
	UserID    *uint64    `json:"user_id,omitempty"`
	Nickname  *string    `json:"nickname,omitempty"`
	AvatarURL *string    `json:"avatar_url,omitempty"`
	Bio       *string    `json:"bio,omitempty" validate:"omitempty,max=200"`
	Gender    *uint8     `json:"gender,omitempty" validate:"omitempty,min=0,max=1"`
	Region    *string    `json:"region,omitempty"`
	Birthday  *string    `json:"birthday,omitempty" validate:"omitempty,datetime=2006-01-02"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// GetUserByConditionDTO 管理端按条件查用户
type GetUserByConditionDTO struct {
	ID       *uint64 `json:"id,omitempty" form:"id"`
	Username *string `json:"username,omitempty" form:"username"`
	Nickname *string `json:"nickname,omitempty" form:"nickname"`
	Page     int     `json:"page,omitempty" form:"page"`
	PageSize int     `json:"page_size,omitempty" form:"page_size"`
}

// RegisterDTO 注册
type RegisterDTO struct {
	Username *string `json:"username"`
	Password *string `json:"password"`

	Nickname  string  `json:"nickname" validate:"required,min=1,max=15"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Bio       *string `json:"bio,omitempty"`
	Gender    uint8   `json:"gender,omitempty"`
	Region    *string `json:"region,omitempty"`
	Birthday  string  `json:"birthday,omitempty" validate:"required"`
}

// CredentialDTO 登录凭证
type CredentialDTO struct {
	Username *string `json:"username,omitempty"`
	Password *string `json:"password,omitempty"`
}

// ChangeUsernameDTO 修改用户名
type ChangeUsernameDTO struct {
	Username *string `json:"username" binding:"required" validate:"min=3,max=20"`
}

// ChangePasswordDTO 修改密码
type ChangePasswordDTO struct {
	OldPassword *string `json:"old_password" binding:"required" validate:"min=6,max=20"`
	NewPassword *string `json:"new_password" binding:"required" validate:"min=6,max=20"`
}

// BanUserDTO 封禁/解封目标
type BanUserDTO struct {
	UserID uint64 `json:"user_id" binding:"required"`
}
