package dto

import "time"

// CharacterBaseDTO 角色卡创建与更新的公共字段
type CharacterBaseDTO struct {
	Name        string  `json:"name" binding:"required,max=64"`
	Persona     string  `json:"persona" binding:"required"`
	Greeting    string  `json:"greeting"`
	Scenario    string  `json:"scenario"`
	AvatarURL   string  `json:"avatar_url"`
	Temperature float64 `json:"temperature"`
	CanBrowse   bool    `json:"can_browse"`
	IsPublic    bool    `json:"is_public"`
}

// CharacterDTO 角色卡响应
type CharacterDTO struct {
	ID          uint64    `json:"id"`
	OwnerID     uint64    `json:"owner_id"`
	Name        string    `json:"name"`
	Persona     string    `json:"persona"`
	Greeting    string    `json:"greeting"`
	Scenario    string    `json:"scenario"`
	AvatarURL   string    `json:"avatar_url"`
	Temperature float64   `json:"temperature"`
	CanBrowse   bool      `json:"can_browse"`
	IsPublic    bool      `json:"is_public"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
