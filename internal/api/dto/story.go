package dto

import "time"

// StoryBaseDTO 剧本创建与更新的公共字段
type StoryBaseDTO struct {
	Title        string   `json:"title" binding:"required,max=128"`
	Synopsis     string   `json:"synopsis"`
	OpeningScene string   `json:"opening_scene" binding:"required"`
	MaxUsers     int      `json:"max_users"`
	CharacterIDs []uint64 `json:"character_ids" binding:"required,min=1"`
	IsPublic     bool     `json:"is_public"`
}

// StoryDTO 剧本响应
type StoryDTO struct {
	ID           uint64    `json:"id"`
	OwnerID      uint64    `json:"owner_id"`
	Title        string    `json:"title"`
	Synopsis     string    `json:"synopsis"`
	OpeningScene string    `json:"opening_scene"`
	MaxUsers     int       `json:"max_users"`
	CharacterIDs []uint64  `json:"character_ids"`
	IsPublic     bool      `json:"is_public"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// LaunchStoryReq 开局请求
type LaunchStoryReq struct {
	StoryID uint64 `json:"story_id" binding:"required"`
}
