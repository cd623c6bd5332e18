package es

import "time"

const (
	LoreKindWorld     = "world"
	LoreKindCharacter = "character"
	LoreKindStory     = "story"
)

// LoreES 设定集文档：世界观、角色背景、剧本资料的统一检索入口
type LoreES struct {
	ID            uint64        `json:"id"`
	Kind          string        `json:"kind"` // world / character / story
	RefID         uint64        `json:"ref_id"`
	OwnerID       uint64        `json:"owner_id"`
	IsPublic      bool          `json:"is_public"`
	Title         string        `json:"title"`
	Content       string        `json:"content"`
	ContentVector []float32     `json:"content_vector,omitempty"`
	Tags          []string      `json:"tags"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Sort          []interface{} `json:"-"`
}
