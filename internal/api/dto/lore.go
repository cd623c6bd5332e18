package dto

import "time"

// LoreBaseDTO 设定条目创建与更新的公共字段
type LoreBaseDTO struct {
	Kind     string   `json:"kind" binding:"required,oneof=world character story"`
	RefID    uint64   `json:"ref_id"`
	Title    string   `json:"title" binding:"required,max=128"`
	Content  string   `json:"content" binding:"required"`
	Tags     []string `json:"tags"`
	IsPublic bool     `json:"is_public"`
}

// LoreListDTO 按类别浏览的游标分页响应
type LoreListDTO struct {
	List       []*LoreDTO `json:"list"`
	NextCursor string     `json:"next_cursor"`
	HasMore    bool       `json:"has_more"`
}

// LoreDTO 设定条目响应
type LoreDTO struct {
	ID        uint64    `json:"id"`
	Kind      string    `json:"kind"`
	RefID     uint64    `json:"ref_id"`
	OwnerID   uint64    `json:"owner_id"`
	IsPublic  bool      `json:"is_public"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
