package model

import "time"

// Story 剧本模板，开局后实例化为会话
type Story struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID      uint64    `gorm:"not null;index" json:"ownerId"`
	Title        string    `gorm:"type:varchar(128);not null" json:"title"`
	Synopsis     string    `gorm:"type:text" json:"synopsis"`
	OpeningScene string    `gorm:"type:text" json:"openingScene"`
	MaxUsers     int       `gorm:"not null;default:8" json:"maxUsers"`
	CharacterIDs string    `gorm:"type:varchar(512)" json:"characterIds"` // JSON 数组
	IsPublic     int8      `gorm:"not null;default:0" json:"isPublic"`
	IsDelete     int8      `gorm:"not null;default:0" json:"isDelete"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (Story) TableName() string { return "stories" }
