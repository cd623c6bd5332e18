package model

import "time"

// Character AI 角色卡
type Character struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID     uint64    `gorm:"not null;index" json:"ownerId"`
	Name        string    `gorm:"type:varchar(64);not null" json:"name"`
	Persona     string    `gorm:"type:text" json:"persona"` // 人设与说话方式
	Greeting    string    `gorm:"type:text" json:"greeting"`
	Scenario    string    `gorm:"type:text" json:"scenario"`
	AvatarURL   string    `gorm:"type:varchar(512);default:'default_avatar.png'" json:"avatarUrl"`
	Temperature float64   `gorm:"not null;default:0.8" json:"temperature"`
	CanBrowse   int8      `gorm:"not null;default:0" json:"canBrowse"` // 是否允许联网工具
	IsPublic    int8      `gorm:"not null;default:0" json:"isPublic"`
	IsDelete    int8      `gorm:"not null;default:0" json:"isDelete"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Character) TableName() string { return "characters" }
