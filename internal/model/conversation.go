package model

import "time"

const (
	ConvTypeDirect int8 = 1
	ConvTypeGroup  int8 = 2
	ConvTypeStory  int8 = 3
)

const (
	MemoryStateIdle        int8 = 0
	MemoryStateCompressing int8 = 1
	MemoryStateFailed      int8 = 2
)

// Conversation 会话主表
type Conversation struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Type           int8      `gorm:"not null;default:1" json:"type"`              // 1-单聊, 2-群聊, 3-剧本
	ConvKey        string    `gorm:"uniqueIndex;type:varchar(64)" json:"convKey"` // 单聊 uid1_uid2，群聊随机
	Title          string    `gorm:"type:varchar(128)" json:"title"`
	IsMultiUser    int8      `gorm:"not null;default:0" json:"isMultiUser"`
	MaxUsers       int       `gorm:"not null;default:8" json:"maxUsers"`
	OwnerID        uint64    `gorm:"not null;index" json:"ownerId"`
	Policy         string    `gorm:"type:varchar(255)" json:"policy"` // 权限策略 JSON
	MaxMsgSeq      uint64    `gorm:"not null;default:0" json:"maxMsgSeq"`
	LastMemorySeq  uint64    `gorm:"not null;default:0" json:"lastMemorySeq"` // 最新记忆覆盖到的序列号
	MemoryState    int8      `gorm:"not null;default:0" json:"memoryState"`   // 0-空闲, 1-压缩中, 2-失败
	LastMsgContent string    `gorm:"type:varchar(255)" json:"lastMsgContent"`
	LastMsgType    int8      `gorm:"not null;default:1" json:"lastMsgType"`
	LastSenderID   uint64    `gorm:"not null;default:0" json:"lastSenderId"`
	LastMessageAt  time.Time `gorm:"index" json:"lastMessageAt"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (Conversation) TableName() string { return "conversations" }

const (
	ConvRoleOwner     int8 = 1
	ConvRoleModerator int8 = 2
	ConvRoleMember    int8 = 3
	ConvRoleViewer    int8 = 4
)

// ConversationMember 会话成员表
type ConversationMember struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint64    `gorm:"uniqueIndex:idx_conv_user" json:"conversationId"`
	UserID         uint64    `gorm:"uniqueIndex:idx_conv_user;index" json:"userId"`
	Role           int8      `gorm:"not null;default:3" json:"role"` // 1-拥有者, 2-管理员, 3-成员, 4-旁观者
	CanWrite       int8      `gorm:"not null;default:1" json:"canWrite"`
	CanInvite      int8      `gorm:"not null;default:0" json:"canInvite"`
	Nickname       string    `gorm:"type:varchar(64)" json:"nickname"` // 会话内昵称
	InvitedBy      uint64    `gorm:"not null;default:0" json:"invitedBy"`
	ReadMsgSeq     uint64    `gorm:"not null;default:0" json:"readMsgSeq"` // 已读进度
	IsMuted        int8      `gorm:"not null;default:0" json:"isMuted"`
	IsPinned       int8      `gorm:"not null;default:0" json:"isPinned"`
	IsVisible      int8      `gorm:"not null;default:1;index" json:"isVisible"` // 会话列表可见性
	JoinedAt       time.Time `json:"joinedAt"`

	Conversation Conversation `gorm:"foreignKey:ConversationID;references:ID" json:"conversation"`

	// 虚拟字段：仅读不写，存储 SQL 计算结果
	UnreadCount uint64 `gorm:"->" json:"unreadCount"`
}

func (ConversationMember) TableName() string { return "conversation_members" }

// ConversationCharacter 会话角色名单
type ConversationCharacter struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint64    `gorm:"uniqueIndex:idx_conv_char" json:"conversationId"`
	CharacterID    uint64    `gorm:"uniqueIndex:idx_conv_char;index" json:"characterId"`
	AddedBy        uint64    `gorm:"not null;default:0" json:"addedBy"`
	Position       int       `gorm:"not null;default:0" json:"position"`     // 名单内顺序，回复策略的平局裁决
	LastReplySeq   uint64    `gorm:"not null;default:0" json:"lastReplySeq"` // 该角色最近一次回复的序列号
	CreatedAt      time.Time `json:"createdAt"`

	Character Character `gorm:"foreignKey:CharacterID;references:ID" json:"character"`
}

func (ConversationCharacter) TableName() string { return "conversation_characters" }
