package mongo

import (
	"time"
)

const (
	SenderHuman     int8 = 1
	SenderCharacter int8 = 2
	SenderSystem    int8 = 3
)

const (
	MsgTypeText  = 1
	MsgTypeImage = 2
	MsgTypeAudio = 3
)

// Message MongoDB 消息明细模型
type Message struct {
	ID             string    `bson:"_id,omitempty" json:"id"`               // MongoDB 自动生成的 ObjectID
	ConversationID uint64    `bson:"conversation_id" json:"conversationId"` // 关联 MySQL 的会话 ID
	SenderRole     int8      `bson:"sender_role" json:"senderRole"`         // 1-用户, 2-角色, 3-系统
	SenderID       uint64    `bson:"sender_id" json:"senderId"`             // 发送者 UID 或角色 ID
	MsgType        int       `bson:"msg_type" json:"msgType"`               // 1-文本, 2-图片, 3-音频
	Cipher         string    `bson:"cipher" json:"-"`                       // 加密后的正文，落库不落明文
	Payload        []Payload `bson:"payload,omitempty" json:"payload"`      // 结构化附件（如 URL, 宽高, 时长等）
	Transcript     string    `bson:"transcript,omitempty" json:"-"`         // 语音转写缓存（加密）
	Seq            uint64    `bson:"seq" json:"seq"`                        // 该消息在会话中的唯一绝对序号 (来自 MySQL)
	ReplyTo        uint64    `bson:"reply_to,omitempty" json:"replyTo"`     // 被回复的消息 Seq
	TriggerUserID  uint64    `bson:"trigger_user_id,omitempty" json:"-"`    // 角色消息的计费归属用户
	IsDeleted      bool      `bson:"is_deleted,omitempty" json:"isDeleted"`
	IsFlagged      bool      `bson:"is_flagged,omitempty" json:"isFlagged"`
	FlagReason     string    `bson:"flag_reason,omitempty" json:"-"`
	CreatedAt      time.Time `bson:"created_at" json:"createdAt"` // 消息发送时间
}

// Payload 附件
type Payload struct {
	MimeType string  `bson:"mime_type" json:"mime_type"`
	MediaURL string  `bson:"url" json:"url"`
	Width    int     `bson:"width" json:"width"`
	Height   int     `bson:"height" json:"height"`
	Duration float64 `bson:"duration" json:"duration"`
	CoverURL string  `bson:"cover_url,omitempty" json:"cover_url"`
}
