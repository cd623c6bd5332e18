package es

import "time"

// MessageES 消息检索文档。正文以明文入索引，访问经由会话成员校验
type MessageES struct {
	ConversationID uint64    `json:"conversation_id"`
	Seq            uint64    `json:"seq"`
	SenderRole     int8      `json:"sender_role"`
	SenderID       uint64    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	MsgType        int8      `json:"msg_type"`
	Content        string    `json:"content"`
	IsDeleted      bool      `json:"is_deleted"`
	CreatedAt      time.Time `json:"created_at"`
}
