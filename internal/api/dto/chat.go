package dto

import "time"

// CreateConversationReq 创建会话请求体
type CreateConversationReq struct {
	Type         int8     `json:"type" binding:"required"` // 1-单人, 2-多人, 3-剧本
	Title        string   `json:"title"`
	IsMultiUser  bool     `json:"is_multi_user"`
	MaxUsers     int      `json:"max_users"`
	CharacterIDs []uint64 `json:"character_ids"`
}

// SendMessageReq 发送消息请求体
type SendMessageReq struct {
	ConversationID uint64       `json:"conversation_id" binding:"required"`
	MsgType        int8         `json:"msg_type" binding:"required"` // 1-文本, 2-图片, 3-语音
	Content        string       `json:"content"`
	Payload        []PayloadDTO `json:"payload"`
	ReplyTo        uint64       `json:"reply_to"`
}

// PayloadDTO 消息附件
type PayloadDTO struct {
	MimeType string  `json:"mime_type"`
	MediaURL string  `json:"url"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Duration float64 `json:"duration"`
	CoverURL string  `json:"cover_url,omitempty"`
}

// MessageDTO 消息明细响应，Content 为解密后的明文
type MessageDTO struct {
	ID             string       `json:"id,omitempty"`
	ConversationID uint64       `json:"conversation_id"`
	SenderRole     int8         `json:"sender_role"` // 1-用户, 2-角色, 3-系统
	SenderID       uint64       `json:"sender_id"`
	SenderName     string       `json:"sender_name,omitempty"`
	MsgType        int8         `json:"msg_type"`
	Content        string       `json:"content"`
	Payload        []PayloadDTO `json:"payload,omitempty"`
	Seq            uint64       `json:"seq"`
	ReplyTo        uint64       `json:"reply_to,omitempty"`
	TriggerUserID  uint64       `json:"trigger_user_id,omitempty"`
	IsDeleted      bool         `json:"is_deleted,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// ConversationDTO 会话列表项响应
type ConversationDTO struct {
	ConversationID uint64    `json:"conversation_id"`
	ConvKey        string    `json:"conv_key"`
	Type           int8      `json:"type"`
	Title          string    `json:"title"`
	IsMultiUser    bool      `json:"is_multi_user"`
	OwnerID        uint64    `json:"owner_id"`
	Role           int8      `json:"role"`
	LastMsgContent string    `json:"last_msg_content"`
	LastMsgType    int8      `json:"last_msg_type"`
	LastSenderID   uint64    `json:"last_sender_id"`
	LastMessageAt  time.Time `json:"lastMessageAt"`
	UnreadCount    uint64    `json:"unreadCount"`
	IsMuted        bool      `json:"isMuted"`
	IsPinned       bool      `json:"isPinned"`
}

// MemberDTO 会话成员响应，按加入时间排序
type MemberDTO struct {
	UserID    uint64    `json:"user_id"`
	Nickname  string    `json:"nickname"`
	AvatarURL string    `json:"avatar_url"`
	Role      int8      `json:"role"` // 1-所有者, 2-协管, 3-成员, 4-旁观
	CanWrite  bool      `json:"can_write"`
	CanInvite bool      `json:"can_invite"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// ConversationCharacterDTO 会话角色名单项
type ConversationCharacterDTO struct {
	CharacterID  uint64 `json:"character_id"`
	Name         string `json:"name"`
	AvatarURL    string `json:"avatar_url"`
	Position     int    `json:"position"`
	LastReplySeq uint64 `json:"last_reply_seq"`
}

// InviteMemberReq 邀请成员请求体
type InviteMemberReq struct {
	ConversationID uint64 `json:"conversation_id" binding:"required"`
	UserID         uint64 `json:"user_id" binding:"required"`
	Role           int8   `json:"role"` // 缺省为成员
}

// MemberTargetReq 针对某成员的操作请求体（踢出等）
type MemberTargetReq struct {
	ConversationID uint64 `json:"conversation_id" binding:"required"`
	UserID         uint64 `json:"user_id" binding:"required"`
}

// UpdateRoleReq 调整成员角色请求体
type UpdateRoleReq struct {
	ConversationID uint64 `json:"conversation_id" binding:"required"`
	UserID         uint64 `json:"user_id" binding:"required"`
	Role           int8   `json:"role" binding:"required"`
}

// TransferOwnershipReq 移交所有权请求体
type TransferOwnershipReq struct {
	ConversationID uint64 `json:"conversation_id" binding:"required"`
	UserID         uint64 `json:"user_id" binding:"required"`
}

// SetWritableReq 调整成员发言权请求体
type SetWritableReq struct {
	ConversationID uint64 `json:"conversation_id" binding:"required"`
	UserID         uint64 `json:"user_id" binding:"required"`
	CanWrite       *bool  `json:"can_write" binding:"required"`
}

// UpdateModeReq 切换单人/多人模式请求体
type UpdateModeReq struct {
	ConversationID uint64 `json:"conversation_id" binding:"required"`
	IsMultiUser    *bool  `json:"is_multi_user" binding:"required"`
	MaxUsers       int    `json:"max_users"`
}

// ConversationCharacterReq 向会话增删角色的请求体
type ConversationCharacterReq struct {
	ConversationID uint64 `json:"conversation_id" binding:"required"`
	CharacterID    uint64 `json:"character_id" binding:"required"`
}

// TypingReq 输入状态上报
type TypingReq struct {
	ConversationID uint64 `json:"conversation_id" binding:"required"`
	IsTyping       *bool  `json:"is_typing" binding:"required"`
}

// TypingDTO 输入状态推送
type TypingDTO struct {
	ConversationID uint64 `json:"conversation_id"`
	UserID         uint64 `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// OnlineUserDTO 在场用户
type OnlineUserDTO struct {
	UserID    uint64 `json:"user_id"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatar_url"`
	ConnCount int    `json:"conn_count"`
}

// ReprocessReq 重新生成某条角色回复的请求体
type ReprocessReq struct {
	ConversationID uint64 `json:"conversation_id" binding:"required"`
	Seq            uint64 `json:"seq" binding:"required"`
}

// DeleteMessageReq 删除消息请求体
type DeleteMessageReq struct {
	ConversationID uint64 `json:"conversation_id" binding:"required"`
	Seq            uint64 `json:"seq" binding:"required"`
}

// MarkAsReadReq 标记为已读请求
type MarkAsReadReq struct {
	ConversationID uint64 `json:"conversation_id" binding:"required"`
	Sequence       uint64 `json:"sequence" binding:"required"` // 客户端当前看到的最后一条消息序号
}

// ReadReceiptDTO 已读回执推送
type ReadReceiptDTO struct {
	ConversationID uint64 `json:"conversation_id"`
	UserID         uint64 `json:"user_id"`
	ReadSeq        uint64 `json:"read_seq"`
}

// MemoryDTO 记忆片段响应
type MemoryDTO struct {
	ID           string    `json:"id"`
	StartSeq     uint64    `json:"start_seq"`
	EndSeq       uint64    `json:"end_seq"`
	MessageCount int       `json:"message_count"`
	Summary      string    `json:"summary"`
	KeyEvents    []string  `json:"key_events"`
	CreatedAt    time.Time `json:"createdAt"`
}
