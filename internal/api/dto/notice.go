package dto

// NoticeDTO 系统通知返回对象
type NoticeDTO struct {
	ID         string         `json:"id"`
	SenderID   uint64         `json:"sender_id"`
	SenderName string         `json:"sender_name"`
	AvatarURL  string         `json:"avatar_url"`
	Type       int8           `json:"type"`      // 1-被邀请, 2-被移出, 3-角色变更, 4-所有权移交, 5-扣费异常
	TargetID   uint64         `json:"target_id"` // 关联的会话 ID
	Content    string         `json:"content"`   // 通知文案
	Payload    map[string]any `json:"payload"`   // 扩展字段
	IsRead     bool           `json:"is_read"`
	CreatedAt  string         `json:"created_at"`
}

// NoticeUnreadDTO 未读数返回
type NoticeUnreadDTO struct {
	UnreadCount int64 `json:"unread_count"`
}
