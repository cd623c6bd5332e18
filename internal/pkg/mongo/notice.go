package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	NoticeInvited      int8 = 1
	NoticeRemoved      int8 = 2
	NoticeRoleChanged  int8 = 3
	NoticeOwnership    int8 = 4
	NoticeChargeFailed int8 = 5
)

// NoticeModel 系统通知模型
type NoticeModel struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ReceiverID uint64             `bson:"receiver_id" json:"receiverId"` // 消息接收者ID
	SenderID   uint64             `bson:"sender_id" json:"senderId"`     // 动作发起者ID (系统通知可为0)
	Type       int8               `bson:"type" json:"type"`              // 通知类型: 1-被邀请, 2-被移出, 3-角色变更, 4-所有权移交, 5-扣费异常
	TargetID   uint64             `bson:"target_id" json:"targetId"`     // 关联的会话 ID
	Content    string             `bson:"content" json:"content"`        // 通知文案
	Payload    map[string]any     `bson:"payload" json:"payload"`        // 额外元数据 (可选，如会话标题快照)
	IsRead     bool               `bson:"is_read" json:"isRead"`         // 是否已读
	CreatedAt  time.Time          `bson:"created_at" json:"createdAt"`   // 创建时间
}
