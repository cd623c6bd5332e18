package hub

import (
	"time"

	"github.com/goccy/go-json"
)

const (
	EventMessageReceived  = "MESSAGE_RECEIVED"
	EventMessageDeleted   = "MESSAGE_DELETED"
	EventMessageFlagged   = "MESSAGE_FLAGGED"
	EventMemberJoined     = "MEMBER_JOINED"
	EventMemberLeft       = "MEMBER_LEFT"
	EventMemberKicked     = "MEMBER_KICKED"
	EventRoleChanged      = "ROLE_CHANGED"
	EventOwnerChanged     = "OWNER_CHANGED"
	EventModeChanged      = "MODE_CHANGED"
	EventCharacterAdded   = "CHARACTER_ADDED"
	EventCharacterRemoved = "CHARACTER_REMOVED"
	EventPresenceOnline   = "PRESENCE_ONLINE"
	EventPresenceOffline  = "PRESENCE_OFFLINE"
	EventTyping           = "TYPING"
	EventReadReceipt      = "READ_RECEIPT"
	EventGenerateStarted  = "GENERATE_STARTED"
	EventGenerateDone     = "GENERATE_DONE"
	EventGenerateFailed   = "GENERATE_FAILED"
	EventMemoryStarted    = "MEMORY_COMPRESS_STARTED"
	EventMemoryDone       = "MEMORY_COMPRESS_DONE"
	EventMemoryFailed     = "MEMORY_COMPRESS_FAILED"
)

// Event 会话域事件信封，同一会话内按发布顺序送达
type Event struct {
	Type           string          `json:"type"`
	ConversationID uint64          `json:"conversationId"`
	Seq            uint64          `json:"seq,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	At             time.Time       `json:"at"`
}

// NewEvent 装配事件，payload 序列化失败时退化为空 data
func NewEvent(eventType string, convID uint64, seq uint64, payload any) *Event {
	ev := &Event{
		Type:           eventType,
		ConversationID: convID,
		Seq:            seq,
		At:             time.Now(),
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Data = data
		}
	}
	return ev
}

// Encode 输出下发给客户端的字节
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent 从总线字节还原事件
func DecodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
