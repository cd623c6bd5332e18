package mongo

import (
	"time"
)

// ConversationMemory 压缩后的会话记忆，覆盖 [StartSeq, EndSeq] 闭区间
type ConversationMemory struct {
	ID              string                    `bson:"_id,omitempty" json:"id"`
	ConversationID  uint64                    `bson:"conversation_id" json:"conversationId"`
	StartSeq        uint64                    `bson:"start_seq" json:"startSeq"`
	EndSeq          uint64                    `bson:"end_seq" json:"endSeq"`
	MessageCount    int                       `bson:"message_count" json:"messageCount"`
	Summary         string                    `bson:"summary" json:"summary"`
	KeyEvents       []string                  `bson:"key_events,omitempty" json:"keyEvents"`
	CharacterStates map[string]CharacterState `bson:"character_states,omitempty" json:"characterStates"` // key 为角色名
	NarrativeFlags  []string                  `bson:"narrative_flags,omitempty" json:"narrativeFlags"`
	Model           string                    `bson:"model" json:"model"`
	Usage           TokenUsage                `bson:"usage" json:"usage"`
	CreatedAt       time.Time                 `bson:"created_at" json:"createdAt"`
}

// CharacterState 压缩时捕获的单个角色状态
type CharacterState struct {
	Mood   string   `bson:"mood" json:"mood"`
	Stance string   `bson:"stance" json:"stance"`
	Facts  []string `bson:"facts,omitempty" json:"facts"`
}

type TokenUsage struct {
	PromptTokens     int `bson:"prompt_tokens"`
	CompletionTokens int `bson:"completion_tokens"`
	TotalTokens      int `bson:"total_tokens"`
}
