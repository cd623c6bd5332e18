package kafka

import (
	"Chorus/internal/api/config"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
)

// MessageEvent 消息落库后进入管道的事件，审核与索引消费组各自消费一份。
// Content 为明文，仅在管道内流转，不回落存储
type MessageEvent struct {
	ConversationID uint64    `json:"conversation_id"`
	Seq            uint64    `json:"seq"`
	SenderRole     int8      `json:"sender_role"`
	SenderID       uint64    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	MsgType        int       `json:"msg_type"`
	Content        string    `json:"content"`
	MediaURL       string    `json:"media_url,omitempty"`
	IsDeleted      bool      `json:"is_deleted"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChargeFailure 生成成功但扣费失败的对账事件，由对账消费者兜底重扣
type ChargeFailure struct {
	UserID           uint64    `json:"user_id"`
	ConversationID   uint64    `json:"conversation_id"`
	CharacterID      uint64    `json:"character_id"`
	Seq              uint64    `json:"seq"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	IdempotencyKey   string    `json:"idempotency_key"`
	FailedAt         time.Time `json:"failed_at"`
}

type Producer interface {
	PublishMessage(ev *MessageEvent) error
	PublishChargeFailure(ev *ChargeFailure) error
	Close() error
}

type producerImpl struct {
	sp           sarama.SyncProducer
	messageTopic string
	billingTopic string
}

func NewProducer(cfg config.KafkaConfig) (Producer, error) {
	c := newSaramaConfig(cfg)
	c.Producer.Return.Successes = true
	c.Producer.RequiredAcks = sarama.WaitForLocal
	c.Producer.Retry.Max = 3
	// 同会话散列到同一分区，消费侧保持会话内顺序
	c.Producer.Partitioner = sarama.NewHashPartitioner

	sp, err := sarama.NewSyncProducer(cfg.Brokers, c)
	if err != nil {
		return nil, err
	}
	return &producerImpl{
		sp:           sp,
		messageTopic: cfg.MessageTopic,
		billingTopic: cfg.BillingTopic,
	}, nil
}

func (s *producerImpl) PublishMessage(ev *MessageEvent) error {
	return s.publish(s.messageTopic, strconv.FormatUint(ev.ConversationID, 10), ev)
}

func (s *producerImpl) PublishChargeFailure(ev *ChargeFailure) error {
	return s.publish(s.billingTopic, strconv.FormatUint(ev.UserID, 10), ev)
}

func (s *producerImpl) publish(topic, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, _, err = s.sp.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	})
	return err
}

func (s *producerImpl) Close() error {
	return s.sp.Close()
}
