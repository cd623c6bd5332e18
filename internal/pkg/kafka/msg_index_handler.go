package kafka

import (
	"Chorus/internal/pkg/es"
	"context"
	log "log/slog"

	"github.com/IBM/sarama"
)

// MsgIndexHandler 消息检索索引同步。文档主键固定，重放与乱序都收敛到最终状态
type MsgIndexHandler struct {
	msgESRepo es.MessageRepo
}

func NewMsgIndexHandler(msgESRepo es.MessageRepo) *MsgIndexHandler {
	return &MsgIndexHandler{
		msgESRepo: msgESRepo,
	}
}

func (s *MsgIndexHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info("message index consumer setup")
	return nil
}

func (s *MsgIndexHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info("message index consumer cleanup")
	return nil
}

func (s *MsgIndexHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	log.Info("topic-message index consume claim")
	err := pullMessageBatch(session, claim, s.logic)
	if err != nil {
		log.Error("process batch error", "err", err)
		return err
	}
	log.Info("topic-message index consume claim end")
	return nil
}

func (s *MsgIndexHandler) logic(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ev, err := decodeMessageEvent(msg)
	if err != nil {
		// 结构坏死的消息重试不会变好，丢弃防止卡死分区
		return nil
	}

	if ev.IsDeleted {
		return s.msgESRepo.MarkMessageDeleted(ctx, ev.ConversationID, ev.Seq)
	}

	return s.msgESRepo.IndexMessage(ctx, &es.MessageES{
		ConversationID: ev.ConversationID,
		Seq:            ev.Seq,
		SenderRole:     ev.SenderRole,
		SenderID:       ev.SenderID,
		SenderName:     ev.SenderName,
		MsgType:        int8(ev.MsgType),
		Content:        ev.Content,
		IsDeleted:      ev.IsDeleted,
		CreatedAt:      ev.CreatedAt,
	})
}
