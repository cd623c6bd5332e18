package kafka

import (
	"Chorus/internal/pkg/hub"
	"Chorus/internal/pkg/llm"
	"Chorus/internal/pkg/minio"
	"Chorus/internal/pkg/mongo"
	"Chorus/internal/pkg/processor"
	"Chorus/internal/pkg/security"
	"context"
	log "log/slog"

	"github.com/IBM/sarama"
)

// ModerateHandler 人类消息异步审核。文本直接送审，图片走视觉模型，
// 语音先转写再送审。判罚后标记原消息并向会话推送遮蔽事件
type ModerateHandler struct {
	msgRepo     mongo.MessageRepo
	broadcaster hub.Broadcaster
	auditor     processor.MessageAuditor
}

func NewModerateHandler(msgRepo mongo.MessageRepo, broadcaster hub.Broadcaster, auditor processor.MessageAuditor) *ModerateHandler {
	return &ModerateHandler{
		msgRepo:     msgRepo,
		broadcaster: broadcaster,
		auditor:     auditor,
	}
}

func (s *ModerateHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info("moderate consumer setup")
	return nil
}

func (s *ModerateHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info("moderate consumer cleanup")
	return nil
}

func (s *ModerateHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	log.Info("topic-message moderate consume claim")
	err := pullMessageBatch(session, claim, s.logic)
	if err != nil {
		log.Error("process batch error", "err", err)
		return err
	}
	log.Info("topic-message moderate consume claim end")
	return nil
}

func (s *ModerateHandler) logic(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ev, err := decodeMessageEvent(msg)
	if err != nil {
		// 结构坏死的消息重试不会变好，丢弃防止卡死分区
		return nil
	}
	// 只审人类发的内容，角色产出已有生成侧约束
	if ev.SenderRole != mongo.SenderHuman || ev.IsDeleted {
		return nil
	}

	in := &processor.AuditInput{
		SenderName: ev.SenderName,
		Text:       ev.Content,
	}
	if ev.MediaURL != "" {
		switch ev.MsgType {
		case mongo.MsgTypeImage:
			in.ImageURL = minio.GetPublicURL(ev.MediaURL)
		case mongo.MsgTypeAudio:
			in.AudioURL = minio.GetPublicURL(ev.MediaURL)
		}
	}
	if in.Text == "" && in.ImageURL == "" && in.AudioURL == "" {
		return nil
	}

	result, err := s.auditor.Audit(ctx, in)
	if err != nil {
		return err
	}

	// 转写结果回写消息，角色生成上下文可直接取用
	if result.Transcript != "" {
		sealed, sErr := security.SealMessage(result.Transcript)
		if sErr == nil {
			if tErr := s.msgRepo.SetTranscript(ctx, ev.ConversationID, ev.Seq, sealed); tErr != nil {
				log.Warn("语音转写回写失败", "convID", ev.ConversationID, "seq", ev.Seq, "err", tErr)
			}
		}
	}

	switch result.Status {
	case llm.ContentSafeDeny:
		if err := s.msgRepo.MarkFlagged(ctx, ev.ConversationID, ev.Seq, result.Reason); err != nil {
			return err
		}
		bErr := s.broadcaster.Broadcast(ctx, hub.NewEvent(hub.EventMessageFlagged, ev.ConversationID, ev.Seq, map[string]interface{}{
			"seq":    ev.Seq,
			"reason": result.Reason,
		}))
		if bErr != nil {
			log.Warn("遮蔽事件广播失败", "convID", ev.ConversationID, "seq", ev.Seq, "err", bErr)
		}
	case llm.ContentSafeWarn:
		log.Warn("消息待人工复核", "convID", ev.ConversationID, "seq", ev.Seq, "reason", result.Reason)
	}
	return nil
}
