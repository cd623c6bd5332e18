package kafka

import (
	"Chorus/internal/pkg/billing"
	"context"
	"errors"
	log "log/slog"

	"github.com/IBM/sarama"
)

// BillingHandler 扣费对账。主链路扣费失败的单据在这里凭幂等键补扣
type BillingHandler struct {
	ledger billing.Ledger
}

func NewBillingHandler(ledger billing.Ledger) *BillingHandler {
	return &BillingHandler{
		ledger: ledger,
	}
}

func (s *BillingHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info("billing reconciler setup")
	return nil
}

func (s *BillingHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info("billing reconciler cleanup")
	return nil
}

func (s *BillingHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	log.Info("topic-billing consume claim")
	err := pullMessageBatch(session, claim, s.logic)
	if err != nil {
		log.Error("process batch error", "err", err)
		return err
	}
	log.Info("topic-billing consume claim end")
	return nil
}

func (s *BillingHandler) logic(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ev, err := decodeChargeFailure(msg)
	if err != nil {
		// 结构坏死的单据重试不会变好，丢弃防止卡死分区
		return nil
	}

	_, err = s.ledger.Charge(ctx, &billing.ChargeRequest{
		UserID:           ev.UserID,
		ConversationID:   ev.ConversationID,
		CharacterID:      ev.CharacterID,
		Seq:              ev.Seq,
		PromptTokens:     ev.PromptTokens,
		CompletionTokens: ev.CompletionTokens,
		IdempotencyKey:   ev.IdempotencyKey,
	})
	if err != nil {
		// 余额不足不值得重试，留给运营侧追缴
		if errors.Is(err, billing.ErrInsufficient) {
			log.Warn("补扣失败：余额不足", "userID", ev.UserID, "key", ev.IdempotencyKey)
			return nil
		}
		return err
	}

	log.Info("补扣完成", "userID", ev.UserID, "key", ev.IdempotencyKey)
	return nil
}
