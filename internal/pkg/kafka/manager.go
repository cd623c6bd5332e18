package kafka

import (
	"Chorus/internal/api/config"
	"Chorus/internal/pkg/billing"
	"Chorus/internal/pkg/es"
	"Chorus/internal/pkg/hub"
	"Chorus/internal/pkg/mongo"
	"Chorus/internal/pkg/processor"
	"context"
	log "log/slog"

	"github.com/IBM/sarama"
)

// ConsumerManager 管理所有 Kafka 消费者
type ConsumerManager struct {
	moderateConsumer sarama.ConsumerGroup
	moderateHandler  sarama.ConsumerGroupHandler

	msgIndexConsumer sarama.ConsumerGroup
	msgIndexHandler  sarama.ConsumerGroupHandler

	billingConsumer sarama.ConsumerGroup
	billingHandler  sarama.ConsumerGroupHandler
}

// NewConsumerManager 构造函数
func NewConsumerManager(
	cfg *config.Config,
	msgRepo mongo.MessageRepo,
	msgESRepo es.MessageRepo,
	ledger billing.Ledger,
	broadcaster hub.Broadcaster,
	auditor processor.MessageAuditor,
) (*ConsumerManager, error) {
	saramaCfg := newSaramaConfig(cfg.Kafka)

	moderateConsumer, err := sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.KafkaModerateConsumer.GroupID, saramaCfg)
	if err != nil {
		return nil, err
	}
	moderateHandler := NewModerateHandler(msgRepo, broadcaster, auditor)

	msgIndexConsumer, err := sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.KafkaMsgIndexConsumer.GroupID, saramaCfg)
	if err != nil {
		return nil, err
	}
	msgIndexHandler := NewMsgIndexHandler(msgESRepo)

	billingConsumer, err := sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.KafkaBillingReconciler.GroupID, saramaCfg)
	if err != nil {
		return nil, err
	}
	billingHandler := NewBillingHandler(ledger)

	return &ConsumerManager{
		moderateConsumer: moderateConsumer,
		moderateHandler:  moderateHandler,
		msgIndexConsumer: msgIndexConsumer,
		msgIndexHandler:  msgIndexHandler,
		billingConsumer:  billingConsumer,
		billingHandler:   billingHandler,
	}, nil
}

// Start 启动所有消费者
func (m *ConsumerManager) Start(ctx context.Context, cfg *config.Config) error {
	// 启动消息审核消费者
	go func() {
		topic := cfg.KafkaModerateConsumer.Topic
		log.Info("Moderate consumer started", "topic", topic)
		for {
			if err := m.moderateConsumer.Consume(ctx, []string{topic}, m.moderateHandler); err != nil {
				log.Error("Error from consumer", "err", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	// 启动消息索引消费者
	go func() {
		topic := cfg.KafkaMsgIndexConsumer.Topic
		log.Info("Message index consumer started", "topic", topic)
		for {
			if err := m.msgIndexConsumer.Consume(ctx, []string{topic}, m.msgIndexHandler); err != nil {
				log.Error("Error from consumer", "err", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	// 启动扣费对账消费者
	go func() {
		topic := cfg.KafkaBillingReconciler.Topic
		log.Info("Billing reconciler started", "topic", topic)
		for {
			if err := m.billingConsumer.Consume(ctx, []string{topic}, m.billingHandler); err != nil {
				log.Error("Error from consumer", "err", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	<-ctx.Done()
	log.Info("Kafka Manager shutting down...")

	err := m.moderateConsumer.Close()
	if err != nil {
		log.Error("Failed to close moderate consumer", "err", err)
	}
	err = m.msgIndexConsumer.Close()
	if err != nil {
		log.Error("Failed to close index consumer", "err", err)
	}
	err = m.billingConsumer.Close()
	if err != nil {
		log.Error("Failed to close billing consumer", "err", err)
	}

	return nil
}
