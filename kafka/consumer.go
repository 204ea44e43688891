package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// MessageHandler processes one decoded conversion message. A returned error
// is logged; the message is marked consumed either way, since job-level
// failures are recorded durably rather than redelivered forever.
type MessageHandler func(ctx context.Context, msg *ConvertMessage) error

// Consumer reads conversion messages as part of a consumer group.
type Consumer struct {
	group  sarama.ConsumerGroup
	logger *zap.Logger
}

func NewConsumer(brokers []string, groupID string, logger *zap.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRoundRobin(),
	}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}

	return &Consumer{group: group, logger: logger}, nil
}

// Consume blocks, rejoining the group after every rebalance, until the
// context is cancelled.
func (c *Consumer) Consume(ctx context.Context, topic string, handler MessageHandler) error {
	h := &consumerHandler{fn: handler, logger: c.logger}
	for {
		if err := c.group.Consume(ctx, []string{topic}, h); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type consumerHandler struct {
	fn     MessageHandler
	logger *zap.Logger
}

func (h *consumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var convertMsg ConvertMessage
		if err := json.Unmarshal(msg.Value, &convertMsg); err != nil {
			h.logger.Warn("dropping undecodable message",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			session.MarkMessage(msg, "")
			continue
		}

		if err := h.fn(session.Context(), &convertMsg); err != nil {
			h.logger.Error("message handler failed",
				zap.String("job_id", convertMsg.JobID),
				zap.Error(err))
		}
		session.MarkMessage(msg, "")
	}
	return nil
}
