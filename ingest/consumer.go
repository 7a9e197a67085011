// Package ingest turns upload-completion events into print tasks.
package ingest

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"photoprint/models"
	"photoprint/queue"
)

// UploadEvent is published by the gallery when an original finishes
// uploading.
type UploadEvent struct {
	StorageKey   string `json:"storage_key"`
	PhotoID      string `json:"photo_id"`
	LocationName string `json:"location_name"`
	TraceID      string `json:"trace_id"`
	Priority     int    `json:"priority"`
}

type Enqueuer interface {
	AddTask(ctx context.Context, spec queue.TaskSpec, opts queue.Options) (*models.Task, error)
}

type Consumer struct {
	consumer sarama.ConsumerGroup
	enqueuer Enqueuer
	logger   *zap.Logger
}

func NewConsumer(brokers []string, groupID string, enqueuer Enqueuer, logger *zap.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	c, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}

	return &Consumer{consumer: c, enqueuer: enqueuer, logger: logger}, nil
}

type groupHandler struct {
	parent *Consumer
	ctx    context.Context
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var event UploadEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			h.parent.logger.Warn("Malformed upload event skipped",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			session.MarkMessage(msg, "")
			continue
		}

		if _, err := h.parent.enqueuer.AddTask(h.ctx, queue.TaskSpec{
			Type:         models.TypePrintPhoto,
			StorageKey:   event.StorageKey,
			PhotoID:      event.PhotoID,
			LocationName: event.LocationName,
			TraceID:      event.TraceID,
		}, queue.Options{Priority: event.Priority}); err != nil {
			h.parent.logger.Error("Failed to enqueue print task from upload event",
				zap.String("storage_key", event.StorageKey),
				zap.Error(err),
			)
			// Leave the message unmarked so it is redelivered.
			continue
		}

		session.MarkMessage(msg, "")
	}
	return nil
}

// Consume blocks, feeding upload events into the queue until the
// context is canceled.
func (c *Consumer) Consume(ctx context.Context, topic string) error {
	h := &groupHandler{parent: c, ctx: ctx}
	for {
		if err := c.consumer.Consume(ctx, []string{topic}, h); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	return c.consumer.Close()
}
