package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/block-reminders/internal/config"
	"github.com/Priya8975/block-reminders/internal/domain"
	"github.com/segmentio/kafka-go"
)

const (
	TypeBlockCreated = "block.created"
	TypeBlockDeleted = "block.deleted"

	resultApplied = "applied"
	resultSkipped = "skipped"
	resultFailed  = "failed"
)

var ErrInvalidEvent = errors.New("invalid block event")

// BlockEvent is published by the block scheduling service whenever a block
// is created or deleted.
type BlockEvent struct {
	Type             string    `json:"type"`
	BlockID          string    `json:"block_id"`
	UserID           string    `json:"user_id"`
	RecipientAddress string    `json:"recipient_address"`
	RecipientName    string    `json:"recipient_name"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
}

func (e BlockEvent) enqueueRequest() domain.EnqueueRequest {
	return domain.EnqueueRequest{
		BlockID:          e.BlockID,
		UserID:           e.UserID,
		RecipientAddress: e.RecipientAddress,
		RecipientName:    e.RecipientName,
		Title:            e.Title,
		Description:      e.Description,
		StartTime:        e.StartTime,
		EndTime:          e.EndTime,
	}
}

// Reminders is the part of the queue the consumer drives.
type Reminders interface {
	Enqueue(ctx context.Context, req domain.EnqueueRequest) (*domain.Reminder, bool, error)
	Cancel(ctx context.Context, blockID string) (int64, error)
}

// Recorder counts consumed events.
type Recorder interface {
	BlockEventConsumed(eventType, result string)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer turns block events from Kafka into queue operations.
type Consumer struct {
	reader    messageReader
	reminders Reminders
	recorder  Recorder
	logger    *slog.Logger

	retryInterval    time.Duration
	maxRetryInterval time.Duration
}

// NewConsumer creates a consumer reading cfg.Topic as part of cfg.GroupID.
func NewConsumer(cfg config.KafkaConfig, reminders Reminders, recorder Recorder, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(reader, reminders, recorder, logger)
}

func newConsumer(reader messageReader, reminders Reminders, recorder Recorder, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader:    reader,
		reminders: reminders,
		recorder:  recorder,
		logger:    logger,

		retryInterval:    time.Second,
		maxRetryInterval: 30 * time.Second,
	}
}

// Run consumes until ctx is cancelled. Messages are committed once handled
// or found to be invalid. A message that failed on a store error is retried
// with backoff and nothing after it is fetched, so the partition offset
// never moves past it.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("block event consumer started")

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("block event consumer stopping")
				return nil
			}
			return fmt.Errorf("fetching block event: %w", err)
		}

		if !c.handleWithRetry(ctx, m) {
			c.logger.Info("block event consumer stopping", "pending_offset", m.Offset)
			return nil
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit block event", "error", err, "offset", m.Offset)
		}
	}
}

// handleWithRetry applies m until it succeeds or turns out to be invalid.
// It reports false when ctx ended first; m must then stay uncommitted.
func (c *Consumer) handleWithRetry(ctx context.Context, m kafka.Message) bool {
	backoff := c.retryInterval
	for attempt := 1; ; attempt++ {
		err := c.HandleMessage(ctx, m.Value)
		if err == nil || errors.Is(err, ErrInvalidEvent) {
			return true
		}

		c.logger.Error("failed to apply block event",
			"error", err,
			"partition", m.Partition,
			"offset", m.Offset,
			"attempt", attempt,
			"retry_in", backoff,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		backoff = min(backoff*2, c.maxRetryInterval)
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// HandleMessage applies one encoded block event. Malformed or unknown
// events return ErrInvalidEvent.
func (c *Consumer) HandleMessage(ctx context.Context, value []byte) error {
	var event BlockEvent
	if err := json.Unmarshal(value, &event); err != nil {
		c.logger.Warn("skipping malformed block event", "error", err, "raw", string(value))
		c.record("unknown", resultSkipped)
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	switch event.Type {
	case TypeBlockCreated:
		r, created, err := c.reminders.Enqueue(ctx, event.enqueueRequest())
		if err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				c.logger.Warn("skipping invalid block event", "error", err, "block_id", event.BlockID)
				c.record(event.Type, resultSkipped)
				return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
			}
			c.record(event.Type, resultFailed)
			return err
		}
		c.logger.Debug("block event applied", "type", event.Type, "reminder_id", r.ID, "created", created)

	case TypeBlockDeleted:
		if _, err := c.reminders.Cancel(ctx, event.BlockID); err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				c.logger.Warn("skipping invalid block event", "error", err)
				c.record(event.Type, resultSkipped)
				return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
			}
			c.record(event.Type, resultFailed)
			return err
		}
		c.logger.Debug("block event applied", "type", event.Type, "block_id", event.BlockID)

	default:
		c.logger.Warn("skipping block event with unknown type", "type", event.Type)
		c.record("unknown", resultSkipped)
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, event.Type)
	}

	c.record(event.Type, resultApplied)
	return nil
}

func (c *Consumer) record(eventType, result string) {
	if c.recorder != nil {
		c.recorder.BlockEventConsumed(eventType, result)
	}
}
