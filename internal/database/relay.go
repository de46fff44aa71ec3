package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/shelf-crawler/internal/models"
)

// RedisClient is the subset of the Redis client the relay needs.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

// DetailEnvelope is the stream message for one scraped product.
type DetailEnvelope struct {
	EventID   string               `json:"event_id"`
	Type      string               `json:"type"`
	JobID     string               `json:"job_id,omitempty"`
	URL       string               `json:"url"`
	Attempt   int                  `json:"attempt"`
	ScrapedAt time.Time            `json:"scraped_at"`
	Source    string               `json:"source"`
	Record    *models.DetailRecord `json:"record"`
}

// envelopeFor decodes the detail record stored with event.
func envelopeFor(event *OutboxEvent) (*DetailEnvelope, error) {
	if event.EventType != EventDetailScraped {
		return nil, fmt.Errorf("%w: unsupported event type %q", ErrInvalidEvent, event.EventType)
	}

	var rec models.DetailRecord
	if err := json.Unmarshal(event.Payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode detail record: %w", err)
	}

	jobID, ok := strings.CutPrefix(event.AggregateType, "product:")
	if !ok {
		jobID = ""
	}

	return &DetailEnvelope{
		EventID:   event.ID.String(),
		Type:      event.EventType,
		JobID:     jobID,
		URL:       event.AggregateID,
		Attempt:   event.RetryCount + 1,
		ScrapedAt: event.CreatedAt.UTC(),
		Source:    "shelf-crawler",
		Record:    &rec,
	}, nil
}

// fields flattens the envelope into stream entry values. Consumers that only
// route on job or url need not decode data.
func (e *DetailEnvelope) fields() (map[string]any, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return map[string]any{
		"data":       string(data),
		"event_id":   e.EventID,
		"event_type": e.Type,
		"job_id":     e.JobID,
		"url":        e.URL,
	}, nil
}

// Relay moves detail records from the outbox onto their Redis streams.
type Relay struct {
	redis     RedisClient
	outbox    OutboxRepo
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

func NewRelay(outbox OutboxRepo, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	return &Relay{
		redis:     redisClient,
		outbox:    outbox,
		logger:    logger.With("component", "relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
	}
}

// Start drains the outbox once, then on every tick until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay", "interval", r.interval, "batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.drain(ctx); err != nil {
			r.logger.Error("failed to drain outbox", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain publishes one batch of pending events and returns how many reached
// their stream. A failed event is marked and does not stop the batch.
func (r *Relay) drain(ctx context.Context) (int, error) {
	events, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending events: %w", err)
	}

	published := 0
	for _, event := range events {
		err := r.deliver(ctx, event)
		if r.settle(ctx, event, err) {
			published++
		}
	}

	if published > 0 {
		r.logger.Info("detail records published", "count", published, "pending", len(events)-published)
	}
	return published, nil
}

func (r *Relay) deliver(ctx context.Context, event *OutboxEvent) error {
	env, err := envelopeFor(event)
	if err != nil {
		return err
	}
	values, err := env.fields()
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{Stream: event.TargetStream, Values: values}
	if _, err := r.redis.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// settle records the outcome of deliver on the outbox row.
func (r *Relay) settle(ctx context.Context, event *OutboxEvent, deliverErr error) bool {
	if deliverErr != nil {
		r.logger.Error("failed to publish detail record",
			"event_id", event.ID,
			"url", event.AggregateID,
			"attempt", event.RetryCount+1,
			"error", deliverErr)
		if err := r.outbox.MarkFailed(ctx, event.ID, deliverErr); err != nil {
			r.logger.Error("failed to mark event as failed", "event_id", event.ID, "error", err)
		}
		return false
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		r.logger.Error("failed to mark event as processed", "event_id", event.ID, "error", err)
		return false
	}
	return true
}
