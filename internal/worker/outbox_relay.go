package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/repository"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/logger"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/retry"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/telemetry"
)

// Publisher writes a record to the event stream. *kafka.Producer satisfies it.
type Publisher interface {
	Produce(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
	ProduceJSON(ctx context.Context, topic, key string, value any, headers map[string]string) error
}

// OutboxRelayConfig contains configuration for the outbox relay
type OutboxRelayConfig struct {
	// PollInterval is the interval between polling for pending messages
	PollInterval time.Duration
	// BatchSize is the number of messages to fetch in each poll
	BatchSize int
	// ClaimLease is how long a claimed batch is hidden from other relays
	ClaimLease time.Duration
	// PublishRetry bounds the in-process retries of a single publish
	PublishRetry *retry.Config
	// CleanupInterval is the interval between cleanup of old published messages
	CleanupInterval time.Duration
	// CleanupRetention is how long published messages are kept
	CleanupRetention time.Duration
	// Source tags published and dead-lettered records
	Source string
}

// DefaultOutboxRelayConfig returns default configuration
func DefaultOutboxRelayConfig() *OutboxRelayConfig {
	return &OutboxRelayConfig{
		PollInterval: 500 * time.Millisecond,
		BatchSize:    100,
		ClaimLease:   time.Minute,
		PublishRetry: &retry.Config{
			MaxRetries:      2,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		},
		CleanupInterval:  time.Hour,
		CleanupRetention: 7 * 24 * time.Hour,
		Source:           "tcats-outbox-relay",
	}
}

// OutboxRelay polls the outbox and publishes reservation events. A message
// that exhausts its retries is moved to the dead letter topic.
type OutboxRelay struct {
	outboxRepo repository.OutboxRepository
	publisher  Publisher
	dlq        *retry.DLQPublisher
	retrier    *retry.Retrier
	config     *OutboxRelayConfig
	log        *logger.Logger
	now        func() time.Time
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

// NewOutboxRelay creates a new outbox relay
func NewOutboxRelay(outboxRepo repository.OutboxRepository, publisher Publisher, config *OutboxRelayConfig) *OutboxRelay {
	defaults := DefaultOutboxRelayConfig()
	if config == nil {
		config = defaults
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.ClaimLease <= 0 {
		config.ClaimLease = defaults.ClaimLease
	}
	if config.PublishRetry == nil {
		config.PublishRetry = defaults.PublishRetry
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.CleanupRetention <= 0 {
		config.CleanupRetention = defaults.CleanupRetention
	}
	if config.Source == "" {
		config.Source = defaults.Source
	}

	r := &OutboxRelay{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		retrier:    retry.New(config.PublishRetry),
		config:     config,
		log:        logger.Get(),
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
	if publisher != nil {
		r.dlq = retry.NewDLQPublisher(publisher, config.Source)
	}
	return r
}

// Start starts the relay loops
func (r *OutboxRelay) Start(ctx context.Context) error {
	if r.outboxRepo == nil || r.publisher == nil {
		return errors.New("outbox relay needs a repository and a publisher")
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("outbox relay already running")
	}
	r.running = true
	r.mu.Unlock()

	r.log.Info("Starting outbox relay",
		zap.Duration("poll_interval", r.config.PollInterval),
		zap.Int("batch_size", r.config.BatchSize),
	)

	r.wg.Add(2)
	go r.pollLoop(ctx)
	go r.cleanupLoop(ctx)

	return nil
}

// Stop stops the relay and waits for in-flight work
func (r *OutboxRelay) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.Info("Stopping outbox relay")
	close(r.stopCh)
	r.wg.Wait()
	r.log.Info("Outbox relay stopped")
}

// IsRunning reports whether the loops are active
func (r *OutboxRelay) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *OutboxRelay) pollLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if _, err := r.ProcessPending(ctx); err != nil {
				r.log.Error("Failed to process outbox", zap.Error(err))
			}
		}
	}
}

func (r *OutboxRelay) cleanupLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if _, err := r.Cleanup(ctx); err != nil {
				r.log.Error("Failed to cleanup outbox", zap.Error(err))
			}
		}
	}
}

// ProcessPending publishes one batch of pending messages and returns how
// many were delivered.
func (r *OutboxRelay) ProcessPending(ctx context.Context) (int, error) {
	messages, err := r.outboxRepo.ClaimPending(ctx, r.config.BatchSize, r.now().UTC(), r.config.ClaimLease)
	if err != nil {
		return 0, fmt.Errorf("claim pending messages: %w", err)
	}

	published := 0
	for _, msg := range messages {
		if err := r.publish(ctx, msg); err != nil {
			r.handleFailure(ctx, msg, err)
			continue
		}
		if err := r.outboxRepo.MarkAsPublished(ctx, msg.ID, r.now().UTC()); err != nil {
			r.log.Error("Failed to mark message as published", zap.String("message_id", msg.ID), zap.Error(err))
			continue
		}
		published++
	}
	return published, nil
}

// Cleanup deletes published messages older than the retention window
func (r *OutboxRelay) Cleanup(ctx context.Context) (int64, error) {
	deleted, err := r.outboxRepo.DeletePublished(ctx, r.now().Add(-r.config.CleanupRetention))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		r.log.Info("Cleaned up published outbox messages", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

func (r *OutboxRelay) publish(ctx context.Context, msg *domain.OutboxMessage) error {
	ctx, span := telemetry.StartSpan(ctx, "outbox.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("event_type", string(msg.EventType)),
			attribute.String("reservation_id", msg.PartitionKey),
		),
	)
	defer span.End()

	// event headers override any propagated key
	headers := telemetry.InjectContext(ctx)
	headers["event_id"] = msg.EventID
	headers["event_type"] = string(msg.EventType)
	headers["content_type"] = "application/json"
	headers["source"] = r.config.Source

	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.publisher.Produce(ctx, msg.Topic, msg.PartitionKey, msg.Payload, headers)
	})
	span.SetAttributes(attribute.Int("attempts", result.Attempts))
	if result.Err == nil {
		return nil
	}
	err := result.Err
	if result.LastError != nil {
		err = result.LastError
	}
	telemetry.RecordError(span, err)
	return err
}

func (r *OutboxRelay) handleFailure(ctx context.Context, msg *domain.OutboxMessage, cause error) {
	msg.MarkAsFailed(cause.Error())
	r.log.Warn("Failed to publish outbox message",
		zap.String("message_id", msg.ID),
		zap.String("event_type", string(msg.EventType)),
		zap.Int("retry_count", msg.RetryCount),
		zap.Int("max_retries", msg.MaxRetries),
		zap.Error(cause),
	)

	if msg.Status == domain.OutboxStatusFailed {
		dlqErr := r.dlq.Publish(ctx, &retry.DLQMessage{
			ID:            msg.ID,
			OriginalTopic: msg.Topic,
			OriginalKey:   msg.PartitionKey,
			Payload:       msg.Payload,
			Headers:       map[string]string{"event_id": msg.EventID, "event_type": string(msg.EventType)},
			Error:         msg.LastError,
			Attempts:      msg.RetryCount,
		})
		if dlqErr != nil {
			r.log.Error("Failed to dead-letter outbox message", zap.String("message_id", msg.ID), zap.Error(dlqErr))
		}
	}

	if err := r.outboxRepo.MarkAsFailed(ctx, msg); err != nil {
		r.log.Error("Failed to mark message as failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

// Stats returns relay statistics
func (r *OutboxRelay) Stats(ctx context.Context) (*OutboxRelayStats, error) {
	pending, err := r.outboxRepo.GetPending(ctx, 1)
	if err != nil {
		return nil, err
	}
	return &OutboxRelayStats{
		IsRunning:       r.IsRunning(),
		PendingMessages: len(pending) > 0,
	}, nil
}

// OutboxRelayStats contains relay statistics
type OutboxRelayStats struct {
	IsRunning       bool `json:"is_running"`
	PendingMessages bool `json:"pending_messages"`
}
