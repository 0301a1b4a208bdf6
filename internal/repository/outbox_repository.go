package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
)

// ErrOutboxMessageNotFound is returned when marking an unknown message
var ErrOutboxMessageNotFound = errors.New("outbox message not found")

const outboxColumns = `id, event_id, event_type, payload, topic, partition_key, status,
	retry_count, max_retries, last_error, created_at, published_at, claimed_until`

// PostgresOutboxRepository implements OutboxRepository using PostgreSQL
type PostgresOutboxRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresOutboxRepository creates a new PostgresOutboxRepository
func NewPostgresOutboxRepository(pool *pgxpool.Pool) *PostgresOutboxRepository {
	return &PostgresOutboxRepository{pool: pool}
}

func queueOutboxInsert(batch *pgx.Batch, msg *domain.OutboxMessage) {
	batch.Queue(`
		INSERT INTO outbox (
			id, event_id, event_type, payload, topic, partition_key,
			status, retry_count, max_retries, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		msg.ID,
		msg.EventID,
		string(msg.EventType),
		msg.Payload,
		msg.Topic,
		msg.PartitionKey,
		string(msg.Status),
		msg.RetryCount,
		msg.MaxRetries,
		msg.CreatedAt,
	)
}

// GetPending returns the oldest pending messages without claiming them
func (r *PostgresOutboxRepository) GetPending(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending messages: %w", err)
	}
	defer rows.Close()

	return scanOutboxMessages(rows)
}

// ClaimPending leases the oldest unclaimed pending messages in a single
// statement. Row locks are held only for that statement, so SKIP LOCKED keeps
// concurrent claims disjoint and the lease keeps them disjoint afterwards.
func (r *PostgresOutboxRepository) ClaimPending(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]*domain.OutboxMessage, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE outbox SET claimed_until = $3
		WHERE id IN (
			SELECT id FROM outbox
			WHERE status = 'pending' AND (claimed_until IS NULL OR claimed_until <= $2)
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+outboxColumns+`
	`, limit, now, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanOutboxMessages(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING does not preserve the subquery order
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

// MarkAsPublished marks a message as successfully published
func (r *PostgresOutboxRepository) MarkAsPublished(ctx context.Context, id string, at time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE outbox SET status = 'published', published_at = $2 WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark message as published: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrOutboxMessageNotFound
	}
	return nil
}

// MarkAsFailed stores the retry state recorded on msg
func (r *PostgresOutboxRepository) MarkAsFailed(ctx context.Context, msg *domain.OutboxMessage) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE outbox SET status = $2, last_error = $3, retry_count = $4, claimed_until = NULL
		WHERE id = $1
	`, msg.ID, string(msg.Status), msg.LastError, msg.RetryCount)
	if err != nil {
		return fmt.Errorf("failed to mark message as failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrOutboxMessageNotFound
	}
	return nil
}

// DeletePublished removes messages published before the cutoff
func (r *PostgresOutboxRepository) DeletePublished(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM outbox WHERE status = 'published' AND published_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete published messages: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanOutboxMessages(rows pgx.Rows) ([]*domain.OutboxMessage, error) {
	var messages []*domain.OutboxMessage

	for rows.Next() {
		msg := &domain.OutboxMessage{}
		var (
			eventType string
			status    string
			lastError *string
		)
		err := rows.Scan(
			&msg.ID,
			&msg.EventID,
			&eventType,
			&msg.Payload,
			&msg.Topic,
			&msg.PartitionKey,
			&status,
			&msg.RetryCount,
			&msg.MaxRetries,
			&lastError,
			&msg.CreatedAt,
			&msg.PublishedAt,
			&msg.ClaimedUntil,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}

		msg.EventType = domain.EventType(eventType)
		msg.Status = domain.OutboxStatus(status)
		if lastError != nil {
			msg.LastError = *lastError
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox messages: %w", err)
	}
	return messages, nil
}
