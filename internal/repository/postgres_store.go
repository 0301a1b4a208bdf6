package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/database"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/retry"
)

// Constraint names mapped to domain conflicts
const (
	constraintActiveSeat = "reservations_active_seat_key"
	constraintToken      = "reservations_qr_token_key"
)

const (
	sessionColumns     = `id, name, date, time, total_reservations, created_at, updated_at`
	reservationColumns = `id, performance_id, platform, external_number, holder_name, phone,
		seat_info, quantity, status, qr_token, qr_issued_at, created_at, updated_at, seat_key`
	// statuses that still hold a seat
	activeStatusPredicate = `status NOT IN ('cancelled', 'expired')`
)

// PostgresStoreConfig bounds store operations
type PostgresStoreConfig struct {
	OperationTimeout time.Duration
	MaxRetries       int
	// OutboxEnabled mirrors every appended event into the outbox table
	OutboxEnabled bool
	OutboxTopic   string
}

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	pool    *pgxpool.Pool
	cfg     PostgresStoreConfig
	retrier *retry.Retrier
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(pool *pgxpool.Pool, cfg *PostgresStoreConfig) *PostgresStore {
	c := PostgresStoreConfig{OperationTimeout: 5 * time.Second, MaxRetries: 2}
	if cfg != nil {
		c = *cfg
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 5 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return &PostgresStore{
		pool: pool,
		cfg:  c,
		retrier: retry.New(&retry.Config{
			MaxRetries:      c.MaxRetries,
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2,
			JitterFactor:    0.2,
			ShouldRetry:     database.IsTransient,
		}),
	}
}

// run bounds fn by the operation timeout, retries transient failures and
// turns whatever is left into a StorageError.
func (s *PostgresStore) run(ctx context.Context, op string, fn retry.Operation) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	res := s.retrier.Do(ctx, fn)
	if res.Err == nil {
		return nil
	}
	err := res.Err
	if res.LastError != nil && (errors.Is(err, retry.ErrMaxRetriesExceeded) || errors.Is(err, retry.ErrContextCanceled)) {
		err = fmt.Errorf("%w: %w", err, res.LastError)
	}
	if database.IsInvalidTextRepresentation(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrRecordNotFound, err)
	}
	return domain.NewStorageError(op, err)
}

// isID reports whether id can name a row. Ids are uuid columns, so anything
// else cannot exist.
func isID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// InTx implements Store
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, "transaction", func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(&postgresTx{tx: tx, cfg: &s.cfg}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

// GetSession implements Reader
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*domain.PerformanceSession, error) {
	if !isID(id) {
		return nil, nil
	}
	var session *domain.PerformanceSession
	err := s.run(ctx, "get session", func(ctx context.Context) error {
		var err error
		session, err = scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM performances WHERE id = $1`, id))
		return err
	})
	return session, err
}

// GetSessionByKey implements Reader
func (s *PostgresStore) GetSessionByKey(ctx context.Context, key domain.SessionKey) (*domain.PerformanceSession, error) {
	key = key.Normalize()
	var session *domain.PerformanceSession
	err := s.run(ctx, "get session by key", func(ctx context.Context) error {
		var err error
		session, err = scanSession(s.pool.QueryRow(ctx,
			`SELECT `+sessionColumns+` FROM performances WHERE name = $1 AND date = $2 AND time = $3`,
			key.Name, key.Date, key.Time))
		return err
	})
	return session, err
}

// ListPerformanceNames implements Reader
func (s *PostgresStore) ListPerformanceNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.run(ctx, "list performance names", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `SELECT DISTINCT name FROM performances ORDER BY name`)
		if err != nil {
			return fmt.Errorf("failed to list performance names: %w", err)
		}
		names, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	return names, err
}

// ListSessionsByName implements Reader
func (s *PostgresStore) ListSessionsByName(ctx context.Context, name string) ([]*domain.PerformanceSession, error) {
	var sessions []*domain.PerformanceSession
	err := s.run(ctx, "list sessions", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx,
			`SELECT `+sessionColumns+` FROM performances WHERE name = $1 ORDER BY date, time`,
			strings.TrimSpace(name))
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		defer rows.Close()
		sessions, err = scanSessions(rows)
		return err
	})
	return sessions, err
}

// ListReservations implements Reader
func (s *PostgresStore) ListReservations(ctx context.Context, sessionID string, filter ReservationFilter) ([]*domain.Reservation, error) {
	if !isID(sessionID) {
		return nil, nil
	}
	query, args := reservationListQuery(sessionID, filter)
	var reservations []*domain.Reservation
	err := s.run(ctx, "list reservations", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to list reservations: %w", err)
		}
		defer rows.Close()
		reservations, err = scanReservations(rows)
		return err
	})
	return reservations, err
}

func reservationListQuery(sessionID string, filter ReservationFilter) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT ` + reservationColumns + ` FROM reservations WHERE performance_id = $1`)
	args := []any{sessionID}
	if filter.Platform != "" {
		args = append(args, filter.Platform)
		b.WriteString(` AND lower(platform) = lower($` + strconv.Itoa(len(args)) + `)`)
	}
	switch filter.Assignment {
	case domain.AssignmentAssigned:
		b.WriteString(` AND seat_info IS NOT NULL`)
	case domain.AssignmentUnassigned:
		b.WriteString(` AND seat_info IS NULL`)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, q)
		b.WriteString(` AND strpos(holder_name, $` + strconv.Itoa(len(args)) + `) > 0`)
	}
	b.WriteString(` ORDER BY seq`)
	return b.String(), args
}

// GetReservation implements Reader
func (s *PostgresStore) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	if !isID(id) {
		return nil, nil
	}
	var r *domain.Reservation
	err := s.run(ctx, "get reservation", func(ctx context.Context) error {
		var err error
		r, err = scanReservation(s.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
		return err
	})
	return r, err
}

// GetReservationByToken implements Reader
func (s *PostgresStore) GetReservationByToken(ctx context.Context, token string) (*domain.Reservation, error) {
	var r *domain.Reservation
	err := s.run(ctx, "get reservation by token", func(ctx context.Context) error {
		var err error
		r, err = scanReservation(s.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE qr_token = $1`, token))
		return err
	})
	return r, err
}

// FindReservationsByHolder implements Reader
func (s *PostgresStore) FindReservationsByHolder(ctx context.Context, sessionID, holderName string) ([]*domain.Reservation, error) {
	if !isID(sessionID) {
		return nil, nil
	}
	var reservations []*domain.Reservation
	err := s.run(ctx, "find reservations by holder", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx,
			`SELECT `+reservationColumns+` FROM reservations WHERE performance_id = $1 AND holder_name = $2 ORDER BY seq`,
			sessionID, strings.TrimSpace(holderName))
		if err != nil {
			return fmt.Errorf("failed to find reservations: %w", err)
		}
		defer rows.Close()
		reservations, err = scanReservations(rows)
		return err
	})
	return reservations, err
}

// ListEvents implements Reader
func (s *PostgresStore) ListEvents(ctx context.Context, reservationID string) ([]*domain.ReservationEvent, error) {
	if !isID(reservationID) {
		return nil, nil
	}
	var events []*domain.ReservationEvent
	err := s.run(ctx, "list events", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT id, reservation_id, event_type, previous_status, new_status, payload, created_at
			FROM reservation_events
			WHERE reservation_id = $1
			ORDER BY seq
		`, reservationID)
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}
		defer rows.Close()
		events, err = scanEvents(rows)
		return err
	})
	return events, err
}

// OccupiedSeats implements Reader
func (s *PostgresStore) OccupiedSeats(ctx context.Context, sessionID string) (map[string]string, error) {
	seats := make(map[string]string)
	if !isID(sessionID) {
		return seats, nil
	}
	err := s.run(ctx, "occupied seats", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT seat_key, id FROM reservations
			WHERE performance_id = $1 AND seat_key IS NOT NULL AND `+activeStatusPredicate, sessionID)
		if err != nil {
			return fmt.Errorf("failed to list occupied seats: %w", err)
		}
		defer rows.Close()
		clear(seats)
		for rows.Next() {
			var seat, id string
			if err := rows.Scan(&seat, &id); err != nil {
				return fmt.Errorf("failed to scan seat: %w", err)
			}
			seats[seat] = id
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return seats, nil
}

// postgresTx implements Tx on a pgx transaction
type postgresTx struct {
	tx  pgx.Tx
	cfg *PostgresStoreConfig
}

func (t *postgresTx) LockOrCreateSession(ctx context.Context, key domain.SessionKey, now time.Time) (*domain.PerformanceSession, bool, error) {
	key = key.Normalize()
	session, err := scanSession(t.tx.QueryRow(ctx, `
		INSERT INTO performances (id, name, date, time, total_reservations, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $5)
		ON CONFLICT (name, date, time) DO NOTHING
		RETURNING `+sessionColumns,
		uuid.New().String(), key.Name, key.Date, key.Time, now))
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert session: %w", err)
	}
	if session != nil {
		return session, true, nil
	}

	session, err = scanSession(t.tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM performances WHERE name = $1 AND date = $2 AND time = $3 FOR UPDATE`,
		key.Name, key.Date, key.Time))
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock session: %w", err)
	}
	if session == nil {
		return nil, false, fmt.Errorf("session %s vanished while locking", key)
	}
	return session, false, nil
}

func (t *postgresTx) LockSession(ctx context.Context, id string) (*domain.PerformanceSession, error) {
	if !isID(id) {
		return nil, nil
	}
	return scanSession(t.tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM performances WHERE id = $1 FOR UPDATE`, id))
}

func (t *postgresTx) UpdateSession(ctx context.Context, s *domain.PerformanceSession) error {
	result, err := t.tx.Exec(ctx,
		`UPDATE performances SET total_reservations = $2, updated_at = $3 WHERE id = $1`,
		s.ID, s.TotalReservations, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (t *postgresTx) CountInFlight(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM reservations
		WHERE performance_id = $1
		  AND status NOT IN ('pending', 'reserved_unassigned', 'reserved_assigned')
	`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count in-flight reservations: %w", err)
	}
	return n, nil
}

func (t *postgresTx) DeleteReservations(ctx context.Context, sessionID string) (int, error) {
	result, err := t.tx.Exec(ctx, `DELETE FROM reservations WHERE performance_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete reservations: %w", err)
	}
	return int(result.RowsAffected()), nil
}

func (t *postgresTx) InsertReservations(ctx context.Context, rs []*domain.Reservation) error {
	if len(rs) == 0 {
		return nil
	}
	query := `
		INSERT INTO reservations (` + reservationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	batch := &pgx.Batch{}
	for _, r := range rs {
		batch.Queue(query, reservationArgs(r)...)
	}

	br := t.tx.SendBatch(ctx, batch)
	for range rs {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return mapWriteError(err, "failed to insert reservations")
		}
	}
	return br.Close()
}

func (t *postgresTx) LockReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	if !isID(id) {
		return nil, nil
	}
	return scanReservation(t.tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id))
}

func (t *postgresTx) UpdateReservation(ctx context.Context, r *domain.Reservation) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE reservations SET
			seat_info = $2,
			status = $3,
			qr_token = $4,
			qr_issued_at = $5,
			updated_at = $6,
			seat_key = $7
		WHERE id = $1
	`, r.ID, r.Seat, r.Status.String(), r.Token, r.TokenIssuedAt, r.UpdatedAt, r.SeatKey)
	if err != nil {
		return mapWriteError(err, "failed to update reservation")
	}
	if result.RowsAffected() == 0 {
		return domain.ErrReservationNotFound
	}
	return nil
}

func (t *postgresTx) AppendEvents(ctx context.Context, performanceID string, evts ...*domain.ReservationEvent) error {
	if len(evts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, evt := range evts {
		if evt.ID == "" {
			evt.ID = uuid.New().String()
		}
		if evt.Payload == nil {
			evt.Payload = map[string]any{}
		}
		batch.Queue(`
			INSERT INTO reservation_events (id, reservation_id, event_type, previous_status, new_status, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, evt.ID, evt.ReservationID, string(evt.EventType), statusArg(evt.PreviousStatus), statusArg(evt.NewStatus), evt.Payload, evt.CreatedAt)

		if !t.cfg.OutboxEnabled {
			continue
		}
		msg, err := domain.NewOutboxMessage(uuid.New().String(), evt, performanceID, t.cfg.OutboxTopic)
		if err != nil {
			return fmt.Errorf("failed to create outbox event: %w", err)
		}
		queueOutboxInsert(batch, msg)
	}

	br := t.tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to append events: %w", err)
		}
	}
	return br.Close()
}

func (t *postgresTx) SeatHolder(ctx context.Context, sessionID, seat string) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
		SELECT id FROM reservations
		WHERE performance_id = $1 AND seat_key = $2 AND `+activeStatusPredicate+`
		LIMIT 1
	`, sessionID, seat).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to check seat: %w", err)
	}
	return id, nil
}

func (t *postgresTx) TokenExists(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM reservations WHERE qr_token = $1)`, token).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check token: %w", err)
	}
	return exists, nil
}

func mapWriteError(err error, msg string) error {
	if name, ok := database.IsUniqueViolation(err); ok {
		switch name {
		case constraintActiveSeat:
			return domain.ErrSeatTaken
		case constraintToken:
			return domain.ErrTokenCollision
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func reservationArgs(r *domain.Reservation) []any {
	return []any{
		r.ID, r.PerformanceID, r.Platform, r.ExternalNumber, r.HolderName, r.Phone,
		r.Seat, r.Quantity, r.Status.String(), r.Token, r.TokenIssuedAt, r.CreatedAt, r.UpdatedAt,
		r.SeatKey,
	}
}

func statusArg(s *domain.ReservationStatus) *string {
	if s == nil {
		return nil
	}
	v := s.String()
	return &v
}

func scanSession(row pgx.Row) (*domain.PerformanceSession, error) {
	s := &domain.PerformanceSession{}
	err := row.Scan(&s.ID, &s.Name, &s.Date, &s.Time, &s.TotalReservations, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return s, nil
}

func scanSessions(rows pgx.Rows) ([]*domain.PerformanceSession, error) {
	var sessions []*domain.PerformanceSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	r := &domain.Reservation{}
	var status string
	err := row.Scan(
		&r.ID,
		&r.PerformanceID,
		&r.Platform,
		&r.ExternalNumber,
		&r.HolderName,
		&r.Phone,
		&r.Seat,
		&r.Quantity,
		&status,
		&r.Token,
		&r.TokenIssuedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.SeatKey,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan reservation: %w", err)
	}
	r.Status = domain.ReservationStatus(status)
	return r, nil
}

func scanReservations(rows pgx.Rows) ([]*domain.Reservation, error) {
	var reservations []*domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reservations: %w", err)
	}
	return reservations, nil
}

func scanEvents(rows pgx.Rows) ([]*domain.ReservationEvent, error) {
	var events []*domain.ReservationEvent
	for rows.Next() {
		evt := &domain.ReservationEvent{}
		var (
			eventType      string
			previousStatus *string
			newStatus      *string
		)
		if err := rows.Scan(&evt.ID, &evt.ReservationID, &eventType, &previousStatus, &newStatus, &evt.Payload, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		evt.EventType = domain.EventType(eventType)
		if previousStatus != nil {
			s := domain.ReservationStatus(*previousStatus)
			evt.PreviousStatus = &s
		}
		if newStatus != nil {
			s := domain.ReservationStatus(*newStatus)
			evt.NewStatus = &s
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}
