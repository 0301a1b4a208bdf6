package repository

import (
	"context"
	"strings"
	"time"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
)

// ReservationFilter narrows a session's reservation list. Zero values match everything.
type ReservationFilter struct {
	Platform   string
	Assignment domain.AssignmentState
	Query      string
}

// Match reports whether r passes the filter
func (f ReservationFilter) Match(r *domain.Reservation) bool {
	if f.Platform != "" && !strings.EqualFold(r.Platform, f.Platform) {
		return false
	}
	if f.Assignment != "" && r.AssignmentState() != f.Assignment {
		return false
	}
	if q := strings.TrimSpace(f.Query); q != "" && !strings.Contains(r.HolderName, q) {
		return false
	}
	return true
}

// Reader is the read side of the reservation store. Single-row getters
// return nil, nil when the row does not exist.
type Reader interface {
	GetSession(ctx context.Context, id string) (*domain.PerformanceSession, error)
	GetSessionByKey(ctx context.Context, key domain.SessionKey) (*domain.PerformanceSession, error)
	ListPerformanceNames(ctx context.Context) ([]string, error)
	ListSessionsByName(ctx context.Context, name string) ([]*domain.PerformanceSession, error)
	ListReservations(ctx context.Context, sessionID string, filter ReservationFilter) ([]*domain.Reservation, error)
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)
	GetReservationByToken(ctx context.Context, token string) (*domain.Reservation, error)
	FindReservationsByHolder(ctx context.Context, sessionID, holderName string) ([]*domain.Reservation, error)
	ListEvents(ctx context.Context, reservationID string) ([]*domain.ReservationEvent, error)
	OccupiedSeats(ctx context.Context, sessionID string) (map[string]string, error)
}

// Tx is one logical store operation. Every write made through it commits
// together or not at all. Lock* methods hold the row until the end of the
// transaction and return nil, nil when it does not exist.
type Tx interface {
	// LockOrCreateSession finds the session for key or inserts it, and holds its lock.
	LockOrCreateSession(ctx context.Context, key domain.SessionKey, now time.Time) (*domain.PerformanceSession, bool, error)
	LockSession(ctx context.Context, id string) (*domain.PerformanceSession, error)
	UpdateSession(ctx context.Context, s *domain.PerformanceSession) error
	// CountInFlight counts reservations of the session that have left the reserved states
	CountInFlight(ctx context.Context, sessionID string) (int, error)
	DeleteReservations(ctx context.Context, sessionID string) (int, error)
	// InsertReservations fails with ErrSeatTaken when a seat is already held in the session
	InsertReservations(ctx context.Context, rs []*domain.Reservation) error
	LockReservation(ctx context.Context, id string) (*domain.Reservation, error)
	// UpdateReservation fails with ErrSeatTaken or ErrTokenCollision when a
	// uniqueness invariant would break
	UpdateReservation(ctx context.Context, r *domain.Reservation) error
	// AppendEvents assigns ids to evts and stores them in order
	AppendEvents(ctx context.Context, performanceID string, evts ...*domain.ReservationEvent) error
	SeatHolder(ctx context.Context, sessionID, seat string) (string, error)
	TokenExists(ctx context.Context, token string) (bool, error)
}

// Store persists performance sessions, reservations and their events
type Store interface {
	Reader
	// InTx runs fn in a bounded transaction. fn may run more than once when
	// the backend reports a transient failure, so it must not have effects
	// outside tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// OutboxRepository feeds the event relay. ClaimPending leases the returned
// messages until now+lease so concurrent relays never receive the same row;
// GetPending only reads.
type OutboxRepository interface {
	GetPending(ctx context.Context, limit int) ([]*domain.OutboxMessage, error)
	ClaimPending(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]*domain.OutboxMessage, error)
	MarkAsPublished(ctx context.Context, id string, at time.Time) error
	MarkAsFailed(ctx context.Context, msg *domain.OutboxMessage) error
	DeletePublished(ctx context.Context, before time.Time) (int64, error)
}
