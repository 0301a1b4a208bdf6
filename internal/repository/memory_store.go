package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
)

// MemoryStoreConfig configures a MemoryStore
type MemoryStoreConfig struct {
	OutboxEnabled bool
	OutboxTopic   string
}

// MemoryStore implements Store and OutboxRepository in process memory.
// Transactions are serialized by a single lock and work on a copy of the
// data that replaces the live copy only on commit.
type MemoryStore struct {
	mu   sync.RWMutex
	data *memoryData
	cfg  MemoryStoreConfig
}

type storedReservation struct {
	seq int64
	r   *domain.Reservation
}

type memoryData struct {
	seq          int64
	sessions     map[string]*domain.PerformanceSession
	reservations map[string]storedReservation
	events       map[string][]*domain.ReservationEvent
	outbox       []*domain.OutboxMessage
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore(cfg *MemoryStoreConfig) *MemoryStore {
	s := &MemoryStore{
		data: &memoryData{
			sessions:     make(map[string]*domain.PerformanceSession),
			reservations: make(map[string]storedReservation),
			events:       make(map[string][]*domain.ReservationEvent),
		},
	}
	if cfg != nil {
		s.cfg = *cfg
	}
	return s
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		seq:          d.seq,
		sessions:     make(map[string]*domain.PerformanceSession, len(d.sessions)),
		reservations: make(map[string]storedReservation, len(d.reservations)),
		events:       make(map[string][]*domain.ReservationEvent, len(d.events)),
		outbox:       make([]*domain.OutboxMessage, len(d.outbox)),
	}
	for id, s := range d.sessions {
		cp := *s
		c.sessions[id] = &cp
	}
	for id, sr := range d.reservations {
		c.reservations[id] = storedReservation{seq: sr.seq, r: sr.r.Clone()}
	}
	// events are never modified once stored
	for id, evts := range d.events {
		c.events[id] = append([]*domain.ReservationEvent(nil), evts...)
	}
	for i, m := range d.outbox {
		cp := *m
		c.outbox[i] = &cp
	}
	return c
}

// InTx implements Store
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("transaction", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(&memoryTx{data: work, cfg: &s.cfg}); err != nil {
		return domain.NewStorageError("transaction", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("commit", err)
	}
	s.data = work
	return nil
}

// GetSession implements Reader
func (s *MemoryStore) GetSession(ctx context.Context, id string) (*domain.PerformanceSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.data.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *session
	return &cp, nil
}

// GetSessionByKey implements Reader
func (s *MemoryStore) GetSessionByKey(ctx context.Context, key domain.SessionKey) (*domain.PerformanceSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session := s.data.sessionByKey(key.Normalize())
	if session == nil {
		return nil, nil
	}
	cp := *session
	return &cp, nil
}

// ListPerformanceNames implements Reader
func (s *MemoryStore) ListPerformanceNames(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var names []string
	for _, session := range s.data.sessions {
		if !seen[session.Name] {
			seen[session.Name] = true
			names = append(names, session.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// ListSessionsByName implements Reader
func (s *MemoryStore) ListSessionsByName(ctx context.Context, name string) ([]*domain.PerformanceSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name = strings.TrimSpace(name)
	var sessions []*domain.PerformanceSession
	for _, session := range s.data.sessions {
		if session.Name == name {
			cp := *session
			sessions = append(sessions, &cp)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Date != sessions[j].Date {
			return sessions[i].Date < sessions[j].Date
		}
		return sessions[i].Time < sessions[j].Time
	})
	return sessions, nil
}

// ListReservations implements Reader
func (s *MemoryStore) ListReservations(ctx context.Context, sessionID string, filter ReservationFilter) ([]*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.data.collect(func(r *domain.Reservation) bool {
		return r.PerformanceID == sessionID && filter.Match(r)
	}), nil
}

// GetReservation implements Reader
func (s *MemoryStore) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.data.reservations[id]
	if !ok {
		return nil, nil
	}
	return sr.r.Clone(), nil
}

// GetReservationByToken implements Reader
func (s *MemoryStore) GetReservationByToken(ctx context.Context, token string) (*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := s.data.collect(func(r *domain.Reservation) bool {
		return r.Token != nil && *r.Token == token
	})
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

// FindReservationsByHolder implements Reader
func (s *MemoryStore) FindReservationsByHolder(ctx context.Context, sessionID, holderName string) ([]*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	holderName = strings.TrimSpace(holderName)
	return s.data.collect(func(r *domain.Reservation) bool {
		return r.PerformanceID == sessionID && r.HolderName == holderName
	}), nil
}

// ListEvents implements Reader
func (s *MemoryStore) ListEvents(ctx context.Context, reservationID string) ([]*domain.ReservationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evts := s.data.events[reservationID]
	out := make([]*domain.ReservationEvent, len(evts))
	for i, e := range evts {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// OccupiedSeats implements Reader
func (s *MemoryStore) OccupiedSeats(ctx context.Context, sessionID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seats := make(map[string]string)
	for _, sr := range s.data.reservations {
		if sr.r.PerformanceID == sessionID && sr.r.HasSeat() && sr.r.Status.HoldsSeat() {
			seats[sr.r.OccupancyKey()] = sr.r.ID
		}
	}
	return seats, nil
}

// GetPending implements OutboxRepository
func (s *MemoryStore) GetPending(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.OutboxMessage
	for _, m := range s.data.outbox {
		if m.Status != domain.OutboxStatusPending {
			continue
		}
		cp := *m
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ClaimPending implements OutboxRepository
func (s *MemoryStore) ClaimPending(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]*domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until := now.Add(lease)
	var out []*domain.OutboxMessage
	for _, m := range s.data.outbox {
		if !m.Claimable(now) {
			continue
		}
		m.ClaimedUntil = &until
		cp := *m
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkAsPublished implements OutboxRepository
func (s *MemoryStore) MarkAsPublished(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.data.outbox {
		if m.ID == id {
			m.MarkAsPublished(at)
			return nil
		}
	}
	return ErrOutboxMessageNotFound
}

// MarkAsFailed implements OutboxRepository
func (s *MemoryStore) MarkAsFailed(ctx context.Context, msg *domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.data.outbox {
		if m.ID == msg.ID {
			m.Status = msg.Status
			m.LastError = msg.LastError
			m.RetryCount = msg.RetryCount
			m.ClaimedUntil = nil
			return nil
		}
	}
	return ErrOutboxMessageNotFound
}

// DeletePublished implements OutboxRepository
func (s *MemoryStore) DeletePublished(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.data.outbox[:0]
	var deleted int64
	for _, m := range s.data.outbox {
		if m.Status == domain.OutboxStatusPublished && m.PublishedAt != nil && m.PublishedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, m)
	}
	s.data.outbox = kept
	return deleted, nil
}

func (d *memoryData) sessionByKey(key domain.SessionKey) *domain.PerformanceSession {
	for _, session := range d.sessions {
		if session.Key() == key {
			return session
		}
	}
	return nil
}

// collect returns clones of the matching reservations in insertion order
func (d *memoryData) collect(match func(r *domain.Reservation) bool) []*domain.Reservation {
	var found []storedReservation
	for _, sr := range d.reservations {
		if match(sr.r) {
			found = append(found, sr)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })

	out := make([]*domain.Reservation, len(found))
	for i, sr := range found {
		out[i] = sr.r.Clone()
	}
	return out
}

// seatHolder finds the active reservation holding seat, ignoring exceptID
func (d *memoryData) seatHolder(sessionID, seat, exceptID string) string {
	for id, sr := range d.reservations {
		r := sr.r
		if id != exceptID && r.PerformanceID == sessionID && r.Status.HoldsSeat() && r.OccupancyKey() == seat {
			return id
		}
	}
	return ""
}

func (d *memoryData) tokenHolder(token, exceptID string) string {
	for id, sr := range d.reservations {
		if id != exceptID && sr.r.TokenValue() == token {
			return id
		}
	}
	return ""
}

// checkUnique enforces what the unique indexes enforce in PostgreSQL
func (d *memoryData) checkUnique(r *domain.Reservation) error {
	if r.HasSeat() && r.Status.HoldsSeat() && d.seatHolder(r.PerformanceID, r.OccupancyKey(), r.ID) != "" {
		return domain.ErrSeatTaken
	}
	if r.Token != nil && d.tokenHolder(*r.Token, r.ID) != "" {
		return domain.ErrTokenCollision
	}
	return nil
}

// memoryTx implements Tx on a private copy of the store data
type memoryTx struct {
	data *memoryData
	cfg  *MemoryStoreConfig
}

func (t *memoryTx) LockOrCreateSession(ctx context.Context, key domain.SessionKey, now time.Time) (*domain.PerformanceSession, bool, error) {
	key = key.Normalize()
	if session := t.data.sessionByKey(key); session != nil {
		cp := *session
		return &cp, false, nil
	}
	session := &domain.PerformanceSession{
		ID:        uuid.New().String(),
		Name:      key.Name,
		Date:      key.Date,
		Time:      key.Time,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.data.sessions[session.ID] = session
	cp := *session
	return &cp, true, nil
}

func (t *memoryTx) LockSession(ctx context.Context, id string) (*domain.PerformanceSession, error) {
	session, ok := t.data.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *session
	return &cp, nil
}

func (t *memoryTx) UpdateSession(ctx context.Context, s *domain.PerformanceSession) error {
	session, ok := t.data.sessions[s.ID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.TotalReservations = s.TotalReservations
	session.UpdatedAt = s.UpdatedAt
	return nil
}

func (t *memoryTx) CountInFlight(ctx context.Context, sessionID string) (int, error) {
	n := 0
	for _, sr := range t.data.reservations {
		if sr.r.PerformanceID == sessionID && sr.r.Status != domain.StatusPending && !sr.r.Status.IsReserved() {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) DeleteReservations(ctx context.Context, sessionID string) (int, error) {
	n := 0
	for id, sr := range t.data.reservations {
		if sr.r.PerformanceID == sessionID {
			delete(t.data.reservations, id)
			delete(t.data.events, id)
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) InsertReservations(ctx context.Context, rs []*domain.Reservation) error {
	for _, r := range rs {
		if _, ok := t.data.sessions[r.PerformanceID]; !ok {
			return fmt.Errorf("reservation %s references unknown session %s", r.ID, r.PerformanceID)
		}
		if _, ok := t.data.reservations[r.ID]; ok {
			return fmt.Errorf("reservation %s already exists", r.ID)
		}
		if r.Quantity < 0 {
			return domain.ErrInvalidQuantity
		}
		if err := t.data.checkUnique(r); err != nil {
			return err
		}
		t.data.seq++
		t.data.reservations[r.ID] = storedReservation{seq: t.data.seq, r: r.Clone()}
	}
	return nil
}

func (t *memoryTx) LockReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	sr, ok := t.data.reservations[id]
	if !ok {
		return nil, nil
	}
	return sr.r.Clone(), nil
}

func (t *memoryTx) UpdateReservation(ctx context.Context, r *domain.Reservation) error {
	sr, ok := t.data.reservations[r.ID]
	if !ok {
		return domain.ErrReservationNotFound
	}
	if err := t.data.checkUnique(r); err != nil {
		return err
	}
	c := r.Clone()
	stored := sr.r
	stored.Seat = c.Seat
	stored.SeatKey = c.SeatKey
	stored.Status = c.Status
	stored.Token = c.Token
	stored.TokenIssuedAt = c.TokenIssuedAt
	stored.UpdatedAt = c.UpdatedAt
	return nil
}

func (t *memoryTx) AppendEvents(ctx context.Context, performanceID string, evts ...*domain.ReservationEvent) error {
	for _, evt := range evts {
		if _, ok := t.data.reservations[evt.ReservationID]; !ok {
			return fmt.Errorf("event references unknown reservation %s", evt.ReservationID)
		}
		if evt.ID == "" {
			evt.ID = uuid.New().String()
		}
		if evt.Payload == nil {
			evt.Payload = map[string]any{}
		}
		cp := *evt
		t.data.events[evt.ReservationID] = append(t.data.events[evt.ReservationID], &cp)

		if !t.cfg.OutboxEnabled {
			continue
		}
		msg, err := domain.NewOutboxMessage(uuid.New().String(), evt, performanceID, t.cfg.OutboxTopic)
		if err != nil {
			return fmt.Errorf("failed to create outbox event: %w", err)
		}
		t.data.outbox = append(t.data.outbox, msg)
	}
	return nil
}

func (t *memoryTx) SeatHolder(ctx context.Context, sessionID, seat string) (string, error) {
	return t.data.seatHolder(sessionID, seat, ""), nil
}

func (t *memoryTx) TokenExists(ctx context.Context, token string) (bool, error) {
	return t.data.tokenHolder(token, "") != "", nil
}
