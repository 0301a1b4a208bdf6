package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/dto"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/repository"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/seatmap"
)

var testStart = time.Date(2024, 11, 15, 9, 0, 0, 0, time.UTC)

// testClock is a manually advanced clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: testStart} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// interparkRow builds one row of an Interpark export
func interparkRow(number, name, phone, seat, qty string) map[string]string {
	return map[string]string{
		"예매번호":  number,
		"예매자명":  name,
		"휴대폰번호": phone,
		"좌석정보":  seat,
		"매수":    qty,
	}
}

// operaImport is the Opera 2024.11.15 14:00 session with two seated
// reservations and one without a seat
func operaImport(force bool) *dto.ImportRequest {
	return &dto.ImportRequest{
		Name:  "Opera",
		Date:  "2024.11.15",
		Time:  "14:00",
		Force: force,
		Batches: []dto.RowBatch{{
			Platform: "interpark",
			Rows: []map[string]string{
				interparkRow("T1", "Kim", "010-1111-2222", "A-01", "1"),
				interparkRow("T2", "Lee", "010-3333-4444", "C-05", "2"),
				interparkRow("T3", "Park", "010-5555-6666", "", "1"),
			},
		}},
	}
}

// fixture wires every service to one memory store
type fixture struct {
	store     *repository.MemoryStore
	clock     *testClock
	importer  ImportService
	lookup    LookupService
	lifecycle LifecycleService
	seats     SeatGuard
	issuer    TokenIssuer
	gen       *mockGenerator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	layouts, err := seatmap.Load("")
	require.NoError(t, err)
	return newFixtureWith(t, repository.NewMemoryStore(nil), layouts)
}

func newFixtureWith(t *testing.T, store *repository.MemoryStore, layouts *seatmap.Layouts) *fixture {
	t.Helper()
	f := &fixture{store: store, clock: newTestClock(), gen: newSequenceGenerator()}
	f.importer = NewImportService(&ImportServiceConfig{Store: store, Layouts: layouts, Clock: f.clock.Now})
	f.lookup = NewLookupService(store)
	f.lifecycle = NewLifecycleService(store, layouts, nil, nil, f.clock.Now)
	f.seats = NewSeatGuard(store, layouts, nil, f.clock.Now)
	f.issuer = NewTokenIssuer(&TokenIssuerConfig{Store: store, Generator: f.gen, Clock: f.clock.Now})
	return f
}

// importOpera runs operaImport and returns the stored reservations by holder
func (f *fixture) importOpera(t *testing.T) (*dto.ImportResponse, map[string]*domain.Reservation) {
	t.Helper()
	resp, err := f.importer.Import(context.Background(), operaImport(false))
	require.NoError(t, err)
	return resp, f.byHolder(t, resp.SessionID)
}

func (f *fixture) byHolder(t *testing.T, sessionID string) map[string]*domain.Reservation {
	t.Helper()
	rs, err := f.store.ListReservations(context.Background(), sessionID, repository.ReservationFilter{})
	require.NoError(t, err)
	out := make(map[string]*domain.Reservation, len(rs))
	for _, r := range rs {
		out[r.HolderName] = r
	}
	return out
}

func (f *fixture) events(t *testing.T, id string) []*domain.ReservationEvent {
	t.Helper()
	evts, err := f.store.ListEvents(context.Background(), id)
	require.NoError(t, err)
	return evts
}

// mockGenerator is a TokenGenerator backed by a function
type mockGenerator struct {
	mu       sync.Mutex
	NextFunc func() (string, error)
	calls    int
}

func (m *mockGenerator) Next() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.NextFunc != nil {
		return m.NextFunc()
	}
	return "", errors.New("no tokens configured")
}

func (m *mockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// newSequenceGenerator yields 10000001, 10000002, ...
func newSequenceGenerator() *mockGenerator {
	n := 10000000
	return &mockGenerator{NextFunc: func() (string, error) {
		n++
		return strconv.Itoa(n), nil
	}}
}

// newScriptGenerator yields tokens in order and then repeats the last one
func newScriptGenerator(tokens ...string) *mockGenerator {
	i := 0
	return &mockGenerator{NextFunc: func() (string, error) {
		tok := tokens[i]
		if i < len(tokens)-1 {
			i++
		}
		return tok, nil
	}}
}

// failingStore wraps a store and fails the transaction step named by failOn
type failingStore struct {
	repository.Store
	failOn string
	err    error
}

func (s *failingStore) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.Store.InTx(ctx, func(tx repository.Tx) error {
		return fn(&failingTx{Tx: tx, failOn: s.failOn, err: s.err})
	})
}

type failingTx struct {
	repository.Tx
	failOn string
	err    error
}

func (t *failingTx) InsertReservations(ctx context.Context, rs []*domain.Reservation) error {
	if t.failOn == "insert" {
		return t.err
	}
	return t.Tx.InsertReservations(ctx, rs)
}

func (t *failingTx) AppendEvents(ctx context.Context, performanceID string, evts ...*domain.ReservationEvent) error {
	if t.failOn == "events" {
		return t.err
	}
	return t.Tx.AppendEvents(ctx, performanceID, evts...)
}

func (t *failingTx) UpdateSession(ctx context.Context, s *domain.PerformanceSession) error {
	if t.failOn == "session" {
		return t.err
	}
	return t.Tx.UpdateSession(ctx, s)
}
