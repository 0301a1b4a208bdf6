package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/repository/migrations"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/database"
)

func TestReservationListQuery(t *testing.T) {
	tests := []struct {
		name     string
		filter   ReservationFilter
		wantSQL  []string
		wantArgs int
	}{
		{name: "no filter", filter: ReservationFilter{}, wantArgs: 1},
		{
			name:     "platform",
			filter:   ReservationFilter{Platform: "yes24"},
			wantSQL:  []string{"lower(platform) = lower($2)"},
			wantArgs: 2,
		},
		{
			name:     "assigned and query",
			filter:   ReservationFilter{Assignment: domain.AssignmentAssigned, Query: "Kim"},
			wantSQL:  []string{"seat_info IS NOT NULL", "strpos(holder_name, $2) > 0"},
			wantArgs: 2,
		},
		{
			name:     "all",
			filter:   ReservationFilter{Platform: "interpark", Assignment: domain.AssignmentUnassigned, Query: "Lee"},
			wantSQL:  []string{"lower($2)", "seat_info IS NULL", "strpos(holder_name, $3)"},
			wantArgs: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := reservationListQuery("session-1", tt.filter)
			assert.Len(t, args, tt.wantArgs)
			assert.Equal(t, "session-1", args[0])
			for _, frag := range tt.wantSQL {
				assert.Contains(t, query, frag)
			}
			assert.Contains(t, query, "ORDER BY seq")
		})
	}
}

func TestPostgresStore_MalformedIDsAreAbsent(t *testing.T) {
	// no pool: lookups must answer before reaching the database
	s := NewPostgresStore(nil, nil)
	ctx := context.Background()

	session, err := s.GetSession(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, session)

	r, err := s.GetReservation(ctx, "not-a-uuid")
	require.NoError(t, err)
	assert.Nil(t, r)

	rs, err := s.ListReservations(ctx, "abc", ReservationFilter{})
	require.NoError(t, err)
	assert.Empty(t, rs)

	rs, err = s.FindReservationsByHolder(ctx, "abc", "Kim")
	require.NoError(t, err)
	assert.Empty(t, rs)

	evts, err := s.ListEvents(ctx, "abc")
	require.NoError(t, err)
	assert.Empty(t, evts)

	seats, err := s.OccupiedSeats(ctx, "abc")
	require.NoError(t, err)
	assert.Empty(t, seats)
}

func TestPostgresStore_InvalidTextIsNotFound(t *testing.T) {
	s := NewPostgresStore(nil, &PostgresStoreConfig{OperationTimeout: time.Second, MaxRetries: 2})
	calls := 0
	err := s.run(context.Background(), "get reservation", func(ctx context.Context) error {
		calls++
		return &pgconn.PgError{Code: database.CodeInvalidTextRepr, Message: `invalid input syntax for type uuid: "abc"`}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	assert.Equal(t, domain.KindNotFound, domain.Kind(err))
	assert.False(t, domain.IsRetryable(err))
}

func TestPostgresStore_UnclassifiedErrorIsStorage(t *testing.T) {
	s := NewPostgresStore(nil, &PostgresStoreConfig{OperationTimeout: time.Second, MaxRetries: 0})
	err := s.run(context.Background(), "get reservation", func(ctx context.Context) error {
		return &pgconn.PgError{Code: "XX000", Message: "internal error"}
	})
	assert.Equal(t, domain.KindStorage, domain.Kind(err))
	assert.True(t, domain.IsRetryable(err))
}

// newTestPostgresStore connects to TEST_DATABASE_URL and resets the schema
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Skipping PostgreSQL test. Set TEST_DATABASE_URL to run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.NewPostgresFromURL(ctx, url)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = db.Migrate(ctx, migrations.FS)
	require.NoError(t, err)
	_, err = db.Pool().Exec(ctx, `TRUNCATE performances, outbox CASCADE`)
	require.NoError(t, err)

	return NewPostgresStore(db.Pool(), &PostgresStoreConfig{
		OperationTimeout: 5 * time.Second,
		MaxRetries:       2,
		OutboxEnabled:    true,
	})
}

func TestPostgresStore_ReplaceAndUniqueness(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()

	session, rs := seedSession(t, s, newDraft("Kim", "C-05"), newDraft("Lee", ""))

	got, err := s.ListReservations(ctx, session.ID, ReservationFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Kim", got[0].HolderName)
	assert.Equal(t, domain.StatusReservedAssigned, got[0].Status)

	err = s.InTx(ctx, func(tx Tx) error {
		r, err := tx.LockReservation(ctx, rs[1].ID)
		if err != nil {
			return err
		}
		if _, err := r.AssignSeat("C-05", testNow); err != nil {
			return err
		}
		return tx.UpdateReservation(ctx, r)
	})
	assert.ErrorIs(t, err, domain.ErrSeatTaken)

	err = s.InTx(ctx, func(tx Tx) error {
		r := domain.NewReservation(uuid.New().String(), session.ID, newDraft("Park", "C-05"), testNow)
		return tx.InsertReservations(ctx, []*domain.Reservation{r})
	})
	assert.ErrorIs(t, err, domain.ErrSeatTaken)

	seats, err := s.OccupiedSeats(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"C-05": rs[0].ID}, seats)

	evts, err := s.ListEvents(ctx, rs[0].ID)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.True(t, evts[0].IsLegal())

	outbox := NewPostgresOutboxRepository(s.pool)
	pending, err := outbox.GetPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestPostgresStore_LockOrCreateSession(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 2; i++ {
		require.NoError(t, s.InTx(ctx, func(tx Tx) error {
			session, created, err := tx.LockOrCreateSession(ctx, operaKey, testNow)
			if err != nil {
				return err
			}
			assert.Equal(t, i == 0, created)
			ids = append(ids, session.ID)
			return nil
		}))
	}
	assert.Equal(t, ids[0], ids[1])

	names, err := s.ListPerformanceNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Opera"}, names)
}

func TestPostgresStore_MalformedIDsOnDatabase(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()

	r, err := s.GetReservation(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, r)

	err = s.InTx(ctx, func(tx Tx) error {
		r, err := tx.LockReservation(ctx, "abc")
		if err != nil {
			return err
		}
		assert.Nil(t, r)
		session, err := tx.LockSession(ctx, "abc")
		assert.Nil(t, session)
		return err
	})
	require.NoError(t, err)

	// a malformed id that slips past the guards still reads as absent
	err = s.run(ctx, "raw lookup", func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `SELECT 1 FROM reservations WHERE id = $1::uuid`, "abc")
		return err
	})
	assert.Equal(t, domain.KindNotFound, domain.Kind(err))
}

func TestPostgresStore_SeatKeyOccupancy(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()

	kim := newDraft("Kim", "a-1")
	kim.SeatKey = "A-01"
	session, rs := seedSession(t, s, kim)

	got, err := s.GetReservation(ctx, rs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "a-1", got.SeatValue())
	assert.Equal(t, "A-01", got.OccupancyKey())

	err = s.InTx(ctx, func(tx Tx) error {
		holder, err := tx.SeatHolder(ctx, session.ID, "A-01")
		assert.Equal(t, rs[0].ID, holder)
		return err
	})
	require.NoError(t, err)

	err = s.InTx(ctx, func(tx Tx) error {
		r := domain.NewReservation(uuid.New().String(), session.ID, newDraft("Lee", "A-01"), testNow)
		return tx.InsertReservations(ctx, []*domain.Reservation{r})
	})
	assert.ErrorIs(t, err, domain.ErrSeatTaken)

	seats, err := s.OccupiedSeats(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A-01": rs[0].ID}, seats)
}

func TestPostgresOutboxRepository_ClaimPending(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	seedSession(t, s, newDraft("Kim", "A-01"), newDraft("Lee", ""), newDraft("Park", ""))
	outbox := NewPostgresOutboxRepository(s.pool)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []string
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msgs, err := outbox.ClaimPending(ctx, 2, testNow, time.Minute)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, m := range msgs {
				claimed = append(claimed, m.ID)
			}
		}()
	}
	wg.Wait()

	require.Len(t, claimed, 3)
	assert.ElementsMatch(t, uniqueStrings(claimed), claimed, "each message is claimed by one caller")

	pending, err := outbox.GetPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	again, err := outbox.ClaimPending(ctx, 10, testNow.Add(time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Len(t, again, 3, "expired leases are reclaimed")
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
