package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/dto"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/repository"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/token"
)

// blindStore hides stored tokens from TokenExists so that collisions only
// surface when the reservation is written
type blindStore struct {
	repository.Store
}

func (s *blindStore) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.Store.InTx(ctx, func(tx repository.Tx) error {
		return fn(&blindTx{Tx: tx})
	})
}

type blindTx struct {
	repository.Tx
}

func (t *blindTx) TokenExists(ctx context.Context, tok string) (bool, error) {
	return false, nil
}

func countEvents(evts []*domain.ReservationEvent, typ domain.EventType) int {
	n := 0
	for _, e := range evts {
		if e.EventType == typ {
			n++
		}
	}
	return n
}

func TestIssue_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, byHolder := f.importOpera(t)
	park := byHolder["Park"]

	first, err := f.issuer.Issue(ctx, park.ID)
	require.NoError(t, err)
	assert.False(t, first.Reissued)
	assert.Equal(t, "10000001", first.Token)
	assert.Equal(t, string(domain.StatusIssued), first.Reservation.Status)
	assert.Equal(t, testStart, first.IssuedAt)
	assert.Equal(t, testStart.Add(4*time.Hour), first.ExpiresAt)

	f.clock.Advance(30 * time.Minute)
	second, err := f.issuer.Issue(ctx, park.ID)
	require.NoError(t, err)
	assert.True(t, second.Reissued)
	assert.Equal(t, first.Token, second.Token)
	assert.Equal(t, first.IssuedAt, second.IssuedAt)
	assert.Equal(t, 1, f.gen.Calls())

	evts := f.events(t, park.ID)
	assert.Equal(t, 1, countEvents(evts, domain.EventQRIssued))

	stored, err := f.store.GetReservationByToken(ctx, first.Token)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, park.ID, stored.ID)
}

func TestIssue_SkipsTokensInUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, byHolder := f.importOpera(t)

	f.gen.NextFunc = newScriptGenerator("aaaa0000").NextFunc
	_, err := f.issuer.Issue(ctx, byHolder["Kim"].ID)
	require.NoError(t, err)

	gen := newScriptGenerator("aaaa0000", "aaaa0000", "bbbb1111")
	issuer := NewTokenIssuer(&TokenIssuerConfig{Store: f.store, Generator: gen, Clock: f.clock.Now})
	resp, err := issuer.Issue(ctx, byHolder["Lee"].ID)
	require.NoError(t, err)
	assert.Equal(t, "bbbb1111", resp.Token)
	assert.Equal(t, 3, gen.Calls())
}

func TestIssue_Exhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, byHolder := f.importOpera(t)

	f.gen.NextFunc = newScriptGenerator("aaaa0000").NextFunc
	_, err := f.issuer.Issue(ctx, byHolder["Kim"].ID)
	require.NoError(t, err)

	gen := newScriptGenerator("aaaa0000")
	issuer := NewTokenIssuer(&TokenIssuerConfig{Store: f.store, Generator: gen, MaxAttempts: 3, Clock: f.clock.Now})
	_, err = issuer.Issue(ctx, byHolder["Lee"].ID)
	require.ErrorIs(t, err, domain.ErrTokenExhausted)
	assert.Equal(t, 3, gen.Calls())

	lee, err := f.store.GetReservation(ctx, byHolder["Lee"].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReservedAssigned, lee.Status)
	assert.Nil(t, lee.Token)
	assert.Len(t, f.events(t, lee.ID), 1)
}

func TestIssue_RetriesCollisionOnWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, byHolder := f.importOpera(t)

	f.gen.NextFunc = newScriptGenerator("aaaa0000").NextFunc
	_, err := f.issuer.Issue(ctx, byHolder["Kim"].ID)
	require.NoError(t, err)

	gen := newScriptGenerator("aaaa0000", "cccc2222")
	issuer := NewTokenIssuer(&TokenIssuerConfig{Store: &blindStore{Store: f.store}, Generator: gen, Clock: f.clock.Now})
	resp, err := issuer.Issue(ctx, byHolder["Lee"].ID)
	require.NoError(t, err)
	assert.Equal(t, "cccc2222", resp.Token)
	assert.Equal(t, 1, countEvents(f.events(t, byHolder["Lee"].ID), domain.EventQRIssued))

	exhausted := NewTokenIssuer(&TokenIssuerConfig{
		Store:       &blindStore{Store: f.store},
		Generator:   newScriptGenerator("aaaa0000"),
		MaxAttempts: 2,
		Clock:       f.clock.Now,
	})
	_, err = exhausted.Issue(ctx, byHolder["Park"].ID)
	assert.ErrorIs(t, err, domain.ErrTokenExhausted)
}

func TestIssue_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, byHolder := f.importOpera(t)

	_, err := f.issuer.Issue(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)

	_, err = f.lifecycle.ChangeStatus(ctx, byHolder["Kim"].ID, &dto.ChangeStatusRequest{Status: "cancelled"})
	require.NoError(t, err)
	_, err = f.issuer.Issue(ctx, byHolder["Kim"].ID)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	broken := NewTokenIssuer(&TokenIssuerConfig{
		Store: f.store,
		Generator: &mockGenerator{NextFunc: func() (string, error) {
			return "", errors.New("entropy source closed")
		}},
	})
	_, err = broken.Issue(ctx, byHolder["Lee"].ID)
	require.Error(t, err)
	lee, err := f.store.GetReservation(ctx, byHolder["Lee"].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReservedAssigned, lee.Status)
}

func TestIssue_ConcurrentCallsShareOneToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, byHolder := f.importOpera(t)
	id := byHolder["Park"].ID

	const workers = 16
	tokens := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.issuer.Issue(ctx, id)
			errs[i] = err
			if err == nil {
				tokens[i] = resp.Token
			}
		}(i)
	}
	wg.Wait()

	for i := range tokens {
		require.NoError(t, errs[i])
		assert.Equal(t, tokens[0], tokens[i])
	}
	assert.Equal(t, 1, countEvents(f.events(t, id), domain.EventQRIssued))
}

func TestIssue_WithRandomGenerator(t *testing.T) {
	store := repository.NewMemoryStore(nil)
	gen, err := token.NewGenerator(token.DefaultLength)
	require.NoError(t, err)
	importer := NewImportService(&ImportServiceConfig{Store: store})
	issuer := NewTokenIssuer(&TokenIssuerConfig{Store: store, Generator: gen})
	ctx := context.Background()

	resp, err := importer.Import(ctx, operaImport(false))
	require.NoError(t, err)
	rs, err := store.ListReservations(ctx, resp.SessionID, repository.ReservationFilter{})
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, r := range rs {
		issued, err := issuer.Issue(ctx, r.ID)
		require.NoError(t, err)
		assert.True(t, gen.Valid(issued.Token))
		assert.False(t, seen[issued.Token])
		seen[issued.Token] = true
	}
}
