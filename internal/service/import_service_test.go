package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/dto"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/repository"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/seatmap"
)

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) InvalidateLookups(ctx context.Context) { c.calls++ }

func TestImport_CreatesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, byHolder := f.importOpera(t)

	assert.True(t, resp.Created)
	assert.False(t, resp.Replaced)
	assert.Equal(t, 3, resp.InsertedCount)
	assert.Zero(t, resp.DeletedCount)
	assert.Zero(t, resp.SkippedCount)
	require.NotEmpty(t, resp.SessionID)

	session, err := f.lookup.GetSession(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "Opera", session.Name)
	assert.Equal(t, 3, session.TotalReservations)

	require.Len(t, byHolder, 3)
	assert.Equal(t, domain.StatusReservedAssigned, byHolder["Kim"].Status)
	assert.Equal(t, domain.StatusReservedAssigned, byHolder["Lee"].Status)
	assert.Equal(t, domain.StatusReservedUnassigned, byHolder["Park"].Status)
	assert.Nil(t, byHolder["Park"].Seat)

	for _, r := range byHolder {
		evts := f.events(t, r.ID)
		require.Len(t, evts, 1)
		assert.Equal(t, domain.EventReservationCreated, evts[0].EventType)
		assert.Equal(t, "interpark", evts[0].Payload["source"])
	}
}

func TestImport_PreservesDraftFields(t *testing.T) {
	f := newFixture(t)

	_, byHolder := f.importOpera(t)

	lee := byHolder["Lee"]
	assert.Equal(t, "interpark", lee.Platform)
	assert.Equal(t, "T2", lee.ExternalNumber)
	assert.Equal(t, "010-3333-4444", lee.Phone)
	assert.Equal(t, "C-05", lee.SeatValue())
	assert.Equal(t, 2, lee.Quantity)
	assert.Equal(t, testStart, lee.CreatedAt)
}

func TestImport_LayoutSeatsKeepSourceText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.importer.Import(ctx, &dto.ImportRequest{
		Name: "뮤지컬 오페라의 유령",
		Date: "2024.11.15",
		Time: "19:30",
		Batches: []dto.RowBatch{{
			Platform: "interpark",
			Rows: []map[string]string{
				interparkRow("T1", "Kim", "010-1111-2222", "a-1", "1"),
				interparkRow("T2", "Lee", "010-3333-4444", "B-3", "1"),
				interparkRow("T3", "Choi", "010-7777-8888", "A-01", "1"),
				interparkRow("T4", "Park", "010-5555-6666", "", "1"),
			},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.InsertedCount)
	require.Len(t, resp.Errors, 1, "a-1 and A-01 are the same seat")
	assert.Equal(t, 2, resp.Errors[0].Row)

	byHolder := f.byHolder(t, resp.SessionID)
	assert.Equal(t, "a-1", byHolder["Kim"].SeatValue())
	assert.Equal(t, "B-3", byHolder["Lee"].SeatValue())

	seats, err := f.store.OccupiedSeats(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"A-01": byHolder["Kim"].ID,
		"B-03": byHolder["Lee"].ID,
	}, seats)

	_, err = f.seats.AssignSeat(ctx, byHolder["Park"].ID, "A-01")
	assert.ErrorIs(t, err, domain.ErrSeatTaken)

	seatMap, err := f.seats.SeatMap(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, seatMap.Occupied)
}

func TestImport_ReplacesReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, before := f.importOpera(t)
	f.clock.Advance(time.Hour)

	second, err := f.importer.Import(ctx, operaImport(false))
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.False(t, second.Created)
	assert.True(t, second.Replaced)
	assert.Equal(t, 3, second.DeletedCount)
	assert.Equal(t, 3, second.InsertedCount)

	sessions, err := f.lookup.ListSessions(ctx, "Opera")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 3, sessions[0].TotalReservations)
	assert.Equal(t, testStart, sessions[0].CreatedAt)
	assert.Equal(t, testStart.Add(time.Hour), sessions[0].UpdatedAt)

	for _, old := range before {
		r, err := f.store.GetReservation(ctx, old.ID)
		require.NoError(t, err)
		assert.Nil(t, r, "reservation %s survived the re-import", old.ID)
	}
	assert.Len(t, f.byHolder(t, second.SessionID), 3)
}

func TestImport_InFlightSessionNeedsForce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, byHolder := f.importOpera(t)
	_, err := f.issuer.Issue(ctx, byHolder["Kim"].ID)
	require.NoError(t, err)

	_, err = f.importer.Import(ctx, operaImport(false))
	require.ErrorIs(t, err, domain.ErrSessionInFlight)
	assert.Equal(t, domain.KindConflict, domain.Kind(err))

	kim, err := f.store.GetReservation(ctx, byHolder["Kim"].ID)
	require.NoError(t, err)
	require.NotNil(t, kim)
	assert.Equal(t, domain.StatusIssued, kim.Status)

	resp, err := f.importer.Import(ctx, operaImport(true))
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, resp.SessionID)
	assert.True(t, resp.Replaced)

	gone, err := f.store.GetReservation(ctx, byHolder["Kim"].ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestImport_SkipsDuplicateSeats(t *testing.T) {
	layouts, err := seatmap.Load("")
	require.NoError(t, err)
	f := newFixtureWith(t, repository.NewMemoryStore(nil), layouts)

	req := &dto.ImportRequest{
		Name: "뮤지컬 오페라의 유령",
		Date: "2024.11.15",
		Time: "19:30",
		Batches: []dto.RowBatch{
			{Platform: "interpark", Rows: []map[string]string{
				interparkRow("T1", "Kim", "010-1111-2222", "C-05", "1"),
				interparkRow("T2", "Lee", "010-3333-4444", "", "1"),
			}},
			{Filename: "티켓링크_예매자.xlsx", Rows: []map[string]string{{
				"예매번호(연동사 예매번호)": "L1",
				"성명":             "Choi",
				"연락처(SMS)":       "010-7777-8888",
				"좌석번호":           "c5",
				"매수":             "1",
			}}},
		},
	}

	resp, err := f.importer.Import(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, resp.InsertedCount)
	assert.Equal(t, 1, resp.SkippedCount)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "seat_descriptor", resp.Errors[0].Field)

	byHolder := f.byHolder(t, resp.SessionID)
	require.Contains(t, byHolder, "Kim")
	assert.NotContains(t, byHolder, "Choi")
	assert.Equal(t, "C-05", byHolder["Kim"].SeatValue())
}

func TestImport_RowErrorsAreOffsetAcrossBatches(t *testing.T) {
	f := newFixture(t)

	req := operaImport(false)
	req.Batches = append(req.Batches, dto.RowBatch{
		Platform: "interpark",
		Rows: []map[string]string{
			interparkRow("T4", "Jung", "010-0000-0000", "", "1"),
			interparkRow("T5", "", "010-0000-0001", "", "1"),
		},
	})

	resp, err := f.importer.Import(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 4, resp.InsertedCount)
	assert.Equal(t, 1, resp.SkippedCount)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 4, resp.Errors[0].Row)
	assert.Equal(t, "holder_name", resp.Errors[0].Field)
}

func TestImport_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *dto.ImportRequest)
		wantErr error
	}{
		{
			name:    "missing time",
			mutate:  func(r *dto.ImportRequest) { r.Time = "  " },
			wantErr: domain.ErrInvalidSessionKey,
		},
		{
			name:    "unknown platform",
			mutate:  func(r *dto.ImportRequest) { r.Batches[0].Platform = "melon" },
			wantErr: domain.ErrUnknownPlatform,
		},
		{
			name: "missing column",
			mutate: func(r *dto.ImportRequest) {
				for _, row := range r.Batches[0].Rows {
					delete(row, "매수")
				}
			},
			wantErr: domain.ErrMissingColumn,
		},
		{
			name: "only blank rows",
			mutate: func(r *dto.ImportRequest) {
				r.Batches[0].Rows = []map[string]string{interparkRow("", "", "", "", "")}
			},
			wantErr: domain.ErrEmptyImport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := operaImport(false)
			tt.mutate(req)

			_, err := f.importer.Import(context.Background(), req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, domain.KindValidation, domain.Kind(err))

			names, err := f.lookup.ListPerformanceNames(context.Background())
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}
}

func TestImport_FailureLeavesPreviousState(t *testing.T) {
	for _, step := range []string{"insert", "events", "session"} {
		t.Run(step, func(t *testing.T) {
			ctx := context.Background()
			mem := repository.NewMemoryStore(nil)
			f := newFixtureWith(t, mem, seatmap.Empty())
			first, before := f.importOpera(t)

			boom := errors.New("connection reset")
			failing := NewImportService(&ImportServiceConfig{
				Store: &failingStore{Store: mem, failOn: step, err: boom},
				Clock: f.clock.Now,
			})
			_, err := failing.Import(ctx, operaImport(false))
			require.ErrorIs(t, err, boom)
			assert.True(t, domain.IsRetryable(err))

			session, err := mem.GetSession(ctx, first.SessionID)
			require.NoError(t, err)
			assert.Equal(t, 3, session.TotalReservations)
			after := f.byHolder(t, first.SessionID)
			require.Len(t, after, 3)
			for holder, r := range before {
				assert.Equal(t, r.ID, after[holder].ID)
			}
		})
	}
}

func TestImport_InvalidatesLookups(t *testing.T) {
	inv := &countingInvalidator{}
	svc := NewImportService(&ImportServiceConfig{
		Store:       repository.NewMemoryStore(nil),
		Invalidator: inv,
	})

	_, err := svc.Import(context.Background(), operaImport(false))
	require.NoError(t, err)
	assert.Equal(t, 1, inv.calls)

	req := operaImport(false)
	req.Date = ""
	_, err = svc.Import(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, 1, inv.calls)
}

func TestNormalize(t *testing.T) {
	f := newFixture(t)

	resp, err := f.importer.Normalize(context.Background(), &dto.NormalizeRequest{
		RowBatch: dto.RowBatch{
			Filename: "interpark_1115.xlsx",
			Rows:     operaImport(false).Batches[0].Rows,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "interpark", resp.Platform)
	assert.Len(t, resp.Drafts, 3)
	assert.Equal(t, 2, resp.Assigned)
	assert.Zero(t, resp.Skipped)

	_, err = f.importer.Normalize(context.Background(), &dto.NormalizeRequest{
		RowBatch: dto.RowBatch{Filename: "export.xlsx", Rows: operaImport(false).Batches[0].Rows},
	})
	assert.ErrorIs(t, err, domain.ErrUnknownPlatform)
}

func TestExtractMetadata(t *testing.T) {
	f := newFixture(t)

	md := f.importer.ExtractMetadata(context.Background(), &dto.ExtractMetadataRequest{
		Filename: "예스24_예매자.xls",
		HeaderCells: [][]string{
			{"공연명 : Opera"},
			{"공연일시", "2024.11.15 14:00"},
		},
	})
	assert.Equal(t, "Opera", md.Name)
	assert.Equal(t, "2024.11.15", md.Date)
	assert.Equal(t, "14:00", md.Time)
	assert.Equal(t, "yes24", md.Platform)
	assert.True(t, md.Complete)

	md = f.importer.ExtractMetadata(context.Background(), &dto.ExtractMetadataRequest{Filename: "unknown.xls"})
	assert.Empty(t, md.Platform)
	assert.False(t, md.Complete)
}
