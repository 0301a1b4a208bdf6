package service

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/dto"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/repository"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/seatmap"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/logger"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/telemetry"
)

// SeatGuard binds seats to unassigned reservations without ever giving one
// seat of a session to two active reservations.
type SeatGuard interface {
	// AssignSeat binds seat and moves the reservation to reserved_assigned
	AssignSeat(ctx context.Context, id, seat string) (*dto.ReservationResponse, error)

	// SeatMap combines the session's seat layout with its occupancy
	SeatMap(ctx context.Context, sessionID string) (*dto.SeatMapResponse, error)
}

type seatGuard struct {
	store repository.Store
	seats *seatResolver
	log   *logger.Logger
	now   Clock
}

// NewSeatGuard creates a new seat guard
func NewSeatGuard(store repository.Store, layouts *seatmap.Layouts, log *logger.Logger, clock Clock) SeatGuard {
	if log == nil {
		log = logger.Get()
	}
	return &seatGuard{
		store: store,
		seats: newSeatResolver(layouts),
		log:   log,
		now:   clockOrDefault(clock),
	}
}

func (g *seatGuard) AssignSeat(ctx context.Context, id, seat string) (*dto.ReservationResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.seat.assign")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", id), attribute.String("seat", seat))

	// The session id never changes, so it can be read before locking. Locks
	// are taken session first, in the same order as an import.
	current, err := g.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrReservationNotFound
	}

	now := g.now()
	var r *domain.Reservation
	err = g.store.InTx(ctx, func(tx repository.Tx) error {
		session, err := tx.LockSession(ctx, current.PerformanceID)
		if err != nil {
			return err
		}
		if session == nil {
			return domain.ErrSessionNotFound
		}
		locked, err := tx.LockReservation(ctx, id)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrReservationNotFound
		}
		if locked.HasSeat() {
			return domain.ErrSeatAlreadyAssigned
		}

		canonical, err := g.seats.admit(ctx, tx, session, seat, locked.ID)
		if err != nil {
			return err
		}
		evt, err := locked.AssignSeat(canonical, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateReservation(ctx, locked); err != nil {
			return err
		}
		if err := tx.AppendEvents(ctx, session.ID, evt); err != nil {
			return err
		}
		r = locked
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	g.log.Info("Seat assigned",
		zap.String("reservation_id", r.ID),
		zap.String("session_id", r.PerformanceID),
		zap.String("seat", r.SeatValue()),
	)
	return dto.ReservationFromDomain(r), nil
}

func (g *seatGuard) SeatMap(ctx context.Context, sessionID string) (*dto.SeatMapResponse, error) {
	session, err := g.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	layout, ok := g.seats.layouts.For(session.Name)
	if !ok {
		return nil, domain.ErrLayoutNotFound
	}
	occupied, err := g.store.OccupiedSeats(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	resp := &dto.SeatMapResponse{
		SessionID:   session.ID,
		Performance: layout.Performance,
		Capacity:    layout.Capacity(),
	}
	inLayout := make(map[string]bool, layout.Capacity())
	sections := make(map[string]*dto.SectionResponse, len(layout.Sections))
	for _, sec := range layout.Sections {
		sr := &dto.SectionResponse{
			ID:          sec.ID,
			Name:        sec.Name,
			Color:       sec.Color,
			Price:       sec.Price,
			SeatsPerRow: sec.SeatsPerRow,
		}
		sections[sec.ID] = sr
		resp.Sections = append(resp.Sections, sr)
	}
	for _, seat := range layout.Seats() {
		inLayout[seat.Descriptor] = true
		status := dto.SeatAvailable
		if _, taken := occupied[seat.Descriptor]; taken {
			status = dto.SeatOccupied
			resp.Occupied++
		}
		sec := sections[seat.SectionID]
		sec.Seats = append(sec.Seats, &dto.SeatResponse{
			Seat:   seat.Descriptor,
			Row:    seat.Row,
			Number: seat.Number,
			Status: status,
		})
	}
	for seat := range occupied {
		if !inLayout[seat] {
			resp.Unlisted = append(resp.Unlisted, seat)
		}
	}
	sort.Strings(resp.Unlisted)
	resp.Available = resp.Capacity - resp.Occupied
	return resp, nil
}

// seatResolver canonicalizes seat descriptors and checks occupancy
type seatResolver struct {
	layouts *seatmap.Layouts
}

func newSeatResolver(layouts *seatmap.Layouts) *seatResolver {
	if layouts == nil {
		layouts = seatmap.Empty()
	}
	return &seatResolver{layouts: layouts}
}

// canonical returns the layout form of seat, the key occupancy is checked
// on. Performances with a layout only accept seats of that layout.
func (r *seatResolver) canonical(performance, seat string) (string, error) {
	seat = strings.TrimSpace(seat)
	if seat == "" {
		return "", domain.ErrInvalidSeat
	}
	layout, ok := r.layouts.For(performance)
	if !ok {
		return seat, nil
	}
	s, ok := layout.Lookup(seat)
	if !ok {
		return "", domain.ErrSeatNotInLayout
	}
	return s.Descriptor, nil
}

// admit returns the canonical seat when no other active reservation of the
// session holds it. The store's unique index backs this check under races.
func (r *seatResolver) admit(ctx context.Context, tx repository.Tx, session *domain.PerformanceSession, seat, reservationID string) (string, error) {
	canonical, err := r.canonical(session.Name, seat)
	if err != nil {
		return "", err
	}
	holder, err := tx.SeatHolder(ctx, session.ID, canonical)
	if err != nil {
		return "", err
	}
	if holder != "" && holder != reservationID {
		return "", domain.ErrSeatTaken
	}
	return canonical, nil
}
