package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/dto"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/repository"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/seatmap"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/token"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/logger"
)

// LifecycleService drives reservations through their status machine
type LifecycleService interface {
	// CreateReservation adds a single reservation to an existing session
	CreateReservation(ctx context.Context, req *dto.CreateReservationRequest) (*dto.ReservationResponse, error)

	// ChangeStatus applies an operator transition with an optional note
	ChangeStatus(ctx context.Context, id string, req *dto.ChangeStatusRequest) (*dto.ReservationResponse, error)

	// CheckIn moves an issued reservation to checked_in
	CheckIn(ctx context.Context, id, note string) (*dto.ReservationResponse, error)

	// CheckInByToken checks in the reservation holding a scanned token
	CheckInByToken(ctx context.Context, tok, note string) (*dto.ReservationResponse, error)

	// Events lists the audit trail of a reservation, oldest first
	Events(ctx context.Context, id string) ([]*dto.EventResponse, error)
}

type lifecycleService struct {
	store       repository.Store
	seats       *seatResolver
	invalidator LookupInvalidator
	log         *logger.Logger
	now         Clock
}

// NewLifecycleService creates a new lifecycle service. invalidator may be nil.
func NewLifecycleService(store repository.Store, layouts *seatmap.Layouts, invalidator LookupInvalidator, log *logger.Logger, clock Clock) LifecycleService {
	if log == nil {
		log = logger.Get()
	}
	return &lifecycleService{
		store:       store,
		seats:       newSeatResolver(layouts),
		invalidator: invalidator,
		log:         log,
		now:         clockOrDefault(clock),
	}
}

func (s *lifecycleService) CreateReservation(ctx context.Context, req *dto.CreateReservationRequest) (*dto.ReservationResponse, error) {
	draft := req.Draft()
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	draft.Platform = strings.TrimSpace(draft.Platform)

	now := s.now()
	var created *domain.Reservation
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		session, err := tx.LockSession(ctx, req.SessionID)
		if err != nil {
			return err
		}
		if session == nil {
			return domain.ErrSessionNotFound
		}

		d := draft
		if strings.TrimSpace(d.Seat) != "" {
			key, err := s.seats.admit(ctx, tx, session, d.Seat, "")
			if err != nil {
				return err
			}
			d.SeatKey = key
		}

		r := domain.NewReservation(uuid.New().String(), session.ID, d, now)
		if err := tx.InsertReservations(ctx, []*domain.Reservation{r}); err != nil {
			return err
		}
		payload := map[string]any{
			"source":          r.Platform,
			"external_number": r.ExternalNumber,
			"holder_name":     r.HolderName,
			"phone":           r.Phone,
			"seat_descriptor": r.SeatValue(),
			"quantity":        r.Quantity,
		}
		if err := tx.AppendEvents(ctx, session.ID, r.CreatedEvent(payload)); err != nil {
			return err
		}

		session.TotalReservations++
		session.UpdatedAt = now
		if err := tx.UpdateSession(ctx, session); err != nil {
			return err
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	// session lists carry the reservation count
	if s.invalidator != nil {
		s.invalidator.InvalidateLookups(ctx)
	}

	s.log.Info("Reservation created",
		zap.String("reservation_id", created.ID),
		zap.String("session_id", created.PerformanceID),
		zap.String("status", created.Status.String()),
	)
	return dto.ReservationFromDomain(created), nil
}

func (s *lifecycleService) ChangeStatus(ctx context.Context, id string, req *dto.ChangeStatusRequest) (*dto.ReservationResponse, error) {
	to := domain.ReservationStatus(strings.TrimSpace(req.Status))
	if !to.IsValid() {
		return nil, domain.ErrInvalidStatus
	}
	now := s.now()
	r, err := transition(ctx, s.store, id, func(_ repository.Tx, r *domain.Reservation) (*domain.ReservationEvent, error) {
		return r.ChangeStatus(to, req.Note, now)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Reservation status changed",
		zap.String("reservation_id", r.ID),
		zap.String("status", r.Status.String()),
	)
	return dto.ReservationFromDomain(r), nil
}

func (s *lifecycleService) CheckIn(ctx context.Context, id, note string) (*dto.ReservationResponse, error) {
	now := s.now()
	r, err := transition(ctx, s.store, id, func(_ repository.Tx, r *domain.Reservation) (*domain.ReservationEvent, error) {
		return r.CheckIn(note, now)
	})
	if err != nil {
		return nil, err
	}
	return dto.ReservationFromDomain(r), nil
}

func (s *lifecycleService) CheckInByToken(ctx context.Context, tok, note string) (*dto.ReservationResponse, error) {
	tok = token.Normalize(tok)
	if tok == "" {
		return nil, domain.ErrInvalidToken
	}
	r, err := s.store.GetReservationByToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, domain.ErrTokenNotFound
	}
	return s.CheckIn(ctx, r.ID, note)
}

func (s *lifecycleService) Events(ctx context.Context, id string) ([]*dto.EventResponse, error) {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, domain.ErrReservationNotFound
	}
	evts, err := s.store.ListEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.EventsFromDomain(evts), nil
}
