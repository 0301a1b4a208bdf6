package service

import (
	"context"
	"strings"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/dto"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/repository"
)

// LookupService answers the read-only questions of the back office
type LookupService interface {
	ListPerformanceNames(ctx context.Context) ([]string, error)
	ListSessions(ctx context.Context, name string) ([]*dto.SessionResponse, error)
	GetSession(ctx context.Context, id string) (*dto.SessionResponse, error)
	ListReservations(ctx context.Context, sessionID string, q *dto.ListReservationsQuery) ([]*dto.ReservationResponse, error)
	GetReservation(ctx context.Context, id string) (*dto.ReservationResponse, error)
	// Stats summarizes seats and assignment of a session
	Stats(ctx context.Context, sessionID string) (*domain.SessionStats, error)
}

type lookupService struct {
	reader repository.Reader
}

// NewLookupService creates a new lookup service
func NewLookupService(reader repository.Reader) LookupService {
	return &lookupService{reader: reader}
}

func (s *lookupService) ListPerformanceNames(ctx context.Context) ([]string, error) {
	names, err := s.reader.ListPerformanceNames(ctx)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (s *lookupService) ListSessions(ctx context.Context, name string) ([]*dto.SessionResponse, error) {
	sessions, err := s.reader.ListSessionsByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	return dto.SessionsFromDomain(sessions), nil
}

func (s *lookupService) GetSession(ctx context.Context, id string) (*dto.SessionResponse, error) {
	session, err := s.session(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.SessionFromDomain(session), nil
}

func (s *lookupService) session(ctx context.Context, id string) (*domain.PerformanceSession, error) {
	session, err := s.reader.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *lookupService) ListReservations(ctx context.Context, sessionID string, q *dto.ListReservationsQuery) ([]*dto.ReservationResponse, error) {
	if _, err := s.session(ctx, sessionID); err != nil {
		return nil, err
	}
	var filter repository.ReservationFilter
	if q != nil {
		filter = repository.ReservationFilter{
			Platform:   strings.TrimSpace(q.Platform),
			Assignment: domain.AssignmentState(q.Assignment),
			Query:      q.Query,
		}
	}
	rs, err := s.reader.ListReservations(ctx, sessionID, filter)
	if err != nil {
		return nil, err
	}
	return dto.ReservationsFromDomain(rs), nil
}

func (s *lookupService) GetReservation(ctx context.Context, id string) (*dto.ReservationResponse, error) {
	r, err := s.reader.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, domain.ErrReservationNotFound
	}
	return dto.ReservationFromDomain(r), nil
}

func (s *lookupService) Stats(ctx context.Context, sessionID string) (*domain.SessionStats, error) {
	if _, err := s.session(ctx, sessionID); err != nil {
		return nil, err
	}
	rs, err := s.reader.ListReservations(ctx, sessionID, repository.ReservationFilter{})
	if err != nil {
		return nil, err
	}
	return domain.ComputeStats(sessionID, rs), nil
}
