package service

import (
	"context"
	"strings"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/dto"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/repository"
)

// minPhoneSuffix is the shortest phone suffix accepted for identity matching
const minPhoneSuffix = 4

// RedemptionService finds the reservations an attendee may redeem
type RedemptionService interface {
	// Lookup matches holder name and phone suffix within one session
	Lookup(ctx context.Context, req *dto.RedemptionLookupRequest) (*dto.RedemptionLookupResponse, error)
}

type redemptionService struct {
	reader repository.Reader
}

// NewRedemptionService creates a new redemption service
func NewRedemptionService(reader repository.Reader) RedemptionService {
	return &redemptionService{reader: reader}
}

func (s *redemptionService) Lookup(ctx context.Context, req *dto.RedemptionLookupRequest) (*dto.RedemptionLookupResponse, error) {
	suffix := digits(req.PhoneSuffix)
	if len(suffix) < minPhoneSuffix || len(suffix) != len(strings.TrimSpace(req.PhoneSuffix)) {
		return nil, domain.ErrInvalidPhoneSuffix
	}
	key := req.Key()
	if err := key.Validate(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrMissingField
	}

	session, err := s.reader.GetSessionByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}

	candidates, err := s.reader.FindReservationsByHolder(ctx, session.ID, name)
	if err != nil {
		return nil, err
	}
	var matched []*domain.Reservation
	for _, r := range candidates {
		if strings.HasSuffix(digits(r.Phone), suffix) {
			matched = append(matched, r)
		}
	}

	return &dto.RedemptionLookupResponse{
		Session:      dto.SessionFromDomain(session),
		Reservations: dto.ReservationsFromDomain(matched),
	}, nil
}

// digits keeps only the ASCII digits of s
func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
