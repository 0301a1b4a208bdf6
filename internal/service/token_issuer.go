package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/dto"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/repository"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/logger"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/telemetry"
)

// TokenGenerator mints candidate redemption tokens
type TokenGenerator interface {
	Next() (string, error)
}

// TokenIssuer gives a reservation its redemption token exactly once
type TokenIssuer interface {
	// Issue mints a token and moves the reservation to issued. A reservation
	// that already holds a token gets the same token back.
	Issue(ctx context.Context, reservationID string) (*dto.IssueTokenResponse, error)
}

// TokenIssuerConfig contains configuration for the token issuer
type TokenIssuerConfig struct {
	Store     repository.Store
	Generator TokenGenerator
	// MaxAttempts bounds the draws per issuance
	MaxAttempts int
	// ValidFor is the advisory lifetime reported with a token
	ValidFor time.Duration
	Logger   *logger.Logger
	Clock    Clock
}

type tokenIssuer struct {
	store       repository.Store
	gen         TokenGenerator
	maxAttempts int
	validFor    time.Duration
	log         *logger.Logger
	now         Clock
}

// NewTokenIssuer creates a new token issuer
func NewTokenIssuer(cfg *TokenIssuerConfig) TokenIssuer {
	t := &tokenIssuer{
		store:       cfg.Store,
		gen:         cfg.Generator,
		maxAttempts: cfg.MaxAttempts,
		validFor:    cfg.ValidFor,
		log:         cfg.Logger,
		now:         clockOrDefault(cfg.Clock),
	}
	if t.maxAttempts <= 0 {
		t.maxAttempts = 16
	}
	if t.validFor <= 0 {
		t.validFor = 4 * time.Hour
	}
	if t.log == nil {
		t.log = logger.Get()
	}
	return t
}

func (t *tokenIssuer) Issue(ctx context.Context, reservationID string) (*dto.IssueTokenResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.token.issue")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", reservationID))

	// A draw that passed the existence check can still lose to a concurrent
	// commit of the same value; the unique index reports that as a collision
	// and the whole issuance is retried with fresh draws.
	attempts := 0
	for {
		reissued := false
		now := t.now()
		r, err := transition(ctx, t.store, reservationID, func(tx repository.Tx, r *domain.Reservation) (*domain.ReservationEvent, error) {
			if r.Token != nil {
				evt, err := r.IssueToken(*r.Token, now)
				reissued = err == nil
				return evt, err
			}
			tok, err := t.draw(ctx, tx, &attempts)
			if err != nil {
				return nil, err
			}
			return r.IssueToken(tok, now)
		})
		if errors.Is(err, domain.ErrTokenCollision) && attempts < t.maxAttempts {
			t.log.Warn("Token collided on commit, retrying", zap.String("reservation_id", reservationID))
			continue
		}
		if errors.Is(err, domain.ErrTokenCollision) {
			err = domain.ErrTokenExhausted
		}
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}

		issuedAt := now
		if r.TokenIssuedAt != nil {
			issuedAt = *r.TokenIssuedAt
		}
		if !reissued {
			t.log.Info("Token issued", zap.String("reservation_id", r.ID), zap.Int("attempts", attempts))
		}
		span.SetAttributes(attribute.Bool("reissued", reissued))
		return &dto.IssueTokenResponse{
			Reservation: dto.ReservationFromDomain(r),
			Token:       r.TokenValue(),
			IssuedAt:    issuedAt,
			ExpiresAt:   issuedAt.Add(t.validFor),
			Reissued:    reissued,
		}, nil
	}
}

// draw returns the first generated token not already stored
func (t *tokenIssuer) draw(ctx context.Context, tx repository.Tx, attempts *int) (string, error) {
	for *attempts < t.maxAttempts {
		*attempts++
		tok, err := t.gen.Next()
		if err != nil {
			return "", err
		}
		exists, err := tx.TokenExists(ctx, tok)
		if err != nil {
			return "", err
		}
		if !exists {
			return tok, nil
		}
	}
	return "", domain.ErrTokenExhausted
}
