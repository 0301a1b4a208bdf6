// Package service implements the reservation operations on top of the store.
package service

import (
	"context"
	"time"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/repository"
)

// Clock returns the current time
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

func clockOrDefault(c Clock) Clock {
	if c == nil {
		return systemClock
	}
	return c
}

// LookupInvalidator drops cached lookup lists after a write
type LookupInvalidator interface {
	InvalidateLookups(ctx context.Context)
}

// transitionFunc applies one lifecycle operation to a locked reservation.
// A nil event means nothing changed.
type transitionFunc func(tx repository.Tx, r *domain.Reservation) (*domain.ReservationEvent, error)

// transition runs fn on reservation id inside one transaction and persists
// the new state together with its event.
func transition(ctx context.Context, store repository.Store, id string, fn transitionFunc) (*domain.Reservation, error) {
	var out *domain.Reservation
	err := store.InTx(ctx, func(tx repository.Tx) error {
		r, err := tx.LockReservation(ctx, id)
		if err != nil {
			return err
		}
		if r == nil {
			return domain.ErrReservationNotFound
		}

		evt, err := fn(tx, r)
		if err != nil {
			return err
		}
		if evt != nil {
			if err := tx.UpdateReservation(ctx, r); err != nil {
				return err
			}
			if err := tx.AppendEvents(ctx, r.PerformanceID, evt); err != nil {
				return err
			}
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
