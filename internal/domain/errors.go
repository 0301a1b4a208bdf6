package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	// Validation
	ErrUnknownPlatform         = errors.New("unknown platform")
	ErrInvalidSessionKey       = errors.New("performance name, date and time are required")
	ErrInvalidStatus           = errors.New("invalid reservation status")
	ErrInvalidSeat             = errors.New("invalid seat descriptor")
	ErrSeatNotInLayout         = errors.New("seat is not part of the seat layout")
	ErrInvalidQuantity         = errors.New("quantity must not be negative")
	ErrMissingField            = errors.New("required field is empty")
	ErrMissingColumn           = errors.New("source column missing from export")
	ErrDuplicateSeat           = errors.New("seat appears more than once in the batch")
	ErrEmptyImport             = errors.New("import contains no reservations")
	ErrInvalidPhoneSuffix      = errors.New("phone suffix must have at least 4 digits")
	ErrStatusRequiresOperation = errors.New("status can only be reached through its dedicated operation")
	ErrInvalidToken            = errors.New("invalid token")

	// Conflict
	ErrIllegalTransition   = errors.New("illegal status transition")
	ErrSeatTaken           = errors.New("seat already taken")
	ErrSeatAlreadyAssigned = errors.New("reservation already has a seat")
	ErrTokenCollision      = errors.New("token already in use")
	ErrTokenExhausted      = errors.New("could not mint a unique token")
	ErrSessionInFlight     = errors.New("session has reservations past the reserved state")

	// Not found
	ErrSessionNotFound     = errors.New("performance session not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrTokenNotFound       = errors.New("token not found")
	ErrLayoutNotFound      = errors.New("no seat layout for performance")
	ErrRecordNotFound      = errors.New("record not found")
)

// ErrorKind classifies domain errors for callers
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindStorage
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage"
	}
	return "unknown"
}

var kinds = map[ErrorKind][]error{
	KindValidation: {
		ErrUnknownPlatform, ErrInvalidSessionKey, ErrInvalidStatus, ErrInvalidSeat,
		ErrSeatNotInLayout, ErrInvalidQuantity, ErrMissingField, ErrMissingColumn, ErrDuplicateSeat,
		ErrEmptyImport, ErrInvalidPhoneSuffix, ErrStatusRequiresOperation, ErrInvalidToken,
	},
	KindConflict: {
		ErrIllegalTransition, ErrSeatTaken, ErrSeatAlreadyAssigned,
		ErrTokenCollision, ErrTokenExhausted, ErrSessionInFlight,
	},
	KindNotFound: {
		ErrSessionNotFound, ErrReservationNotFound, ErrTokenNotFound, ErrLayoutNotFound,
		ErrRecordNotFound,
	},
}

// Kind returns the class of err. Storage errors win over any sentinel they wrap.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var se *StorageError
	if errors.As(err, &se) {
		return KindStorage
	}
	for kind, sentinels := range kinds {
		for _, s := range sentinels {
			if errors.Is(err, s) {
				return kind
			}
		}
	}
	return KindUnknown
}

// StorageError is a failed or timed out store operation. No partial writes
// survive it and the caller may retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Retryable is always true for storage failures
func (e *StorageError) Retryable() bool { return true }

// NewStorageError wraps err unless it is already a domain error
func NewStorageError(op string, err error) error {
	if err == nil || Kind(err) != KindUnknown {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsRetryable reports whether the caller may repeat the operation
func IsRetryable(err error) bool {
	return Kind(err) == KindStorage
}

// TransitionError is an illegal lifecycle edge
type TransitionError struct {
	From ReservationStatus
	To   ReservationStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrIllegalTransition }

// RowError is a rejected input row. Row is zero-based within its batch.
type RowError struct {
	Row   int
	Field string
	Err   error
}

func (e *RowError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("row %d: %v", e.Row, e.Err)
	}
	return fmt.Sprintf("row %d: %s: %v", e.Row, e.Field, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }
