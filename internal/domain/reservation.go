package domain

import (
	"strings"
	"time"
)

// AssignmentState is derived from the seat descriptor
type AssignmentState string

const (
	AssignmentAssigned   AssignmentState = "assigned"
	AssignmentUnassigned AssignmentState = "unassigned"
)

// ReservationDraft is the canonical shape every vendor row is normalized into
type ReservationDraft struct {
	Platform       string `json:"platform"`
	ExternalNumber string `json:"external_number"`
	HolderName     string `json:"holder_name"`
	Phone          string `json:"phone"`
	Seat           string `json:"seat_descriptor"`
	Quantity       int    `json:"quantity"`
	// SeatKey is the layout form of Seat used for occupancy. Empty means Seat.
	SeatKey string `json:"-"`
}

// AssignmentState reports whether the draft carries a seat
func (d ReservationDraft) AssignmentState() AssignmentState {
	if strings.TrimSpace(d.Seat) != "" {
		return AssignmentAssigned
	}
	return AssignmentUnassigned
}

// Validate checks the fields a stored reservation cannot do without
func (d ReservationDraft) Validate() error {
	if strings.TrimSpace(d.HolderName) == "" {
		return ErrMissingField
	}
	if d.Quantity < 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// Reservation is one purchased unit of admission
type Reservation struct {
	ID             string            `json:"id"`
	PerformanceID  string            `json:"performance_id"`
	Platform       string            `json:"platform"`
	ExternalNumber string            `json:"external_number"`
	HolderName     string            `json:"holder_name"`
	Phone          string            `json:"phone"`
	Seat           *string           `json:"seat_descriptor"`
	SeatKey        *string           `json:"-"`
	Quantity       int               `json:"quantity"`
	Status         ReservationStatus `json:"status"`
	Token          *string           `json:"token,omitempty"`
	TokenIssuedAt  *time.Time        `json:"token_issued_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// NewReservation builds a reservation from a draft in its initial status
func NewReservation(id, performanceID string, d ReservationDraft, now time.Time) *Reservation {
	r := &Reservation{
		ID:             id,
		PerformanceID:  performanceID,
		Platform:       d.Platform,
		ExternalNumber: strings.TrimSpace(d.ExternalNumber),
		HolderName:     strings.TrimSpace(d.HolderName),
		Phone:          strings.TrimSpace(d.Phone),
		Quantity:       d.Quantity,
		Status:         InitialStatus(strings.TrimSpace(d.Seat)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if seat := strings.TrimSpace(d.Seat); seat != "" {
		key := strings.TrimSpace(d.SeatKey)
		if key == "" {
			key = seat
		}
		r.Seat = &seat
		r.SeatKey = &key
	}
	return r
}

// HasSeat reports whether a concrete seat is bound
func (r *Reservation) HasSeat() bool {
	return r.Seat != nil && *r.Seat != ""
}

// SeatValue returns the seat descriptor or ""
func (r *Reservation) SeatValue() string {
	if r.Seat == nil {
		return ""
	}
	return *r.Seat
}

// OccupancyKey is the value seat uniqueness is checked on. The stored
// descriptor keeps the text the source supplied.
func (r *Reservation) OccupancyKey() string {
	if r.SeatKey != nil && *r.SeatKey != "" {
		return *r.SeatKey
	}
	return r.SeatValue()
}

// TokenValue returns the token or ""
func (r *Reservation) TokenValue() string {
	if r.Token == nil {
		return ""
	}
	return *r.Token
}

// AssignmentState reports whether the reservation carries a seat
func (r *Reservation) AssignmentState() AssignmentState {
	if r.HasSeat() {
		return AssignmentAssigned
	}
	return AssignmentUnassigned
}

// Clone returns a deep copy
func (r *Reservation) Clone() *Reservation {
	c := *r
	if r.Seat != nil {
		s := *r.Seat
		c.Seat = &s
	}
	if r.SeatKey != nil {
		k := *r.SeatKey
		c.SeatKey = &k
	}
	if r.Token != nil {
		t := *r.Token
		c.Token = &t
	}
	if r.TokenIssuedAt != nil {
		t := *r.TokenIssuedAt
		c.TokenIssuedAt = &t
	}
	return &c
}

// CreatedEvent is the first audit record of a reservation
func (r *Reservation) CreatedEvent(payload map[string]any) *ReservationEvent {
	to := r.Status
	return &ReservationEvent{
		ReservationID: r.ID,
		EventType:     EventReservationCreated,
		NewStatus:     &to,
		Payload:       payload,
		CreatedAt:     r.CreatedAt,
	}
}

// moveTo applies a checked transition and returns its event
func (r *Reservation) moveTo(to ReservationStatus, eventType EventType, payload map[string]any, now time.Time) (*ReservationEvent, error) {
	from := r.Status
	if !CanTransition(from, to) {
		return nil, &TransitionError{From: from, To: to}
	}
	r.Status = to
	r.UpdatedAt = now
	return &ReservationEvent{
		ReservationID:  r.ID,
		EventType:      eventType,
		PreviousStatus: &from,
		NewStatus:      &to,
		Payload:        payload,
		CreatedAt:      now,
	}, nil
}

// AssignSeat binds seat and moves reserved_unassigned -> reserved_assigned.
// Occupancy is checked by the store, not here.
func (r *Reservation) AssignSeat(seat string, now time.Time) (*ReservationEvent, error) {
	seat = strings.TrimSpace(seat)
	if seat == "" {
		return nil, ErrInvalidSeat
	}
	if r.HasSeat() {
		return nil, ErrSeatAlreadyAssigned
	}
	evt, err := r.moveTo(StatusReservedAssigned, EventSeatAssigned, map[string]any{"seat": seat}, now)
	if err != nil {
		return nil, err
	}
	key := seat
	r.Seat = &seat
	r.SeatKey = &key
	return evt, nil
}

// IssueToken stores token and moves to issued. An issued reservation keeps
// its token and the returned event is nil.
func (r *Reservation) IssueToken(token string, now time.Time) (*ReservationEvent, error) {
	if r.Token != nil {
		if r.Status == StatusIssued || r.Status == StatusCheckedIn {
			return nil, nil
		}
		return nil, &TransitionError{From: r.Status, To: StatusIssued}
	}
	if token == "" {
		return nil, ErrInvalidToken
	}
	if !r.Status.IsReserved() {
		return nil, &TransitionError{From: r.Status, To: StatusIssued}
	}
	evt, err := r.moveTo(StatusIssued, EventQRIssued, map[string]any{"token": token}, now)
	if err != nil {
		return nil, err
	}
	r.Token = &token
	r.TokenIssuedAt = &now
	return evt, nil
}

// CheckIn moves issued -> checked_in
func (r *Reservation) CheckIn(note string, now time.Time) (*ReservationEvent, error) {
	return r.moveTo(StatusCheckedIn, EventCheckedIn, notePayload(note), now)
}

// Cancel releases the reservation and its seat
func (r *Reservation) Cancel(note string, now time.Time) (*ReservationEvent, error) {
	return r.moveTo(StatusCancelled, EventCancelled, notePayload(note), now)
}

// Expire ends the reservation for time-based reasons
func (r *Reservation) Expire(note string, now time.Time) (*ReservationEvent, error) {
	return r.moveTo(StatusExpired, EventExpired, notePayload(note), now)
}

// ChangeStatus is the operator entry point for transitions that carry no
// data beyond a note. Seat binding and token issuance have their own
// operations.
func (r *Reservation) ChangeStatus(to ReservationStatus, note string, now time.Time) (*ReservationEvent, error) {
	if !to.IsValid() {
		return nil, ErrInvalidStatus
	}
	switch to {
	case StatusReservedAssigned, StatusIssued:
		if CanTransition(r.Status, to) {
			return nil, ErrStatusRequiresOperation
		}
		return nil, &TransitionError{From: r.Status, To: to}
	case StatusCheckedIn:
		return r.CheckIn(note, now)
	case StatusCancelled:
		return r.Cancel(note, now)
	case StatusExpired:
		return r.Expire(note, now)
	}
	return r.moveTo(to, EventStatusUpdated, notePayload(note), now)
}

func notePayload(note string) map[string]any {
	if note == "" {
		return map[string]any{}
	}
	return map[string]any{"note": note}
}
