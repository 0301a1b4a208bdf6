package domain

import "time"

// EventType tags a ReservationEvent
type EventType string

const (
	EventReservationCreated EventType = "reservation_created"
	EventSeatAssigned       EventType = "seat_assigned"
	EventQRIssued           EventType = "qr_issued"
	EventCheckedIn          EventType = "checked_in"
	EventCancelled          EventType = "cancelled"
	EventExpired            EventType = "expired"
	EventStatusUpdated      EventType = "status_updated"
)

// ReservationEvent is an append-only audit record
type ReservationEvent struct {
	ID             string             `json:"id"`
	ReservationID  string             `json:"reservation_id"`
	EventType      EventType          `json:"event_type"`
	PreviousStatus *ReservationStatus `json:"previous_status"`
	NewStatus      *ReservationStatus `json:"new_status"`
	Payload        map[string]any     `json:"payload"`
	CreatedAt      time.Time          `json:"created_at"`
}

// IsLegal reports whether the event records an edge of the lifecycle, or
// the initial status of a new reservation.
func (e *ReservationEvent) IsLegal() bool {
	if e.NewStatus == nil {
		return false
	}
	if e.PreviousStatus == nil {
		return e.EventType == EventReservationCreated
	}
	return CanTransition(*e.PreviousStatus, *e.NewStatus)
}
