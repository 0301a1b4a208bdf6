package dto

import (
	"time"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
)

// SessionResponse represents a performance session in API responses
type SessionResponse struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Date              string    `json:"date"`
	Time              string    `json:"time"`
	TotalReservations int       `json:"total_reservations"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// SessionFromDomain converts a session
func SessionFromDomain(s *domain.PerformanceSession) *SessionResponse {
	return &SessionResponse{
		ID:                s.ID,
		Name:              s.Name,
		Date:              s.Date,
		Time:              s.Time,
		TotalReservations: s.TotalReservations,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

// SessionsFromDomain converts a session list
func SessionsFromDomain(ss []*domain.PerformanceSession) []*SessionResponse {
	out := make([]*SessionResponse, 0, len(ss))
	for _, s := range ss {
		out = append(out, SessionFromDomain(s))
	}
	return out
}

// ReservationResponse represents a reservation in API responses
type ReservationResponse struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id"`
	Platform        string     `json:"platform"`
	ExternalNumber  string     `json:"external_number"`
	HolderName      string     `json:"holder_name"`
	Phone           string     `json:"phone"`
	SeatDescriptor  *string    `json:"seat_descriptor"`
	Quantity        int        `json:"quantity"`
	Status          string     `json:"status"`
	AssignmentState string     `json:"assignment_state"`
	Token           *string    `json:"token,omitempty"`
	TokenIssuedAt   *time.Time `json:"token_issued_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ReservationFromDomain converts a reservation
func ReservationFromDomain(r *domain.Reservation) *ReservationResponse {
	return &ReservationResponse{
		ID:              r.ID,
		SessionID:       r.PerformanceID,
		Platform:        r.Platform,
		ExternalNumber:  r.ExternalNumber,
		HolderName:      r.HolderName,
		Phone:           r.Phone,
		SeatDescriptor:  r.Seat,
		Quantity:        r.Quantity,
		Status:          r.Status.String(),
		AssignmentState: string(r.AssignmentState()),
		Token:           r.Token,
		TokenIssuedAt:   r.TokenIssuedAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// ReservationsFromDomain converts a reservation list
func ReservationsFromDomain(rs []*domain.Reservation) []*ReservationResponse {
	out := make([]*ReservationResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, ReservationFromDomain(r))
	}
	return out
}

// ListReservationsQuery holds the optional list filters
type ListReservationsQuery struct {
	Platform   string `form:"platform"`
	Assignment string `form:"assignment" binding:"omitempty,oneof=assigned unassigned"`
	Query      string `form:"q"`
}

// CreateReservationRequest adds one reservation to an existing session
type CreateReservationRequest struct {
	SessionID      string `json:"session_id" binding:"required"`
	Platform       string `json:"platform" binding:"required"`
	ExternalNumber string `json:"external_number"`
	HolderName     string `json:"holder_name" binding:"required"`
	Phone          string `json:"phone"`
	SeatDescriptor string `json:"seat_descriptor"`
	Quantity       int    `json:"quantity" binding:"min=0"`
}

// Draft returns the request as a reservation draft
func (r *CreateReservationRequest) Draft() domain.ReservationDraft {
	return domain.ReservationDraft{
		Platform:       r.Platform,
		ExternalNumber: r.ExternalNumber,
		HolderName:     r.HolderName,
		Phone:          r.Phone,
		Seat:           r.SeatDescriptor,
		Quantity:       r.Quantity,
	}
}

// ChangeStatusRequest is an operator status change
type ChangeStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

// AssignSeatRequest binds a seat to an unassigned reservation
type AssignSeatRequest struct {
	Seat string `json:"seat" binding:"required"`
}

// CheckInRequest confirms attendance
type CheckInRequest struct {
	Token string `json:"token"`
	Note  string `json:"note"`
}

// IssueTokenResponse carries the redemption token of a reservation
type IssueTokenResponse struct {
	Reservation *ReservationResponse `json:"reservation"`
	Token       string               `json:"token"`
	IssuedAt    time.Time            `json:"issued_at"`
	ExpiresAt   time.Time            `json:"expires_at"`
	Reissued    bool                 `json:"reissued"`
}

// EventResponse represents a lifecycle event
type EventResponse struct {
	ID             string         `json:"id"`
	ReservationID  string         `json:"reservation_id"`
	EventType      string         `json:"event_type"`
	PreviousStatus *string        `json:"previous_status"`
	NewStatus      *string        `json:"new_status"`
	Payload        map[string]any `json:"payload"`
	CreatedAt      time.Time      `json:"created_at"`
}

// EventsFromDomain converts an event list
func EventsFromDomain(evts []*domain.ReservationEvent) []*EventResponse {
	out := make([]*EventResponse, 0, len(evts))
	for _, e := range evts {
		out = append(out, &EventResponse{
			ID:             e.ID,
			ReservationID:  e.ReservationID,
			EventType:      string(e.EventType),
			PreviousStatus: statusString(e.PreviousStatus),
			NewStatus:      statusString(e.NewStatus),
			Payload:        e.Payload,
			CreatedAt:      e.CreatedAt,
		})
	}
	return out
}

func statusString(s *domain.ReservationStatus) *string {
	if s == nil {
		return nil
	}
	v := s.String()
	return &v
}
