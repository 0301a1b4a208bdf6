package domain

import (
	"strings"
	"time"
)

// SessionKey is the natural key of a performance session
type SessionKey struct {
	Name string `json:"name"`
	Date string `json:"date"`
	Time string `json:"time"`
}

// Normalize trims every part of the key
func (k SessionKey) Normalize() SessionKey {
	return SessionKey{
		Name: strings.TrimSpace(k.Name),
		Date: strings.TrimSpace(k.Date),
		Time: strings.TrimSpace(k.Time),
	}
}

// Validate checks that every part of the key is present
func (k SessionKey) Validate() error {
	n := k.Normalize()
	if n.Name == "" || n.Date == "" || n.Time == "" {
		return ErrInvalidSessionKey
	}
	return nil
}

func (k SessionKey) String() string {
	return k.Name + " " + k.Date + " " + k.Time
}

// PerformanceSession is one showing of a performance
type PerformanceSession struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Date              string    `json:"date"`
	Time              string    `json:"time"`
	TotalReservations int       `json:"total_reservations"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Key returns the natural key of the session
func (s *PerformanceSession) Key() SessionKey {
	return SessionKey{Name: s.Name, Date: s.Date, Time: s.Time}
}

// SessionStats summarizes the reservations of a session
type SessionStats struct {
	SessionID     string                    `json:"session_id"`
	Reservations  int                       `json:"reservations"`
	TotalQuantity int                       `json:"total_quantity"`
	Assigned      int                       `json:"assigned"`
	Unassigned    int                       `json:"unassigned"`
	ByStatus      map[ReservationStatus]int `json:"by_status"`
}

// ComputeStats folds reservations into SessionStats. Cancelled and expired
// reservations count by status only.
func ComputeStats(sessionID string, reservations []*Reservation) *SessionStats {
	stats := &SessionStats{SessionID: sessionID, ByStatus: make(map[ReservationStatus]int)}
	for _, r := range reservations {
		stats.Reservations++
		stats.ByStatus[r.Status]++
		if !r.Status.HoldsSeat() {
			continue
		}
		stats.TotalQuantity += r.Quantity
		if r.HasSeat() {
			stats.Assigned++
		} else {
			stats.Unassigned++
		}
	}
	return stats
}
