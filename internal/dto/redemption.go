package dto

import "github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"

// RedemptionLookupRequest identifies an attendee within a session
type RedemptionLookupRequest struct {
	Name            string `json:"name" binding:"required"`
	PhoneSuffix     string `json:"phone_suffix" binding:"required"`
	PerformanceName string `json:"performance_name" binding:"required"`
	Date            string `json:"date" binding:"required"`
	Time            string `json:"time" binding:"required"`
}

// Key returns the session key of the request
func (r *RedemptionLookupRequest) Key() domain.SessionKey {
	return domain.SessionKey{Name: r.PerformanceName, Date: r.Date, Time: r.Time}.Normalize()
}

// RedemptionLookupResponse is the matched reservation set. An empty set is
// not an error.
type RedemptionLookupResponse struct {
	Session      *SessionResponse       `json:"session"`
	Reservations []*ReservationResponse `json:"reservations"`
}

// SeatStatus values
const (
	SeatAvailable = "available"
	SeatOccupied  = "occupied"
)

// SeatResponse is one seat of a seat map
type SeatResponse struct {
	Seat   string `json:"seat"`
	Row    string `json:"row"`
	Number int    `json:"number"`
	Status string `json:"status"`
}

// SectionResponse is one section of a seat map
type SectionResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Color       string          `json:"color,omitempty"`
	Price       int64           `json:"price"`
	SeatsPerRow int             `json:"seats_per_row"`
	Seats       []*SeatResponse `json:"seats"`
}

// SeatMapResponse combines a seat layout with the occupancy of a session
type SeatMapResponse struct {
	SessionID   string             `json:"session_id"`
	Performance string             `json:"performance"`
	Capacity    int                `json:"capacity"`
	Occupied    int                `json:"occupied"`
	Available   int                `json:"available"`
	Sections    []*SectionResponse `json:"sections"`
	// Unlisted holds occupied seats that are not part of the layout
	Unlisted []string `json:"unlisted,omitempty"`
}
