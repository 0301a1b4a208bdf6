package domain

// ReservationStatus is the lifecycle state of a reservation
type ReservationStatus string

const (
	StatusPending            ReservationStatus = "pending"
	StatusReservedUnassigned ReservationStatus = "reserved_unassigned"
	StatusReservedAssigned   ReservationStatus = "reserved_assigned"
	StatusIssued             ReservationStatus = "issued"
	StatusCheckedIn          ReservationStatus = "checked_in"
	StatusCancelled          ReservationStatus = "cancelled"
	StatusExpired            ReservationStatus = "expired"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []ReservationStatus{
	StatusPending,
	StatusReservedUnassigned,
	StatusReservedAssigned,
	StatusIssued,
	StatusCheckedIn,
	StatusCancelled,
	StatusExpired,
}

// forward edges; cancelled and expired are added for every non-terminal state
var transitions = map[ReservationStatus][]ReservationStatus{
	StatusPending:            {StatusReservedUnassigned},
	StatusReservedUnassigned: {StatusReservedAssigned, StatusIssued},
	StatusReservedAssigned:   {StatusIssued},
	StatusIssued:             {StatusCheckedIn},
}

// IsValid checks if the status is a known ReservationStatus
func (s ReservationStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusReservedUnassigned, StatusReservedAssigned,
		StatusIssued, StatusCheckedIn, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// String returns the string representation of ReservationStatus
func (s ReservationStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no transition leaves s
func (s ReservationStatus) IsTerminal() bool {
	return s == StatusCheckedIn || s == StatusCancelled || s == StatusExpired
}

// IsReserved reports whether s is one of the reserved_* states
func (s ReservationStatus) IsReserved() bool {
	return s == StatusReservedUnassigned || s == StatusReservedAssigned
}

// HoldsSeat reports whether a reservation in s keeps its seat occupied
func (s ReservationStatus) HoldsSeat() bool {
	return s != StatusCancelled && s != StatusExpired
}

// CanTransition reports whether from -> to is an edge of the lifecycle
func CanTransition(from, to ReservationStatus) bool {
	if !from.IsValid() || !to.IsValid() || from.IsTerminal() {
		return false
	}
	if to == StatusCancelled || to == StatusExpired {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InitialStatus is the status a freshly imported reservation starts in
func InitialStatus(seat string) ReservationStatus {
	if seat != "" {
		return StatusReservedAssigned
	}
	return StatusReservedUnassigned
}
