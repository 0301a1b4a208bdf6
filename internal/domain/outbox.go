package domain

import (
	"encoding/json"
	"time"
)

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// DefaultEventTopic receives every reservation event
const DefaultEventTopic = "reservation-events"

// OutboxMessage is a reservation event waiting to be relayed
type OutboxMessage struct {
	ID           string       `json:"id"`
	EventID      string       `json:"event_id"`
	EventType    EventType    `json:"event_type"`
	Payload      []byte       `json:"payload"`
	Topic        string       `json:"topic"`
	PartitionKey string       `json:"partition_key"`
	Status       OutboxStatus `json:"status"`
	RetryCount   int          `json:"retry_count"`
	MaxRetries   int          `json:"max_retries"`
	LastError    string       `json:"last_error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	PublishedAt  *time.Time   `json:"published_at,omitempty"`
	// ClaimedUntil is set while a relay holds the message
	ClaimedUntil *time.Time `json:"claimed_until,omitempty"`
}

// EventEnvelope is the published form of a ReservationEvent
type EventEnvelope struct {
	EventID        string             `json:"event_id"`
	EventType      EventType          `json:"event_type"`
	ReservationID  string             `json:"reservation_id"`
	PerformanceID  string             `json:"performance_id"`
	PreviousStatus *ReservationStatus `json:"previous_status,omitempty"`
	NewStatus      *ReservationStatus `json:"new_status,omitempty"`
	Payload        map[string]any     `json:"payload,omitempty"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

// NewOutboxMessage wraps evt for relay, keyed by reservation so a
// reservation's events stay ordered within one partition.
func NewOutboxMessage(id string, evt *ReservationEvent, performanceID, topic string) (*OutboxMessage, error) {
	payload, err := json.Marshal(EventEnvelope{
		EventID:        evt.ID,
		EventType:      evt.EventType,
		ReservationID:  evt.ReservationID,
		PerformanceID:  performanceID,
		PreviousStatus: evt.PreviousStatus,
		NewStatus:      evt.NewStatus,
		Payload:        evt.Payload,
		OccurredAt:     evt.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	if topic == "" {
		topic = DefaultEventTopic
	}
	return &OutboxMessage{
		ID:           id,
		EventID:      evt.ID,
		EventType:    evt.EventType,
		Payload:      payload,
		Topic:        topic,
		PartitionKey: evt.ReservationID,
		Status:       OutboxStatusPending,
		MaxRetries:   5,
		CreatedAt:    evt.CreatedAt,
	}, nil
}

// CanRetry checks if the message can be retried
func (m *OutboxMessage) CanRetry() bool {
	return m.RetryCount < m.MaxRetries
}

// MarkAsPublished marks the message as delivered
func (m *OutboxMessage) MarkAsPublished(now time.Time) {
	m.Status = OutboxStatusPublished
	m.PublishedAt = &now
}

// Claimable reports whether a relay may take the message at now
func (m *OutboxMessage) Claimable(now time.Time) bool {
	return m.Status == OutboxStatusPending && (m.ClaimedUntil == nil || !m.ClaimedUntil.After(now))
}

// MarkAsFailed records a delivery failure and releases the claim. The
// message stays pending while retries remain.
func (m *OutboxMessage) MarkAsFailed(err string) {
	m.ClaimedUntil = nil
	m.RetryCount++
	m.LastError = err
	if m.CanRetry() {
		m.Status = OutboxStatusPending
	} else {
		m.Status = OutboxStatusFailed
	}
}
