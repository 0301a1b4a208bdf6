package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// DLQMessage is a record that could not be delivered, parked for inspection
type DLQMessage struct {
	ID            string            `json:"id"`
	OriginalTopic string            `json:"original_topic"`
	OriginalKey   string            `json:"original_key"`
	Payload       json.RawMessage   `json:"payload"`
	Headers       map[string]string `json:"headers,omitempty"`
	Error         string            `json:"error"`
	Attempts      int               `json:"attempts"`
	MovedToDLQAt  time.Time         `json:"moved_to_dlq_at"`
	Source        string            `json:"source"`
}

// JSONProducer is satisfied by the Kafka producer
type JSONProducer interface {
	ProduceJSON(ctx context.Context, topic, key string, value any, headers map[string]string) error
}

// DLQPublisher writes dead letters to "<topic>.dlq"
type DLQPublisher struct {
	producer JSONProducer
	source   string
}

// NewDLQPublisher creates a DLQ publisher tagging messages with source
func NewDLQPublisher(producer JSONProducer, source string) *DLQPublisher {
	return &DLQPublisher{producer: producer, source: source}
}

// Topic returns the dead letter topic for originalTopic
func (p *DLQPublisher) Topic(originalTopic string) string {
	return originalTopic + ".dlq"
}

// Publish sends msg to the dead letter topic
func (p *DLQPublisher) Publish(ctx context.Context, msg *DLQMessage) error {
	if msg == nil {
		return errors.New("DLQ message cannot be nil")
	}

	msg.MovedToDLQAt = time.Now().UTC()
	msg.Source = p.source

	headers := map[string]string{
		"content_type":   "application/json",
		"original_topic": msg.OriginalTopic,
		"error":          msg.Error,
		"attempts":       strconv.Itoa(msg.Attempts),
		"source":         msg.Source,
	}
	for k, v := range msg.Headers {
		if _, exists := headers[k]; !exists {
			headers["original_"+k] = v
		}
	}

	if err := p.producer.ProduceJSON(ctx, p.Topic(msg.OriginalTopic), msg.OriginalKey, msg, headers); err != nil {
		return fmt.Errorf("publish to DLQ: %w", err)
	}
	return nil
}
