package kafka

import (
	"context"
	"testing"
)

func TestNewProducer_NoBrokers(t *testing.T) {
	tests := []struct {
		name string
		cfg  *ProducerConfig
	}{
		{"nil config", nil},
		{"empty brokers", &ProducerConfig{ClientID: "tcats"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProducer(context.Background(), tt.cfg)
			if err != ErrNoBrokers {
				t.Errorf("NewProducer() error = %v, want %v", err, ErrNoBrokers)
			}
			if p != nil {
				t.Error("expected nil producer")
			}
		})
	}
}
