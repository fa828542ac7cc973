// Package domain provides core domain models and interfaces for the Hi-Therma bridge.
package domain

import (
	"context"
)

// Reading is a single decoded measurement ready for publication. Topic is the
// path relative to the configured publish prefix (for example
// "sensors/water_inlet_temperature" or "indoor/mode"). Value carries a bool,
// an int, a float64 or a string; Unit is empty when the measurement has none.
type Reading struct {
	Topic string
	Value interface{}
	Unit  string
}

// MessagePublisher defines the interface for the MQTT transport.
type MessagePublisher interface {
	// Connect establishes a connection to the broker, retrying until the
	// context is cancelled.
	Connect(ctx context.Context) error

	// Subscribe registers a handler for messages arriving on a topic.
	Subscribe(topic string, handler func(topic string, payload []byte)) error

	// Publish sends a payload to a topic with the given retain flag.
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error

	// Close terminates the connection to the broker.
	Close() error
}

// FrameArchiver records frames that failed validation or carried an unknown
// opcode, for offline protocol analysis.
type FrameArchiver interface {
	Archive(frame []byte, reason string) error
}

// NoopArchiver discards archived frames.
type NoopArchiver struct{}

func (NoopArchiver) Archive(_ []byte, _ string) error { return nil }
