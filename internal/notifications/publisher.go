package notifications

import (
	"context"
	"errors"
)

// ErrNoTopic is returned when a message is published without a destination.
var ErrNoTopic = errors.New("no notification topic configured")

// DefaultTrigger is the trigger attribute used when none is given.
const DefaultTrigger = "default"

// Message is a form event sent to downstream consumers.
type Message struct {
	// Key groups related messages, typically the form ID.
	Key        string
	Body       any
	Attributes map[string]string
}

// Publisher sends messages to a named topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
}

// NoopPublisher discards every message.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, Message) error { return nil }
