// Package pubsub provides the broker-agnostic message transport between the
// backend and physical devices. Devices publish reports on init/data topics,
// the backend publishes commands on a per-device command topic.
package pubsub

import "context"

// Message is a raw payload delivered on a broker topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Publisher sends messages to the broker. Delivery is at-least-once;
// consumers must be idempotent against duplicates.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Subscriber receives messages matching a topic filter. The returned channel
// is owned by the subscriber and is closed by Close.
type Subscriber interface {
	Subscribe(filter string) (<-chan Message, error)
	Close(ch <-chan Message)
}
