// Package dummy provides an in-process pubsub broker used by tests and by
// the simulator's loopback mode. Delivery is synchronous into buffered
// channels.
package dummy

import (
	"context"
	"sync"

	"github.com/dsmirnov/homesec/internal/pubsub"
)

type eventChannel struct {
	C      chan pubsub.Message
	filter string
}

type Broker struct {
	mu       sync.Mutex
	channels []eventChannel
}

func NewBroker() *Broker {
	return &Broker{}
}

func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.channels {
		if pubsub.Match(ch.filter, topic) {
			ch.C <- pubsub.Message{Topic: topic, Payload: payload}
		}
	}
	return nil
}

func (b *Broker) Subscribe(filter string) (<-chan pubsub.Message, error) {
	ch := eventChannel{C: make(chan pubsub.Message, 16), filter: filter}
	b.mu.Lock()
	b.channels = append(b.channels, ch)
	b.mu.Unlock()
	return ch.C, nil
}

func (b *Broker) Close(channel <-chan pubsub.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var channels []eventChannel
	for _, ch := range b.channels {
		if channel == (<-chan pubsub.Message)(ch.C) {
			close(ch.C)
		} else {
			channels = append(channels, ch)
		}
	}
	b.channels = channels
}
