// Package mqtt implements the pubsub transport on top of an MQTT broker
// using the Eclipse Paho client. All messages are published and subscribed
// at QoS 1 (at-least-once).
package mqtt

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/dsmirnov/homesec/internal/logging"
	"github.com/dsmirnov/homesec/internal/pubsub"
)

const (
	qos            = 1
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

type eventChannel struct {
	C      chan pubsub.Message
	filter string
}

// Broker is a Publisher+Subscriber backed by a single MQTT connection.
type Broker struct {
	url    string
	client MQTT.Client
	log    logging.Logger

	channelsLock sync.Mutex
	channels     []eventChannel
}

// NewBroker prepares a broker client for the given URL (e.g.
// "tcp://localhost:1883"). Connect must be called before use.
func NewBroker(url string, clientID string, log logging.Logger) *Broker {
	b := &Broker{url: url, log: log}

	if clientID == "" {
		hostname, _ := os.Hostname()
		clientID = fmt.Sprintf("homesec/%s-%s", hostname, uuid.NewString())
	}
	opts := MQTT.NewClientOptions()
	opts.AddBroker(url)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(b.onConnect)
	b.client = MQTT.NewClient(opts)
	return b
}

func (b *Broker) Connect(ctx context.Context) error {
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect to %s timed out", b.url)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", b.url, err)
	}
	return nil
}

func (b *Broker) Disconnect() {
	b.client.Disconnect(250)
}

// onConnect restores subscriptions after a reconnect.
func (b *Broker) onConnect(client MQTT.Client) {
	b.channelsLock.Lock()
	defer b.channelsLock.Unlock()
	for _, ch := range b.channels {
		b.subscribe(ch)
	}
}

func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	token := b.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	return nil
}

func (b *Broker) subscribe(ch eventChannel) {
	token := b.client.Subscribe(ch.filter, qos, func(client MQTT.Client, msg MQTT.Message) {
		ch.C <- pubsub.Message{Topic: msg.Topic(), Payload: msg.Payload()}
	})
	go func() {
		if token.Wait(); token.Error() != nil {
			b.log.Error(context.Background(), "mqtt subscribe failed",
				"filter", ch.filter, "error", token.Error())
		}
	}()
}

func (b *Broker) Subscribe(filter string) (<-chan pubsub.Message, error) {
	ch := eventChannel{C: make(chan pubsub.Message, 16), filter: filter}
	b.channelsLock.Lock()
	b.channels = append(b.channels, ch)
	b.channelsLock.Unlock()
	b.subscribe(ch)
	return ch.C, nil
}

func (b *Broker) Close(channel <-chan pubsub.Message) {
	b.channelsLock.Lock()
	defer b.channelsLock.Unlock()
	var channels []eventChannel
	for _, ch := range b.channels {
		if channel == (<-chan pubsub.Message)(ch.C) {
			if token := b.client.Unsubscribe(ch.filter); token.Wait() && token.Error() != nil {
				b.log.Error(context.Background(), "mqtt unsubscribe failed",
					"filter", ch.filter, "error", token.Error())
			}
			close(ch.C)
		} else {
			channels = append(channels, ch)
		}
	}
	b.channels = channels
}
