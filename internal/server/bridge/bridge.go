// Package bridge connects the message broker to the backend services. It
// subscribes to the device report topics and dispatches each message to the
// pairing or telemetry service depending on the topic kind.
package bridge

import (
	"context"

	"github.com/dsmirnov/homesec/internal/logging"
	"github.com/dsmirnov/homesec/internal/pubsub"
)

type Pairing interface {
	CompleteAdd(ctx context.Context, username, deviceID string, report []byte) error
}

type Telemetry interface {
	Ingest(ctx context.Context, username, deviceID string, raw []byte) error
}

type Bridge struct {
	sub       pubsub.Subscriber
	pairing   Pairing
	telemetry Telemetry
	log       logging.Logger
}

func New(sub pubsub.Subscriber, pairing Pairing, telemetry Telemetry, log logging.Logger) *Bridge {
	return &Bridge{sub: sub, pairing: pairing, telemetry: telemetry, log: log}
}

// Run consumes device reports until ctx is cancelled. Each message is handled
// in its own goroutine so one slow account cannot stall the broker channel.
func (b *Bridge) Run(ctx context.Context) error {
	initCh, err := b.sub.Subscribe(pubsub.InitFilter)
	if err != nil {
		return err
	}
	defer b.sub.Close(initCh)

	dataCh, err := b.sub.Subscribe(pubsub.DataFilter)
	if err != nil {
		return err
	}
	defer b.sub.Close(dataCh)

	b.log.Info(ctx, "bridge started", "filters", []string{pubsub.InitFilter, pubsub.DataFilter})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-initCh:
			if !ok {
				return nil
			}
			go b.dispatch(ctx, msg)
		case msg, ok := <-dataCh:
			if !ok {
				return nil
			}
			go b.dispatch(ctx, msg)
		}
	}
}

func (b *Bridge) dispatch(ctx context.Context, msg pubsub.Message) {
	kind, username, deviceID, err := pubsub.ParseDeviceTopic(msg.Topic)
	if err != nil {
		b.log.Warn(ctx, "dropping message", "topic", msg.Topic, "error", err)
		return
	}

	switch kind {
	case pubsub.KindInit:
		err = b.pairing.CompleteAdd(ctx, username, deviceID, msg.Payload)
	case pubsub.KindData:
		err = b.telemetry.Ingest(ctx, username, deviceID, msg.Payload)
	default:
		return
	}
	if err != nil {
		b.log.Error(ctx, "report handling failed",
			"kind", kind, "username", username, "device_id", deviceID, "error", err)
	}
}
