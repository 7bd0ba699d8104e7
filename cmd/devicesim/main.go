// Command devicesim emulates one physical sensor. It publishes an initial
// report on the init topic (completing a pairing slot opened from the
// dashboard), then periodic partial reports on the data topic, and obeys
// get-info and remove-device commands.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dsmirnov/homesec/internal/logging"
	"github.com/dsmirnov/homesec/internal/pubsub"
	"github.com/dsmirnov/homesec/internal/pubsub/mqtt"
	"github.com/dsmirnov/homesec/internal/server/models"
)

type state struct {
	deviceType models.DeviceType
	name       string
	battery    int
	streamURL  string
	isOpen     bool
}

func (s *state) fullReport() map[string]any {
	r := map[string]any{
		"type":    s.deviceType,
		"name":    s.name,
		"battery": s.battery,
	}
	switch s.deviceType {
	case models.DeviceCamera:
		r["streamUrl"] = s.streamURL
	case models.DeviceContact, models.DeviceShock:
		r["isOpen"] = s.isOpen
	}
	return r
}

// tick drains the battery a little and occasionally flips the sensor,
// returning the fields that changed.
func (s *state) tick() map[string]any {
	r := map[string]any{}
	if s.battery > 0 && rand.Intn(4) == 0 {
		s.battery--
		r["battery"] = s.battery
	}
	if s.deviceType != models.DeviceCamera && rand.Intn(10) == 0 {
		s.isOpen = !s.isOpen
		r["isOpen"] = s.isOpen
	}
	return r
}

func main() {
	var (
		brokerURL  = flag.String("broker", "tcp://127.0.0.1:1883", "MQTT broker URL")
		username   = flag.String("username", "", "account username (required)")
		deviceID   = flag.String("device", "", "device id from the pairing slot (required)")
		deviceType = flag.String("type", "contact", "device type: camera, contact or shock")
		name       = flag.String("name", "simulated sensor", "device display name")
		streamURL  = flag.String("stream", "rtsp://127.0.0.1:8554/sim", "stream URL (camera only)")
		interval   = flag.Duration("interval", 10*time.Second, "report interval")
	)
	flag.Parse()

	if *username == "" || *deviceID == "" {
		flag.Usage()
		os.Exit(2)
	}

	st := &state{
		deviceType: models.DeviceType(*deviceType),
		name:       *name,
		battery:    100,
		streamURL:  *streamURL,
	}
	if !st.deviceType.Valid() {
		fmt.Fprintf(os.Stderr, "unknown device type %q\n", *deviceType)
		os.Exit(2)
	}

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	broker := mqtt.NewBroker(*brokerURL, "devicesim-"+uuid.NewString(), logger)
	if err := broker.Connect(ctx); err != nil {
		logger.Error(ctx, "broker connect failed", "error", err)
		os.Exit(1)
	}
	defer broker.Disconnect()

	commands, err := broker.Subscribe(pubsub.CommandTopic(*username, *deviceID))
	if err != nil {
		logger.Error(ctx, "command subscribe failed", "error", err)
		os.Exit(1)
	}
	defer broker.Close(commands)

	publish := func(topic string, report map[string]any) {
		payload, err := json.Marshal(report)
		if err != nil {
			logger.Error(ctx, "marshal failed", "error", err)
			return
		}
		if err := broker.Publish(ctx, topic, payload); err != nil {
			logger.Warn(ctx, "publish failed", "topic", topic, "error", err)
		}
	}

	publish(pubsub.InitTopic(*username, *deviceID), st.fullReport())
	logger.Info(ctx, "device announced",
		"username", *username, "device_id", *deviceID, "type", *deviceType)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if report := st.tick(); len(report) > 0 {
				publish(pubsub.DataTopic(*username, *deviceID), report)
			}

		case msg, ok := <-commands:
			if !ok {
				return
			}
			var env models.Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				logger.Warn(ctx, "bad command payload", "error", err)
				continue
			}
			switch env.Action {
			case "get-info":
				publish(pubsub.DataTopic(*username, *deviceID), st.fullReport())
			case "remove-device":
				logger.Info(ctx, "device removed, shutting down")
				return
			default:
				logger.Warn(ctx, "unknown command", "action", env.Action)
			}
		}
	}
}
