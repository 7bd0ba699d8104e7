// Package command sends control messages from the backend toward physical
// devices over their dedicated command topics.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dsmirnov/homesec/internal/common"
	"github.com/dsmirnov/homesec/internal/logging"
	"github.com/dsmirnov/homesec/internal/pubsub"
	"github.com/dsmirnov/homesec/internal/server/models"
	"github.com/dsmirnov/homesec/internal/server/storage"
)

// Actions understood by device firmware. Devices must treat both as
// idempotent: the broker delivers at least once.
const (
	ActionGetInfo      = "get-info"
	ActionRemoveDevice = "remove-device"
)

// ClipPurger deletes stored camera media under a key prefix.
type ClipPurger interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

type Service struct {
	publisher pubsub.Publisher
	devices   storage.Devices
	clips     ClipPurger
	log       logging.Logger
}

func NewService(publisher pubsub.Publisher, devices storage.Devices, clips ClipPurger, log logging.Logger) *Service {
	return &Service{publisher: publisher, devices: devices, clips: clips, log: log}
}

// Send publishes one command on the device's command topic.
func (s *Service) Send(ctx context.Context, username, deviceID, action string) error {
	payload, err := json.Marshal(models.Envelope{Action: action})
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	topic := pubsub.CommandTopic(username, deviceID)
	if err := s.publisher.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("publishing command to %s: %w", topic, err)
	}
	return nil
}

// RequestRefresh asks every device on the account to report its current
// state now. Used when a client explicitly reloads the dashboard.
func (s *Service) RequestRefresh(ctx context.Context, username string) error {
	list, err := s.devices.List(ctx, username)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}

	var errs []error
	for _, d := range list {
		if err := s.Send(ctx, username, d.ID, ActionGetInfo); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveDevice deletes the device record, cascades camera media, and only
// then tells the hardware it has been removed. The ordering matters: a
// report racing with the removal finds no device record and is discarded
// instead of resurrecting it. Removing an already-absent device is a
// success, and the removal command still goes out so the hardware hears it
// on a retry. Failures after the record deletion are reported but nothing
// is rolled back; the command send is idempotent on the device side and can
// simply be retried.
func (s *Service) RemoveDevice(ctx context.Context, username, deviceID string) error {
	removed, err := s.devices.Remove(ctx, username, deviceID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("removing device: %w", err)
	}

	var errs []error
	if removed != nil && removed.Type == models.DeviceCamera {
		prefix := fmt.Sprintf("%s/%s/", username, deviceID)
		if err := s.clips.DeletePrefix(ctx, prefix); err != nil {
			s.log.Error(ctx, "deleting camera clips failed",
				"username", username, "deviceId", deviceID, "error", err)
			errs = append(errs, fmt.Errorf("deleting clips: %w", err))
		}
	}

	if err := s.Send(ctx, username, deviceID, ActionRemoveDevice); err != nil {
		errs = append(errs, err)
	}

	if removed != nil {
		s.log.Info(ctx, "device removed", "username", username, "deviceId", deviceID)
	}
	return errors.Join(errs...)
}
