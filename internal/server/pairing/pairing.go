// Package pairing implements the handshake that binds a freshly provisioned
// physical device to an account.
//
// Per account the flow is a two-state machine: idle, or exactly one pairing
// slot in flight. BeginAdd reserves the slot and hands the generated device
// id back to the client, which conveys it to the hardware out of band. The
// device's first report on the init topic promotes the slot into a real
// device; CancelAdd abandons it.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dsmirnov/homesec/internal/common"
	"github.com/dsmirnov/homesec/internal/logging"
	"github.com/dsmirnov/homesec/internal/server/devices"
	"github.com/dsmirnov/homesec/internal/server/models"
	"github.com/dsmirnov/homesec/internal/server/storage"
)

// pushed to the live connection when a slot is promoted
const actionAddDeviceComplete = "add-device-complete"

// Pusher delivers a payload to a live realtime connection. Failures mean the
// connection is gone; callers on the device-report path swallow them.
type Pusher interface {
	Push(ctx context.Context, connectionID string, payload any) error
}

type Service struct {
	accounts storage.Accounts
	pusher   Pusher
	log      logging.Logger
}

func NewService(accounts storage.Accounts, pusher Pusher, log logging.Logger) *Service {
	return &Service{accounts: accounts, pusher: pusher, log: log}
}

// BeginAdd reserves the account's single pairing slot under a fresh device
// id and returns that id. ErrConflict while another pairing is in flight.
func (s *Service) BeginAdd(ctx context.Context, username, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: device name required", common.ErrValidation)
	}

	deviceID := uuid.NewString()
	err := s.accounts.SetPending(ctx, username, models.PairingSlot{DeviceID: deviceID, Name: name})
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return "", fmt.Errorf("%w: another pairing is already in progress", common.ErrConflict)
		}
		return "", fmt.Errorf("reserving pairing slot: %w", err)
	}

	s.log.Info(ctx, "pairing started", "username", username, "deviceId", deviceID)
	return deviceID, nil
}

// CancelAdd abandons the in-flight pairing. A slot that no longer matches
// (already promoted, already cancelled) counts as success; cancellation is
// idempotent.
func (s *Service) CancelAdd(ctx context.Context, username, deviceID string) error {
	err := s.accounts.ClearPending(ctx, username, deviceID)
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil
		}
		return fmt.Errorf("cancelling pairing: %w", err)
	}

	s.log.Info(ctx, "pairing cancelled", "username", username, "deviceId", deviceID)
	return nil
}

// CompleteAdd handles a device's first report. A report that fails the
// schema, or whose device id does not match the current slot (replayed or
// spoofed), is dropped without touching account state; misbehaving hardware
// must not be able to wedge an account, and it has no channel to receive an
// error anyway. On success the slot becomes a device and, if the user has a
// live connection, an add-device-complete event is pushed to it.
func (s *Service) CompleteAdd(ctx context.Context, username, deviceID string, report []byte) error {
	device, err := devices.ParseInitial(report)
	if err != nil {
		s.log.Debug(ctx, "discarding malformed init report",
			"username", username, "deviceId", deviceID, "error", err)
		return nil
	}

	slot, err := s.accounts.PromotePending(ctx, username, deviceID, *device)
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			s.log.Debug(ctx, "discarding init report without matching slot",
				"username", username, "deviceId", deviceID)
			return nil
		}
		return fmt.Errorf("promoting pairing slot: %w", err)
	}

	device.ID = deviceID
	device.Name = slot.Name
	s.log.Info(ctx, "device paired",
		"username", username, "deviceId", deviceID, "type", device.Type)

	account, err := s.accounts.Get(ctx, username)
	if err != nil {
		return fmt.Errorf("loading account: %w", err)
	}
	if account.ConnectionID == "" {
		return nil
	}

	payload := models.Envelope{Action: actionAddDeviceComplete, Data: device}
	if err := s.pusher.Push(ctx, account.ConnectionID, payload); err != nil {
		// the connection died between lookup and push
		s.log.Warn(ctx, "push after pairing failed",
			"username", username, "connectionId", account.ConnectionID, "error", err)
	}
	return nil
}
