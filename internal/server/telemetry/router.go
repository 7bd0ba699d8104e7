// Package telemetry routes ongoing device reports: each report is merged
// into the stored device record, fanned out to the account's live connection
// if one is bound, and checked against the armed flag for a breach.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/dsmirnov/homesec/internal/common"
	"github.com/dsmirnov/homesec/internal/logging"
	"github.com/dsmirnov/homesec/internal/server/devices"
	"github.com/dsmirnov/homesec/internal/server/models"
	"github.com/dsmirnov/homesec/internal/server/storage"
)

// pushed to the live connection on every merged report
const actionUpdateDevice = "update-device"

// Pusher delivers a payload to a live realtime connection.
type Pusher interface {
	Push(ctx context.Context, connectionID string, payload any) error
}

// Notifier sends a breach alert to the account's configured recipient.
// Best effort: failures are logged, never retried, and must not delay the
// dashboard push (which happens first).
type Notifier interface {
	Alert(ctx context.Context, recipient, message string) error
}

type Router struct {
	accounts storage.Accounts
	devices  storage.Devices
	pusher   Pusher
	notifier Notifier
	log      logging.Logger
}

func NewRouter(accounts storage.Accounts, devs storage.Devices, pusher Pusher, notifier Notifier, log logging.Logger) *Router {
	return &Router{
		accounts: accounts,
		devices:  devs,
		pusher:   pusher,
		notifier: notifier,
		log:      log,
	}
}

// Ingest merges a partial report into the identified device. Reports that
// fail the schema, or that reference a device the account does not own
// (including one removed moments ago), are dropped without error. The merge
// is a single conditional write keyed by device id, so two near-simultaneous
// reports for different devices of the same account cannot lose each other's
// update.
func (r *Router) Ingest(ctx context.Context, username, deviceID string, raw []byte) error {
	report, err := devices.ParsePartial(raw)
	if err != nil {
		r.log.Debug(ctx, "discarding malformed report",
			"username", username, "deviceId", deviceID, "error", err)
		return nil
	}

	merged, err := r.devices.Merge(ctx, username, deviceID, report)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			r.log.Debug(ctx, "discarding report for unknown device",
				"username", username, "deviceId", deviceID)
			return nil
		}
		return fmt.Errorf("merging report: %w", err)
	}

	account, err := r.accounts.Get(ctx, username)
	if err != nil {
		return fmt.Errorf("loading account: %w", err)
	}

	if account.ConnectionID != "" {
		payload := models.Envelope{Action: actionUpdateDevice, Data: merged}
		if err := r.pusher.Push(ctx, account.ConnectionID, payload); err != nil {
			r.log.Warn(ctx, "telemetry push failed",
				"username", username, "connectionId", account.ConnectionID, "error", err)
		}
	}

	if account.IsArmed && merged.Open() {
		message := fmt.Sprintf("Home intruder detected by %s (%s)", merged.Name, merged.Type)
		if err := r.notifier.Alert(ctx, account.AlertChat, message); err != nil {
			r.log.Error(ctx, "breach alert failed",
				"username", username, "deviceId", deviceID, "error", err)
		}
	}

	return nil
}
