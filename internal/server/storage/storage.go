// Package storage defines the persistence interfaces for accounts, paired
// devices and realtime connection bindings, plus postgres and in-memory
// implementations.
//
// The account record is the unit of contention: every mutation that can race
// with a concurrent handler takes an "expected" argument and is executed as a
// single conditional write. A conditional write that matches no row returns
// common.ErrConflict; callers on delete-like paths treat that as idempotent
// success.
package storage

import (
	"context"

	"github.com/dsmirnov/homesec/internal/server/devices"
	"github.com/dsmirnov/homesec/internal/server/models"
)

// Accounts stores one record per registered user.
type Accounts interface {
	// Create inserts a new account. ErrConflict if the username is taken.
	Create(ctx context.Context, account *models.Account) error

	// Get returns the account record. ErrNotFound if absent.
	Get(ctx context.Context, username string) (*models.Account, error)

	// Delete removes the account and, by cascade, its devices, but only if
	// the stored session id still equals ifSessionID. ErrConflict otherwise.
	Delete(ctx context.Context, username, ifSessionID string) error

	// SetSessionID unconditionally overwrites the session id, invalidating
	// any previously issued token. ErrNotFound if the account is absent.
	SetSessionID(ctx context.Context, username, sessionID string) error

	// ClearSessionID removes the session id unconditionally.
	ClearSessionID(ctx context.Context, username string) error

	// SetArmed sets the armed flag.
	SetArmed(ctx context.Context, username string, armed bool) error

	// SetConnectionID binds a live connection, but only while the session id
	// still equals ifSessionID (a login elsewhere during the websocket
	// handshake must lose). ErrConflict on mismatch.
	SetConnectionID(ctx context.Context, username, connectionID, ifSessionID string) error

	// ClearConnectionID clears the connection binding only if it still
	// equals ifConnectionID, so a late disconnect of an old connection
	// cannot clobber a newer one. ErrConflict on mismatch.
	ClearConnectionID(ctx context.Context, username, ifConnectionID string) error

	// SetPending reserves the single pairing slot. ErrConflict if a slot is
	// already present or the account is absent.
	SetPending(ctx context.Context, username string, slot models.PairingSlot) error

	// ClearPending removes the pairing slot if its device id matches.
	// ErrConflict on mismatch or when no slot is present.
	ClearPending(ctx context.Context, username, deviceID string) error

	// PromotePending atomically consumes the pairing slot (conditional on
	// its device id matching deviceID) and appends the device built from it.
	// The returned slot carries the reserved name. ErrConflict if the slot
	// does not match.
	PromotePending(ctx context.Context, username, deviceID string, device models.Device) (*models.PairingSlot, error)
}

// Devices stores paired devices per account, keyed by device id and kept in
// addition order.
type Devices interface {
	// List returns the account's devices in addition order.
	List(ctx context.Context, username string) ([]models.Device, error)

	// Merge overwrites the fields present in the report and retains the
	// rest, as one atomic write keyed by device id. Returns the merged
	// record. ErrNotFound if the device is absent.
	Merge(ctx context.Context, username, deviceID string, report *devices.Report) (*models.Device, error)

	// Remove deletes the device and returns the removed record so the
	// caller can cascade camera media. ErrNotFound if already absent.
	Remove(ctx context.Context, username, deviceID string) (*models.Device, error)
}

// Connections maps live realtime connection ids to usernames.
type Connections interface {
	Put(ctx context.Context, connectionID, username string) error

	// Delete removes the binding and returns the username it pointed at.
	// ErrNotFound if the connection id is unknown.
	Delete(ctx context.Context, connectionID string) (string, error)

	Username(ctx context.Context, connectionID string) (string, error)
}

// Store bundles the three repositories behind one backend.
type Store interface {
	Accounts() Accounts
	Devices() Devices
	Connections() Connections
	Close() error
}
