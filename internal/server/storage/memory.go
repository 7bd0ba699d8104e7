package storage

import (
	"context"
	"sync"

	"github.com/dsmirnov/homesec/internal/common"
	"github.com/dsmirnov/homesec/internal/server/devices"
	"github.com/dsmirnov/homesec/internal/server/models"
)

// MemoryStore implements Store with in-process maps guarded by one mutex.
// Used by service tests and by local development without postgres. The
// single lock gives every operation the same atomicity the postgres
// implementation gets from single-statement conditional writes.
type MemoryStore struct {
	mu          sync.Mutex
	accounts    map[string]*memoryAccount
	connections map[string]string
}

type memoryAccount struct {
	record  models.Account
	devices []models.Device
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    map[string]*memoryAccount{},
		connections: map[string]string{},
	}
}

func (s *MemoryStore) Accounts() Accounts       { return (*memoryAccounts)(s) }
func (s *MemoryStore) Devices() Devices         { return (*memoryDevices)(s) }
func (s *MemoryStore) Connections() Connections { return (*memoryConnections)(s) }
func (s *MemoryStore) Close() error             { return nil }

type memoryAccounts MemoryStore

func (s *memoryAccounts) Create(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.Username]; ok {
		return common.ErrConflict
	}
	s.accounts[account.Username] = &memoryAccount{record: *account}
	return nil
}

func (s *memoryAccounts) Get(ctx context.Context, username string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[username]
	if !ok {
		return nil, common.ErrNotFound
	}
	record := a.record
	if a.record.Pending != nil {
		slot := *a.record.Pending
		record.Pending = &slot
	}
	return &record, nil
}

func (s *memoryAccounts) Delete(ctx context.Context, username, ifSessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[username]
	if !ok || a.record.SessionID != ifSessionID {
		return common.ErrConflict
	}
	delete(s.accounts, username)
	return nil
}

func (s *memoryAccounts) SetSessionID(ctx context.Context, username, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[username]
	if !ok {
		return common.ErrNotFound
	}
	a.record.SessionID = sessionID
	return nil
}

func (s *memoryAccounts) ClearSessionID(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[username]
	if !ok {
		return common.ErrNotFound
	}
	a.record.SessionID = ""
	return nil
}

func (s *memoryAccounts) SetArmed(ctx context.Context, username string, armed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[username]
	if !ok {
		return common.ErrNotFound
	}
	a.record.IsArmed = armed
	return nil
}

func (s *memoryAccounts) SetConnectionID(ctx context.Context, username, connectionID, ifSessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[username]
	if !ok || a.record.SessionID != ifSessionID {
		return common.ErrConflict
	}
	a.record.ConnectionID = connectionID
	return nil
}

func (s *memoryAccounts) ClearConnectionID(ctx context.Context, username, ifConnectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[username]
	if !ok || a.record.ConnectionID != ifConnectionID {
		return common.ErrConflict
	}
	a.record.ConnectionID = ""
	return nil
}

func (s *memoryAccounts) SetPending(ctx context.Context, username string, slot models.PairingSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[username]
	if !ok || a.record.Pending != nil {
		return common.ErrConflict
	}
	a.record.Pending = &slot
	return nil
}

func (s *memoryAccounts) ClearPending(ctx context.Context, username, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[username]
	if !ok || a.record.Pending == nil || a.record.Pending.DeviceID != deviceID {
		return common.ErrConflict
	}
	a.record.Pending = nil
	return nil
}

func (s *memoryAccounts) PromotePending(ctx context.Context, username, deviceID string, device models.Device) (*models.PairingSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[username]
	if !ok || a.record.Pending == nil || a.record.Pending.DeviceID != deviceID {
		return nil, common.ErrConflict
	}
	slot := *a.record.Pending
	a.record.Pending = nil

	device.ID = deviceID
	device.Name = slot.Name
	a.devices = append(a.devices, device)
	return &slot, nil
}

type memoryDevices MemoryStore

func (s *memoryDevices) List(ctx context.Context, username string) ([]models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[username]
	if !ok {
		return nil, common.ErrNotFound
	}
	list := make([]models.Device, len(a.devices))
	copy(list, a.devices)
	return list, nil
}

func (s *memoryDevices) Merge(ctx context.Context, username, deviceID string, report *devices.Report) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[username]
	if !ok {
		return nil, common.ErrNotFound
	}
	for i := range a.devices {
		if a.devices[i].ID == deviceID {
			report.Apply(&a.devices[i])
			merged := a.devices[i]
			return &merged, nil
		}
	}
	return nil, common.ErrNotFound
}

func (s *memoryDevices) Remove(ctx context.Context, username, deviceID string) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[username]
	if !ok {
		return nil, common.ErrNotFound
	}
	for i := range a.devices {
		if a.devices[i].ID == deviceID {
			removed := a.devices[i]
			a.devices = append(a.devices[:i], a.devices[i+1:]...)
			return &removed, nil
		}
	}
	return nil, common.ErrNotFound
}

type memoryConnections MemoryStore

func (s *memoryConnections) Put(ctx context.Context, connectionID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[connectionID] = username
	return nil
}

func (s *memoryConnections) Delete(ctx context.Context, connectionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.connections[connectionID]
	if !ok {
		return "", common.ErrNotFound
	}
	delete(s.connections, connectionID)
	return username, nil
}

func (s *memoryConnections) Username(ctx context.Context, connectionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.connections[connectionID]
	if !ok {
		return "", common.ErrNotFound
	}
	return username, nil
}
