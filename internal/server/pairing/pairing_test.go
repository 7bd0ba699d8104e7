package pairing

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsmirnov/homesec/internal/common"
	"github.com/dsmirnov/homesec/internal/logging"
	"github.com/dsmirnov/homesec/internal/server/models"
	"github.com/dsmirnov/homesec/internal/server/storage"
)

var testLogger = logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))

type fakePusher struct {
	pushes []fakePush
	err    error
}

type fakePush struct {
	connectionID string
	payload      any
}

func (f *fakePusher) Push(ctx context.Context, connectionID string, payload any) error {
	f.pushes = append(f.pushes, fakePush{connectionID: connectionID, payload: payload})
	return f.err
}

func newPairing(t *testing.T) (*Service, *storage.MemoryStore, *fakePusher) {
	t.Helper()
	store := storage.NewMemoryStore()
	err := store.Accounts().Create(context.Background(), &models.Account{Username: "alice"})
	require.NoError(t, err)

	pusher := &fakePusher{}
	return NewService(store.Accounts(), pusher, testLogger), store, pusher
}

func pending(t *testing.T, store *storage.MemoryStore) *models.PairingSlot {
	t.Helper()
	a, err := store.Accounts().Get(context.Background(), "alice")
	require.NoError(t, err)
	return a.Pending
}

func TestBeginAdd_ReservesSlot(t *testing.T) {
	ctx := context.Background()
	s, store, _ := newPairing(t)

	deviceID, err := s.BeginAdd(ctx, "alice", "Front Door")
	require.NoError(t, err)
	assert.NotEmpty(t, deviceID)

	slot := pending(t, store)
	require.NotNil(t, slot)
	assert.Equal(t, deviceID, slot.DeviceID)
	assert.Equal(t, "Front Door", slot.Name)
}

func TestBeginAdd_SecondPairingConflicts(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newPairing(t)

	_, err := s.BeginAdd(ctx, "alice", "Front Door")
	require.NoError(t, err)

	_, err = s.BeginAdd(ctx, "alice", "Back Door")
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestBeginAdd_EmptyName(t *testing.T) {
	s, _, _ := newPairing(t)
	_, err := s.BeginAdd(context.Background(), "alice", "   ")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestCancelAdd_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, store, _ := newPairing(t)

	deviceID, err := s.BeginAdd(ctx, "alice", "Front Door")
	require.NoError(t, err)

	require.NoError(t, s.CancelAdd(ctx, "alice", deviceID))
	assert.Nil(t, pending(t, store))

	// second cancel with the same id still succeeds
	require.NoError(t, s.CancelAdd(ctx, "alice", deviceID))
	assert.Nil(t, pending(t, store))
}

func TestCompleteAdd_PromotesSlot(t *testing.T) {
	ctx := context.Background()
	s, store, _ := newPairing(t)

	require.NoError(t, store.Accounts().SetPending(ctx, "alice",
		models.PairingSlot{DeviceID: "D1", Name: "Front Door"}))

	err := s.CompleteAdd(ctx, "alice", "D1", []byte(`{"type":"contact","isOpen":false,"battery":80}`))
	require.NoError(t, err)

	assert.Nil(t, pending(t, store))

	list, err := store.Devices().List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	d := list[0]
	assert.Equal(t, "D1", d.ID)
	assert.Equal(t, "Front Door", d.Name)
	assert.Equal(t, models.DeviceContact, d.Type)
	assert.Equal(t, 80, d.Battery)
	require.NotNil(t, d.IsOpen)
	assert.False(t, *d.IsOpen)
}

func TestCompleteAdd_PushesToLiveConnection(t *testing.T) {
	ctx := context.Background()
	s, store, pusher := newPairing(t)

	require.NoError(t, store.Accounts().SetSessionID(ctx, "alice", "sess"))
	require.NoError(t, store.Accounts().SetConnectionID(ctx, "alice", "conn-1", "sess"))
	require.NoError(t, store.Accounts().SetPending(ctx, "alice",
		models.PairingSlot{DeviceID: "D1", Name: "Cam"}))

	err := s.CompleteAdd(ctx, "alice", "D1", []byte(`{"type":"camera","streamUrl":"rtsp://cam/1","battery":100}`))
	require.NoError(t, err)

	require.Len(t, pusher.pushes, 1)
	assert.Equal(t, "conn-1", pusher.pushes[0].connectionID)
	envelope, ok := pusher.pushes[0].payload.(models.Envelope)
	require.True(t, ok)
	assert.Equal(t, "add-device-complete", envelope.Action)
}

func TestCompleteAdd_MalformedReportLeavesSlot(t *testing.T) {
	ctx := context.Background()
	s, store, _ := newPairing(t)

	require.NoError(t, store.Accounts().SetPending(ctx, "alice",
		models.PairingSlot{DeviceID: "D1", Name: "Front Door"}))

	// battery out of range: silently dropped, slot untouched
	err := s.CompleteAdd(ctx, "alice", "D1", []byte(`{"type":"contact","isOpen":true,"battery":400}`))
	require.NoError(t, err)

	require.NotNil(t, pending(t, store))

	list, err := store.Devices().List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCompleteAdd_MismatchedDeviceIDLeavesState(t *testing.T) {
	ctx := context.Background()
	s, store, pusher := newPairing(t)

	require.NoError(t, store.Accounts().SetPending(ctx, "alice",
		models.PairingSlot{DeviceID: "D1", Name: "Front Door"}))

	err := s.CompleteAdd(ctx, "alice", "D-forged", []byte(`{"type":"contact","isOpen":false,"battery":80}`))
	require.NoError(t, err)

	slot := pending(t, store)
	require.NotNil(t, slot)
	assert.Equal(t, "D1", slot.DeviceID)

	list, err := store.Devices().List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, pusher.pushes)
}

func TestCompleteAdd_PushFailureSwallowed(t *testing.T) {
	ctx := context.Background()
	s, store, pusher := newPairing(t)
	pusher.err = assert.AnError

	require.NoError(t, store.Accounts().SetSessionID(ctx, "alice", "sess"))
	require.NoError(t, store.Accounts().SetConnectionID(ctx, "alice", "conn-1", "sess"))
	require.NoError(t, store.Accounts().SetPending(ctx, "alice",
		models.PairingSlot{DeviceID: "D1", Name: "Front Door"}))

	err := s.CompleteAdd(ctx, "alice", "D1", []byte(`{"type":"shock","isOpen":false,"battery":70}`))
	assert.NoError(t, err)
}
