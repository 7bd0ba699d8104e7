package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsmirnov/homesec/internal/logging"
	"github.com/dsmirnov/homesec/internal/server/models"
	"github.com/dsmirnov/homesec/internal/server/storage"
)

var testLogger = logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))

type fakePusher struct {
	pushes []any
	err    error
}

func (f *fakePusher) Push(ctx context.Context, connectionID string, payload any) error {
	f.pushes = append(f.pushes, payload)
	return f.err
}

type fakeNotifier struct {
	alerts []string
	err    error
}

func (f *fakeNotifier) Alert(ctx context.Context, recipient, message string) error {
	f.alerts = append(f.alerts, message)
	return f.err
}

type fixture struct {
	router   *Router
	store    *storage.MemoryStore
	pusher   *fakePusher
	notifier *fakeNotifier
}

func newFixture(t *testing.T, armed bool) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()

	require.NoError(t, store.Accounts().Create(ctx, &models.Account{Username: "alice", IsArmed: armed}))
	require.NoError(t, store.Accounts().SetPending(ctx, "alice",
		models.PairingSlot{DeviceID: "D1", Name: "Front Door"}))
	open := false
	_, err := store.Accounts().PromotePending(ctx, "alice", "D1",
		models.Device{Type: models.DeviceContact, Battery: 80, IsOpen: &open})
	require.NoError(t, err)

	pusher := &fakePusher{}
	notifier := &fakeNotifier{}
	router := NewRouter(store.Accounts(), store.Devices(), pusher, notifier, testLogger)
	return &fixture{router: router, store: store, pusher: pusher, notifier: notifier}
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.Accounts().SetSessionID(ctx, "alice", "sess"))
	require.NoError(t, f.store.Accounts().SetConnectionID(ctx, "alice", "conn-1", "sess"))
}

func TestIngest_MergePreservesOtherFields(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	require.NoError(t, f.router.Ingest(ctx, "alice", "D1", []byte(`{"battery":55}`)))

	list, err := f.store.Devices().List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	d := list[0]
	assert.Equal(t, 55, d.Battery)
	assert.Equal(t, "Front Door", d.Name)
	assert.Equal(t, models.DeviceContact, d.Type)
	require.NotNil(t, d.IsOpen)
	assert.False(t, *d.IsOpen)
}

func TestIngest_PushesMergedDevice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.connect(t)

	require.NoError(t, f.router.Ingest(ctx, "alice", "D1", []byte(`{"battery":42}`)))

	require.Len(t, f.pusher.pushes, 1)
	envelope, ok := f.pusher.pushes[0].(models.Envelope)
	require.True(t, ok)
	assert.Equal(t, "update-device", envelope.Action)

	raw, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var pushed models.Device
	require.NoError(t, json.Unmarshal(raw, &pushed))
	assert.Equal(t, "D1", pushed.ID)
	assert.Equal(t, 42, pushed.Battery)
}

func TestIngest_NoConnectionNoPush(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.router.Ingest(context.Background(), "alice", "D1", []byte(`{"battery":42}`)))
	assert.Empty(t, f.pusher.pushes)
}

func TestIngest_ArmedBreachAlertsOnce(t *testing.T) {
	f := newFixture(t, true)

	require.NoError(t, f.router.Ingest(context.Background(), "alice", "D1", []byte(`{"isOpen":true}`)))

	require.Len(t, f.notifier.alerts, 1)
	assert.Equal(t, "Home intruder detected by Front Door (contact)", f.notifier.alerts[0])
}

func TestIngest_DisarmedBreachDoesNotAlert(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.router.Ingest(context.Background(), "alice", "D1", []byte(`{"isOpen":true}`)))
	assert.Empty(t, f.notifier.alerts)
}

func TestIngest_ArmedButClosedDoesNotAlert(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.router.Ingest(context.Background(), "alice", "D1", []byte(`{"battery":12}`)))
	assert.Empty(t, f.notifier.alerts)
}

func TestIngest_AlertFailureDoesNotFailIngest(t *testing.T) {
	f := newFixture(t, true)
	f.connect(t)
	f.notifier.err = assert.AnError

	err := f.router.Ingest(context.Background(), "alice", "D1", []byte(`{"isOpen":true}`))
	assert.NoError(t, err)
	// the dashboard push still happened
	assert.Len(t, f.pusher.pushes, 1)
}

func TestIngest_UnknownDeviceDiscarded(t *testing.T) {
	f := newFixture(t, true)
	f.connect(t)

	err := f.router.Ingest(context.Background(), "alice", "ghost", []byte(`{"isOpen":true}`))
	assert.NoError(t, err)
	assert.Empty(t, f.pusher.pushes)
	assert.Empty(t, f.notifier.alerts)
}

func TestIngest_MalformedReportDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	err := f.router.Ingest(ctx, "alice", "D1", []byte(`{"battery":999}`))
	assert.NoError(t, err)

	list, err := f.store.Devices().List(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 80, list[0].Battery)
	assert.Empty(t, f.notifier.alerts)
}

func TestIngest_PushFailureStillAlerts(t *testing.T) {
	f := newFixture(t, true)
	f.connect(t)
	f.pusher.err = assert.AnError

	err := f.router.Ingest(context.Background(), "alice", "D1", []byte(`{"isOpen":true}`))
	assert.NoError(t, err)
	assert.Len(t, f.notifier.alerts, 1)
}
