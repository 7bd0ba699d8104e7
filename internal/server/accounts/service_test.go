package accounts

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsmirnov/homesec/internal/common"
	"github.com/dsmirnov/homesec/internal/logging"
	"github.com/dsmirnov/homesec/internal/server/auth"
	"github.com/dsmirnov/homesec/internal/server/storage"
)

var testLogger = logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))

type fakePurger struct {
	prefixes []string
	err      error
}

func (f *fakePurger) DeletePrefix(ctx context.Context, prefix string) error {
	f.prefixes = append(f.prefixes, prefix)
	return f.err
}

func newService(t *testing.T) (*Service, *storage.MemoryStore, *fakePurger) {
	t.Helper()
	store := storage.NewMemoryStore()
	purger := &fakePurger{}
	return NewService(store.Accounts(), purger, []byte("secret"), testLogger), store, purger
}

func TestRegister_StoresHashedPassword(t *testing.T) {
	ctx := context.Background()
	s, store, _ := newService(t)

	require.NoError(t, s.Register(ctx, "alice", "correct-horse", ""))

	a, err := store.Accounts().Get(ctx, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, a.PasswordSalt)
	assert.NotContains(t, string(a.PasswordHash), "correct-horse")
	assert.True(t, auth.CheckPassword("correct-horse", a.PasswordSalt, a.PasswordHash))
	assert.False(t, a.IsArmed)
}

func TestRegister_Validation(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.Register(ctx, "al", "longenough", ""), common.ErrValidation)
	assert.ErrorIs(t, s.Register(ctx, "alice", "short", ""), common.ErrValidation)
}

func TestRegister_DuplicateConflicts(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, "alice", "correct-horse", ""))
	assert.ErrorIs(t, s.Register(ctx, "alice", "correct-horse", ""), common.ErrConflict)
}

func TestDelete_CascadesClips(t *testing.T) {
	ctx := context.Background()
	s, store, purger := newService(t)

	require.NoError(t, s.Register(ctx, "alice", "correct-horse", ""))
	require.NoError(t, store.Accounts().SetSessionID(ctx, "alice", "sess-1"))
	token, err := auth.GenerateToken("alice", "sess-1", []byte("secret"), time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, token))

	_, err = store.Accounts().Get(ctx, "alice")
	assert.ErrorIs(t, err, common.ErrNotFound)
	require.Len(t, purger.prefixes, 1)
	assert.Equal(t, "alice/", purger.prefixes[0])
}

func TestDelete_StaleSession(t *testing.T) {
	ctx := context.Background()
	s, store, _ := newService(t)

	require.NoError(t, s.Register(ctx, "alice", "correct-horse", ""))
	require.NoError(t, store.Accounts().SetSessionID(ctx, "alice", "sess-2"))
	token, err := auth.GenerateToken("alice", "sess-1", []byte("secret"), time.Hour)
	require.NoError(t, err)

	err = s.Delete(ctx, token)
	assert.ErrorIs(t, err, common.ErrSessionStale)

	_, err = store.Accounts().Get(ctx, "alice")
	assert.NoError(t, err)
}

func TestDelete_BadToken(t *testing.T) {
	s, _, _ := newService(t)
	err := s.Delete(context.Background(), "garbage")
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}
