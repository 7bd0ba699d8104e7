// Package registry keeps the bidirectional binding between live realtime
// connections and accounts: the connections table resolves connection id to
// username, and the account record carries the single connection id that
// push traffic should target.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/dsmirnov/homesec/internal/common"
	"github.com/dsmirnov/homesec/internal/logging"
	"github.com/dsmirnov/homesec/internal/server/session"
	"github.com/dsmirnov/homesec/internal/server/storage"
)

type Service struct {
	accounts    storage.Accounts
	connections storage.Connections
	sessions    *session.Service
	log         logging.Logger
}

func NewService(accounts storage.Accounts, connections storage.Connections, sessions *session.Service, log logging.Logger) *Service {
	return &Service{
		accounts:    accounts,
		connections: connections,
		sessions:    sessions,
		log:         log,
	}
}

// Connect authenticates the token and binds the new connection id to the
// account. The bind is conditional on the token's session id still being
// current, which closes the race where the user logs in elsewhere mid
// handshake: the stale handshake then fails with ErrSessionStale instead of
// capturing the connection slot. Returns the bound username.
func (s *Service) Connect(ctx context.Context, token, connectionID string) (string, error) {
	if token == "" {
		return "", common.ErrUnauthorized
	}
	claims, err := s.sessions.ParseClaims(token)
	if err != nil {
		return "", err
	}

	err = s.accounts.SetConnectionID(ctx, claims.Username, connectionID, claims.SessionID)
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return "", common.ErrSessionStale
		}
		return "", fmt.Errorf("binding connection: %w", err)
	}

	if err := s.connections.Put(ctx, connectionID, claims.Username); err != nil {
		return "", fmt.Errorf("recording connection: %w", err)
	}

	s.log.Info(ctx, "connection bound", "username", claims.Username, "connectionId", connectionID)
	return claims.Username, nil
}

// Disconnect tears down the binding for a closed connection. The account's
// connection id is cleared only if it still equals the id being torn down,
// so a slow disconnect arriving after a fast reconnect leaves the newer
// binding untouched.
func (s *Service) Disconnect(ctx context.Context, connectionID string) error {
	username, err := s.connections.Delete(ctx, connectionID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("removing connection: %w", err)
	}

	err = s.accounts.ClearConnectionID(ctx, username, connectionID)
	if err != nil && !errors.Is(err, common.ErrConflict) {
		return fmt.Errorf("clearing connection binding: %w", err)
	}

	s.log.Info(ctx, "connection unbound", "username", username, "connectionId", connectionID)
	return nil
}

// Resolve returns the live connection id for a user, or "" when no one is
// connected. Absence is not an error.
func (s *Service) Resolve(ctx context.Context, username string) (string, error) {
	account, err := s.accounts.Get(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("loading account: %w", err)
	}
	return account.ConnectionID, nil
}
