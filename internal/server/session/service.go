// Package session implements the session authority: issuing, invalidating
// and verifying the signed tokens that authenticate browser clients.
//
// Only one session per account is active at a time. Logging in overwrites
// the stored session id, which makes every token issued before that moment
// fail verification with ErrSessionStale even though its signature is still
// good.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dsmirnov/homesec/internal/common"
	"github.com/dsmirnov/homesec/internal/logging"
	"github.com/dsmirnov/homesec/internal/server/auth"
	"github.com/dsmirnov/homesec/internal/server/storage"
)

// session ids are 18 random bytes, base64 encoded
const sessionIDSize = 18

type Service struct {
	accounts      storage.Accounts
	secret        []byte
	tokenValidity time.Duration
	log           logging.Logger
}

func NewService(accounts storage.Accounts, secret []byte, tokenValidity time.Duration, log logging.Logger) *Service {
	return &Service{
		accounts:      accounts,
		secret:        secret,
		tokenValidity: tokenValidity,
		log:           log,
	}
}

// Login verifies the credentials, rotates the account's session id and
// returns a fresh signed token. Any token issued by a previous login stops
// verifying from this point on.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)

	// Registration enforces these bounds, so a credential that fails them
	// cannot belong to any account and needs no store round trip.
	if username == "" || len(username) > 255 {
		return "", common.ErrNotFound
	}
	if len(password) < 8 {
		return "", common.ErrUnauthorized
	}

	account, err := s.accounts.Get(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "", common.ErrNotFound
		}
		return "", fmt.Errorf("loading account: %w", err)
	}

	if !auth.CheckPassword(password, account.PasswordSalt, account.PasswordHash) {
		return "", common.ErrUnauthorized
	}

	sessionID, err := common.MakeRandBase64String(sessionIDSize)
	if err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}

	if err := s.accounts.SetSessionID(ctx, username, sessionID); err != nil {
		return "", fmt.Errorf("storing session id: %w", err)
	}

	token, err := auth.GenerateToken(username, sessionID, s.secret, s.tokenValidity)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	s.log.Info(ctx, "session opened", "username", username)
	return token, nil
}

// Logout checks the token signature and clears the account's session id
// unconditionally, invalidating every outstanding token.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := auth.ParseToken(token, s.secret)
	if err != nil {
		return err
	}

	if err := s.accounts.ClearSessionID(ctx, claims.Username); err != nil {
		return fmt.Errorf("clearing session id: %w", err)
	}

	s.log.Info(ctx, "session closed", "username", claims.Username)
	return nil
}

// ParseClaims checks the token signature and expiry only. Callers that need
// the session to still be current must either call Verify or perform their
// own conditional write keyed on the claims' session id.
func (s *Service) ParseClaims(token string) (*auth.Claims, error) {
	return auth.ParseToken(token, s.secret)
}

// Verify fails with ErrTokenExpired or ErrInvalidToken on signature or
// expiry problems, and with ErrSessionStale when the account's current
// session id no longer matches the token's. Returns the username on success.
func (s *Service) Verify(ctx context.Context, token string) (string, error) {
	claims, err := auth.ParseToken(token, s.secret)
	if err != nil {
		return "", err
	}

	account, err := s.accounts.Get(ctx, claims.Username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			// the account was deleted after the token was issued
			return "", common.ErrSessionStale
		}
		return "", fmt.Errorf("loading account: %w", err)
	}

	if account.SessionID == "" || account.SessionID != claims.SessionID {
		return "", common.ErrSessionStale
	}

	return claims.Username, nil
}
