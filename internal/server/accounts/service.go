// Package accounts handles account lifecycle: registration and deletion.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dsmirnov/homesec/internal/common"
	"github.com/dsmirnov/homesec/internal/logging"
	"github.com/dsmirnov/homesec/internal/server/auth"
	"github.com/dsmirnov/homesec/internal/server/models"
	"github.com/dsmirnov/homesec/internal/server/storage"
)

// ClipPurger deletes stored camera media under a key prefix.
type ClipPurger interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

type Service struct {
	accounts storage.Accounts
	clips    ClipPurger
	secret   []byte
	log      logging.Logger
}

func NewService(accounts storage.Accounts, clips ClipPurger, secret []byte, log logging.Logger) *Service {
	return &Service{accounts: accounts, clips: clips, secret: secret, log: log}
}

// Register creates a new account. The optional alertChat is the recipient
// for breach notifications. ErrConflict if the username is taken.
func (s *Service) Register(ctx context.Context, username, password, alertChat string) error {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)

	if len(username) < 3 {
		return fmt.Errorf("%w: username must have at least 3 characters", common.ErrValidation)
	}
	if len(username) > 255 {
		return fmt.Errorf("%w: username cannot be longer than 255 characters", common.ErrValidation)
	}
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters long", common.ErrValidation)
	}

	salt, err := auth.NewSalt()
	if err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}

	err = s.accounts.Create(ctx, &models.Account{
		Username:     username,
		PasswordHash: auth.HashPassword(password, salt),
		PasswordSalt: salt,
		AlertChat:    strings.TrimSpace(alertChat),
	})
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return common.ErrConflict
		}
		return fmt.Errorf("creating account: %w", err)
	}

	s.log.Info(ctx, "account registered", "username", username)
	return nil
}

// Delete removes the account named by the token, conditional on the token's
// session id still being current, then deletes all the user's stored clips.
// Stale tokens fail with ErrSessionStale.
func (s *Service) Delete(ctx context.Context, token string) error {
	claims, err := auth.ParseToken(token, s.secret)
	if err != nil {
		return err
	}

	err = s.accounts.Delete(ctx, claims.Username, claims.SessionID)
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return common.ErrSessionStale
		}
		return fmt.Errorf("deleting account: %w", err)
	}

	if err := s.clips.DeletePrefix(ctx, claims.Username+"/"); err != nil {
		// the account row is already gone; report the orphaned media
		s.log.Error(ctx, "deleting account clips failed",
			"username", claims.Username, "error", err)
		return fmt.Errorf("deleting clips: %w", err)
	}

	s.log.Info(ctx, "account deleted", "username", claims.Username)
	return nil
}
