// Package common defines shared sentinel errors and small helpers used across
// homesec components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Conflict covers both "conditional write lost a race" and
	// "create hit an existing row". Delete-like callers treat it as
	// idempotent success, create-like callers surface it.
	ErrConflict = errors.New("conflict")

	// Auth errors.
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// SessionStale means the token signature was fine but the embedded
	// session id has been superseded by a later login or a logout.
	ErrSessionStale = errors.New("session stale")

	// Validation / payload errors.
	ErrValidation = errors.New("validation error")

	// Generic internal failure, surfaced without detail.
	ErrInternal = errors.New("internal error")
)
