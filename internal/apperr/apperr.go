// Package apperr defines the error kinds shared across the Meetscribe
// services. Callers match on these sentinels with [errors.Is]; packages wrap
// them with context using fmt.Errorf("pkg: op: %w", ...).
//
// The kinds are deliberately distinct: the HTTP layer maps each one to a
// different status code, and clients react differently to a conflict than to
// an internal failure, so collapsing them would lose information the API
// contract promises.
package apperr

import "errors"

var (
	// ErrMissingCredential indicates no API token was presented.
	ErrMissingCredential = errors.New("missing API token")

	// ErrInvalidCredential indicates the presented API token is unknown.
	ErrInvalidCredential = errors.New("invalid API token")

	// ErrValidation indicates malformed caller input: unknown platform,
	// malformed meeting URL, missing fields. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates a bot is already live or starting for the
	// requested triple.
	ErrConflict = errors.New("bot already requested for this meeting")

	// ErrNotFound indicates the requested meeting or mapping does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable indicates Redis, Postgres, or the container daemon
	// is unreachable or timed out. Transient; surfaced to the caller without
	// in-process retry.
	ErrStoreUnavailable = errors.New("backing store unavailable")

	// ErrLaunchFailed indicates the container daemon refused to create or
	// start the bot container.
	ErrLaunchFailed = errors.New("bot launch failed")
)
