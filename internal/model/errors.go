package model

import "errors"

// Common errors returned by satchel core components.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, model.ErrNotFound) {
//	    // Handle missing entity
//	}
var (
	// ErrNotFound is returned when a lookup or delete targets an entity
	// id that does not exist in the local store.
	ErrNotFound = errors.New("entity not found")

	// ErrValidation is returned when an entity fails validation,
	// for example a blank name or title on a required field.
	ErrValidation = errors.New("validation failed")

	// ErrActiveSpace is returned when attempting to delete the currently
	// active space. The caller must switch the active space first.
	ErrActiveSpace = errors.New("cannot delete the active space")

	// ErrSyncTransient indicates a temporary sync failure (network error,
	// timeout, rate limit). Operations failing with this error are retried
	// with backoff.
	ErrSyncTransient = errors.New("transient sync failure")

	// ErrSyncRejected indicates a definitive remote-side rejection
	// (for example schema validation). It is never retried; the owning
	// entity transitions to conflict status.
	ErrSyncRejected = errors.New("sync rejected by remote")

	// ErrConflict indicates concurrent divergent edits of the same entity
	// were detected and cannot be auto-resolved.
	ErrConflict = errors.New("conflicting concurrent edits")

	// ErrNoSession is returned when no valid identity session is available.
	// Sync is unavailable in this state; local operations continue.
	ErrNoSession = errors.New("no authenticated session")

	// ErrJournalAbandoned is returned when operating on a journal entry
	// that exceeded its attempt budget and requires manual resolution.
	ErrJournalAbandoned = errors.New("journal entry abandoned after retry budget")
)

// IsRetryable returns true if the error is likely to succeed on retry.
// Only transient sync failures qualify; rejections and conflicts require
// user action.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSyncTransient)
}

// IsUserActionRequired returns true if the error requires explicit user
// intervention to resolve (conflicts, rejected pushes, missing session).
func IsUserActionRequired(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrSyncRejected) ||
		errors.Is(err, ErrNoSession)
}
