package domain

import "errors"

var (
	// ErrQuestionNotFound indicates the question id has no record in the store.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrTeamNotFound indicates the team id has no record in the store.
	ErrTeamNotFound = errors.New("team not found")
	// ErrConflict is returned when a concurrent submission committed first and
	// the optimistic transaction must be retried from the top.
	ErrConflict = errors.New("concurrent submission conflict")
	// ErrStoreUnavailable is returned after retries against the document store
	// are exhausted. Transient; never reported to the caller as success.
	ErrStoreUnavailable = errors.New("document store unavailable")
)
