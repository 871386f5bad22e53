package feed

import "errors"

var (
	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("validation")
	// ErrNotFound is returned when a referenced id does not resolve or belongs
	// to someone else.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by a Store when a concurrent write won the race.
	ErrConflict = errors.New("conflict")
	// ErrStorageUnavailable is returned when the store cannot be reached or
	// conflicts persist after retrying.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrNotificationFailed is returned together with a result when the
	// action was applied but its notification could not be written.
	ErrNotificationFailed = errors.New("notification failed")
)
