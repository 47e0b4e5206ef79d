package tracking

import "errors"

var (
	// ErrNotFound indicates a missing farm, collar or notification.
	ErrNotFound = errors.New("tracking: not found")
	// ErrUnknownCollar indicates a collar that was never registered.
	ErrUnknownCollar = errors.New("tracking: unknown collar")
	// ErrCorruptState indicates a persisted collar state that cannot be decoded.
	ErrCorruptState = errors.New("tracking: corrupt collar state")
)
