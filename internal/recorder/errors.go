package recorder

import "errors"

// Domain errors for the recorder package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, recorder.ErrInvalidEvent) {
//	    // malformed upstream event, already logged
//	}
var (
	// ErrInvalidEvent is returned when an event lacks required fields or
	// carries an entity id that does not match its domain.
	ErrInvalidEvent = errors.New("recorder: invalid event")

	// ErrStopped is returned when events or writes arrive after shutdown began.
	ErrStopped = errors.New("recorder: stopped")

	// ErrNotStarted is returned when an operation needs a started recorder.
	ErrNotStarted = errors.New("recorder: not started")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("recorder: already started")

	// ErrRunNotFound is returned when ending a run id the store does not know.
	ErrRunNotFound = errors.New("recorder: run not found")
)
