package statebus

import "errors"

// Domain-specific errors for the state bus.
var (
	// ErrInvalidPayload is returned when a state message cannot be decoded.
	ErrInvalidPayload = errors.New("statebus: invalid state payload")

	// ErrAlreadySubscribed is returned when Subscribe is called twice
	// without an intervening Unsubscribe.
	ErrAlreadySubscribed = errors.New("statebus: already subscribed")
)
