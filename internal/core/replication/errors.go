package replication

import "errors"

var (
	ErrNotConnected     = errors.New("session not connected")
	ErrAlreadyConnected = errors.New("session already connected")
	ErrStaticIDInUse    = errors.New("static entity id already in use")
	ErrUnknownMaster    = errors.New("no master with that static entity id")
	ErrInvalidInterval  = errors.New("tick interval must be positive")

	ErrDuplicateComponent = errors.New("component listed twice")
)
