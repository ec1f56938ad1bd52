package listeners

import "errors"

// ErrClosed is returned when registering on a closed registry.
var ErrClosed = errors.New("listener registry closed")

// ErrLockTimeout is returned when the registration lock could not be
// acquired within its bound.
var ErrLockTimeout = errors.New("listener registration lock timeout")
