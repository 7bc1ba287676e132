package arena

import (
	"errors"
	"fmt"
)

// ErrBusy is returned by Prepare when a reset is already running. The arena
// state is not touched.
var ErrBusy = errors.New("arena busy: reset already in flight")

// UnknownMapError reports a prepare request for a map that is not registered.
type UnknownMapError struct {
	ID string
}

func (e *UnknownMapError) Error() string {
	return "Unknown map: " + e.ID
}

// PostResetError reports a failure after the pipeline succeeded, while applying
// rules or placing clients.
type PostResetError struct {
	MapID string
	Err   error
}

func (e *PostResetError) Error() string {
	return fmt.Sprintf("post-reset for %s failed: %v", e.MapID, e.Err)
}

func (e *PostResetError) Unwrap() error { return e.Err }

// PrepareError wraps a reset pipeline failure for a map.
type PrepareError struct {
	MapID string
	Err   error
}

func (e *PrepareError) Error() string {
	return fmt.Sprintf("prepare %s failed: %v", e.MapID, e.Err)
}

func (e *PrepareError) Unwrap() error { return e.Err }
