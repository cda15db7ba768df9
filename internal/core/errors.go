package core

import (
	"errors"
	"fmt"
)

// Error taxonomy returned to the originating request as an error payload.
// None of these terminate the connection or the process.
var (
	// ErrNotFound covers unknown transports/producers/consumers and
	// transports not owned by the calling session.
	ErrNotFound = errors.New("not found")
	// ErrStateConflict covers joining a second room and producing
	// without a room context.
	ErrStateConflict = errors.New("state conflict")
	// ErrEngineFailure means the media engine rejected the call.
	ErrEngineFailure = errors.New("engine failure")
	// ErrEngineUnavailable means the engine never initialized;
	// signaling keeps working, media features degrade.
	ErrEngineUnavailable = errors.New("engine unavailable")
	// ErrTimeout means an engine call exceeded its bound. Nothing is
	// registered and the client must re-issue the request.
	ErrTimeout = errors.New("engine call timed out")
)

// ErrAlreadyInRoom is the conflict raised by joining a second room while
// still a member of another one.
var ErrAlreadyInRoom = fmt.Errorf("already in a room: %w", ErrStateConflict)

// ErrorCode maps a taxonomy error to its wire code string.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrStateConflict):
		return "STATE_CONFLICT"
	case errors.Is(err, ErrEngineUnavailable):
		return "ENGINE_UNAVAILABLE"
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	default:
		return "ENGINE_FAILURE"
	}
}
