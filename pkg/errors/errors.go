package telecare_errors

import "errors"

// Common errors
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	// Wire-visible text, kept verbatim for existing clients.
	ErrChatInactive  = errors.New("Chat inactive")
	ErrDependency    = errors.New("dependency failure")
	ErrAlreadyExists = errors.New("already exists")
)

// Code maps an error to the stable wire code reported through websocket acks.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return "INVALID_ARGUMENT"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrChatInactive):
		return "CHAT_INACTIVE"
	default:
		return "DEPENDENCY_FAILURE"
	}
}
