package room

import "net/http"

// Error is a room-protocol failure surfaced to one connection as an
// error event. The event code is 4000 plus the domain status so it
// also fits the websocket close-code range.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

// EventCode maps the domain status into the 4000-4999 space.
func (e *Error) EventCode() int { return 4000 + e.Status }

func NotFound(msg string) *Error {
	return &Error{Status: http.StatusNotFound, Message: msg}
}

func AccessDenied(msg string) *Error {
	return &Error{Status: http.StatusForbidden, Message: msg}
}

func Conflict(msg string) *Error {
	return &Error{Status: http.StatusConflict, Message: msg}
}

func InvalidInput(msg string) *Error {
	return &Error{Status: http.StatusBadRequest, Message: msg}
}

func NotAcceptable(msg string) *Error {
	return &Error{Status: http.StatusNotAcceptable, Message: msg}
}

func Unavailable(msg string) *Error {
	return &Error{Status: http.StatusServiceUnavailable, Message: msg}
}
