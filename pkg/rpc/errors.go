package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame is returned when an inbound frame is not a res array
	// of at least [id, method, payload].
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownMethod is returned for res frames whose method the client
	// does not understand.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrServerRejected matches every *ServerError via errors.Is.
	ErrServerRejected = errors.New("server rejected request")
)

// ServerError is an error frame returned by the node.
type ServerError struct {
	// Method is the method of the frame that carried the error.
	Method Method
	// Message is the node-supplied reason.
	Message string
}

// Error returns the node-supplied reason.
func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("clearnode %s: rejected", e.Method)
	}
	return fmt.Sprintf("clearnode %s: %s", e.Method, e.Message)
}

// Is supports errors.Is(err, ErrServerRejected).
func (e *ServerError) Is(target error) bool {
	return target == ErrServerRejected
}
