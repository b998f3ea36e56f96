package messenger

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMessenger = errors.New("messenger: closed or connection lost")
	ErrMessengerWrite   = errors.New("messenger: write failed")
	ErrConnectionLost   = errors.New("messenger: connection lost")
	ErrUnexpectedFrame  = errors.New("messenger: unexpected frame type")

	// Routers report these for unknown paths and names.
	ErrNodeNotFound   = errors.New("node not found")
	ErrMethodNotFound = errors.New("method not found")
)

// RemoteError is a method call the server answered with an error.
type RemoteError struct {
	Path    string
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Path == "" && e.Method == "" {
		return fmt.Sprintf("remote error: %s", e.Message)
	}
	return fmt.Sprintf("remote error: %s %s: %s", e.Path, e.Method, e.Message)
}
