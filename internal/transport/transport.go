// Package transport carries whole frames over an ordered, reliable connection.
package transport

import (
	"errors"

	"github.com/danmuck/fusion/internal/protocol/frame"
)

var (
	ErrClosed             = errors.New("transport: closed")
	ErrUnsupportedScheme  = errors.New("transport: unsupported address scheme")
	ErrAddressRequired    = errors.New("transport: address required")
	ErrUnexpectedWSFormat = errors.New("transport: websocket message is not binary")
)

// Transport sends and receives frames. Send may be called concurrently;
// Receive must only be called from one goroutine.
type Transport interface {
	Send(f frame.Frame) error
	// Receive blocks until a frame arrives. A clean remote close yields io.EOF.
	Receive() (frame.Frame, error)
	Close() error
}
