// Package memtransport is an in-memory transport for tests.
package memtransport

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/fusion/internal/protocol/frame"
	"github.com/danmuck/fusion/internal/transport"
)

// Transport records sent frames and returns pushed frames from Receive.
type Transport struct {
	sent    chan frame.Frame
	inbound chan frame.Frame

	mu      sync.Mutex
	closed  bool
	failErr error
	done    chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

func New() *Transport {
	return &Transport{
		sent:    make(chan frame.Frame, 256),
		inbound: make(chan frame.Frame, 256),
		done:    make(chan struct{}),
	}
}

func (t *Transport) Send(f frame.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	if t.failErr != nil {
		return t.failErr
	}
	t.sent <- f
	return nil
}

func (t *Transport) Receive() (frame.Frame, error) {
	select {
	case f := <-t.inbound:
		return f, nil
	case <-t.done:
		return frame.Frame{}, io.EOF
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}

// FailWrites makes every later Send return err. A nil err restores writes.
func (t *Transport) FailWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failErr = err
}

// Push queues f for Receive.
func (t *Transport) Push(f frame.Frame) {
	t.inbound <- f
}

// Next returns the next sent frame or fails tb after two seconds.
func (t *Transport) Next(tb testing.TB) frame.Frame {
	tb.Helper()
	select {
	case f := <-t.sent:
		return f
	case <-time.After(2 * time.Second):
		tb.Fatalf("timed out waiting for outbound frame")
		return frame.Frame{}
	}
}

// Drain returns every frame sent so far without blocking.
func (t *Transport) Drain() []frame.Frame {
	var out []frame.Frame
	for {
		select {
		case f := <-t.sent:
			out = append(out, f)
		default:
			return out
		}
	}
}

// Sent returns the sent-frame channel for select-based waits.
func (t *Transport) Sent() <-chan frame.Frame {
	return t.sent
}
