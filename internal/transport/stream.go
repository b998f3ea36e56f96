package transport

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/fusion/internal/protocol/frame"
)

// Stream frames a net.Conn (unix, tcp, tls or net.Pipe).
type Stream struct {
	conn         net.Conn
	reader       *bufio.Reader
	limits       frame.Limits
	writeTimeout time.Duration

	mu     sync.Mutex
	closed atomic.Bool
}

var _ Transport = (*Stream)(nil)

// NewStream wraps conn. writeTimeout <= 0 disables write deadlines.
func NewStream(conn net.Conn, writeTimeout time.Duration) *Stream {
	return &Stream{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		limits:       frame.DefaultLimits(),
		writeTimeout: writeTimeout,
	}
}

func (s *Stream) Send(f frame.Frame) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return frame.WriteFrame(s.conn, f, s.limits)
}

func (s *Stream) Receive() (frame.Frame, error) {
	f, err := frame.ReadFrame(s.reader, s.limits)
	if err != nil {
		if s.closed.Load() || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return frame.Frame{}, io.EOF
		}
		return frame.Frame{}, err
	}
	return f, nil
}

func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

// RemoteAddr reports the peer address for logging.
func (s *Stream) RemoteAddr() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
