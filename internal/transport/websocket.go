package transport

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/fusion/internal/protocol/frame"
	"github.com/danmuck/fusion/internal/protocol/wire"
	"github.com/gorilla/websocket"
)

// Websocket carries one frame per binary websocket message.
type Websocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed atomic.Bool
}

var _ Transport = (*Websocket)(nil)

func NewWebsocket(conn *websocket.Conn, writeTimeout time.Duration) *Websocket {
	conn.SetReadLimit(int64(frame.DefaultLimits().MaxPayloadBytes) + int64(frame.FixedHeaderLen))
	return &Websocket{conn: conn, writeTimeout: writeTimeout}
}

func (w *Websocket) Send(f frame.Frame) error {
	if w.closed.Load() {
		return ErrClosed
	}
	raw, err := wire.Marshal(f)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, raw)
}

func (w *Websocket) Receive() (frame.Frame, error) {
	for {
		kind, raw, err := w.conn.ReadMessage()
		if err != nil {
			if w.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return frame.Frame{}, io.EOF
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return frame.Frame{}, io.EOF
			}
			return frame.Frame{}, err
		}
		if kind != websocket.BinaryMessage {
			return frame.Frame{}, ErrUnexpectedWSFormat
		}
		return wire.Unmarshal(raw)
	}
}

func (w *Websocket) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.mu.Lock()
	_ = w.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	w.mu.Unlock()
	return w.conn.Close()
}
