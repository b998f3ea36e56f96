// Package messenger writes scene-graph frames to a transport and correlates
// method calls with their returns.
//
// A Messenger never owns the scene graph. Inbound signals and method calls are
// handed to a Router; method returns resolve the pending call that carries the
// same correlation id. Calls block until answered, abandoned through their
// context, or failed by Close.
//
// ReadLoop hands every frame, returns included, to the dispatcher in arrival
// order. The one exception is a return for a call issued while a Router
// callback is running: it is resolved on the reader so that callback can
// block on its own reply.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	logs "github.com/danmuck/fusion/internal/logging"
	"github.com/danmuck/fusion/internal/observability"
	"github.com/danmuck/fusion/internal/protocol/frame"
	"github.com/danmuck/fusion/internal/protocol/schema"
	"github.com/danmuck/fusion/internal/protocol/wire"
	"github.com/danmuck/fusion/internal/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/danmuck/fusion/internal/messenger"

// Router receives inbound signals and method calls by path.
type Router interface {
	SendSignal(path, method string, data []byte) error
	ExecuteMethod(path, method string, data []byte) ([]byte, error)
}

type Messenger struct {
	t       transport.Transport
	nextID  atomic.Uint64
	pending *pendingTable
	tracer  trace.Tracer

	// dispatchSeq numbers Router callbacks; inDispatch is the number of the
	// one running now, or 0.
	dispatchSeq atomic.Uint64
	inDispatch  atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func New(t transport.Transport) *Messenger {
	observability.RegisterMetrics()
	return &Messenger{
		t:       t,
		pending: newPendingTable(),
		tracer:  otel.Tracer(tracerName),
		done:    make(chan struct{}),
	}
}

// Done is closed once the messenger stops accepting traffic.
func (m *Messenger) Done() <-chan struct{} {
	return m.done
}

func (m *Messenger) Closed() bool {
	return m.closed.Load()
}

// Pending reports the number of calls awaiting a return.
func (m *Messenger) Pending() int {
	return m.pending.len()
}

// SendSignal writes a fire-and-forget signal.
func (m *Messenger) SendSignal(path, method string, data []byte) error {
	if m.closed.Load() {
		return ErrInvalidMessenger
	}
	f, err := wire.EncodeSignal(wire.Signal{Path: path, Method: method, Data: data})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMessengerWrite, err)
	}
	return m.write(f)
}

// CallMethod sends a method call and waits for its return. Cancelling ctx
// abandons the call locally; a late return is discarded.
func (m *Messenger) CallMethod(ctx context.Context, path, method string, data []byte) ([]byte, error) {
	ctx, span := m.tracer.Start(ctx, "messenger.CallMethod", trace.WithAttributes(
		attribute.String("fusion.path", path),
		attribute.String("fusion.method", method),
	))
	defer span.End()

	call, err := m.start(path, method, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("fusion.call_id", int64(call.ID)))
	out, err := m.await(ctx, call)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

// CallMethodAsync sends a method call and invokes cb with the result from a
// separate goroutine. Write failures are returned directly and cb is not run.
func (m *Messenger) CallMethodAsync(path, method string, data []byte, cb func([]byte, error)) error {
	call, err := m.start(path, method, data)
	if err != nil {
		return err
	}
	go func() {
		out, err := m.await(context.Background(), call)
		if cb != nil {
			cb(out, err)
		}
	}()
	return nil
}

func (m *Messenger) start(path, method string, data []byte) (*pendingCall, error) {
	if m.closed.Load() {
		return nil, ErrInvalidMessenger
	}
	id := m.nextID.Add(1)
	f, err := wire.EncodeMethodCall(wire.MethodCall{ID: id, Path: path, Method: method, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessengerWrite, err)
	}
	call, err := m.pending.add(id, path, method, m.inDispatch.Load())
	if err != nil {
		return nil, err
	}
	observability.SetPendingCalls(m.pending.len())
	if err := m.write(f); err != nil {
		m.pending.remove(id)
		observability.SetPendingCalls(m.pending.len())
		return nil, err
	}
	return call, nil
}

func (m *Messenger) await(ctx context.Context, call *pendingCall) ([]byte, error) {
	select {
	case res := <-call.done:
		observability.RecordCall(call.Method, callOutcome(res.err), time.Since(call.QueuedAt))
		return res.data, res.err
	case <-ctx.Done():
		m.pending.remove(call.ID)
		observability.SetPendingCalls(m.pending.len())
		observability.RecordCall(call.Method, observability.OutcomeAborted, time.Since(call.QueuedAt))
		logs.Debugf("messenger.await abandoned id=%d path=%q method=%q err=%v", call.ID, call.Path, call.Method, ctx.Err())
		return nil, ctx.Err()
	}
}

// Resolve completes the pending call answered by a method-return frame.
// Returns for unknown or abandoned ids are discarded.
func (m *Messenger) Resolve(f frame.Frame) error {
	ret, err := wire.DecodeMethodReturn(f)
	if err != nil {
		observability.RecordDispatchError("malformed_return")
		return err
	}
	call, ok := m.pending.take(ret.ID)
	observability.SetPendingCalls(m.pending.len())
	if !ok {
		logs.Debugf("messenger.Resolve discard id=%d", ret.ID)
		return nil
	}
	if ret.Failed() {
		call.done <- callResult{err: &RemoteError{Path: call.Path, Method: call.Method, Message: ret.Err}}
		return nil
	}
	data := ret.Data
	if data == nil {
		data = []byte{}
	}
	call.done <- callResult{data: data}
	return nil
}

// Dispatch routes one inbound frame. Signals and method calls go to r;
// method calls are always answered. The returned error is informational and
// never means the connection is unusable.
func (m *Messenger) Dispatch(f frame.Frame, r Router) error {
	observability.RecordFrame(observability.DirectionIn, f.Header.MessageType)
	switch f.Header.MessageType {
	case schema.MsgSignal:
		sig, err := wire.DecodeSignal(f)
		if err != nil {
			observability.RecordDispatchError("malformed_signal")
			logs.Warnf("messenger.Dispatch malformed signal err=%v", err)
			return err
		}
		m.routing(func() { err = r.SendSignal(sig.Path, sig.Method, sig.Data) })
		if err != nil {
			observability.RecordDispatchError(dispatchKind(err))
			logs.Warnf("messenger.Dispatch signal path=%q method=%q err=%v", sig.Path, sig.Method, err)
			return err
		}
		return nil
	case schema.MsgMethodCall:
		call, err := wire.DecodeMethodCall(f)
		if err != nil {
			observability.RecordDispatchError("malformed_call")
			logs.Warnf("messenger.Dispatch malformed method call id=%d err=%v", f.Header.MessageID, err)
			_ = m.write(wire.EncodeMethodReturn(wire.MethodReturn{ID: f.Header.MessageID, Err: err.Error()}))
			return err
		}
		var out []byte
		var callErr error
		m.routing(func() { out, callErr = r.ExecuteMethod(call.Path, call.Method, call.Data) })
		ret := wire.MethodReturn{ID: call.ID, Data: out}
		if callErr != nil {
			observability.RecordDispatchError(dispatchKind(callErr))
			logs.Warnf("messenger.Dispatch method path=%q method=%q err=%v", call.Path, call.Method, callErr)
			ret = wire.MethodReturn{ID: call.ID, Err: callErr.Error()}
		}
		if err := m.write(wire.EncodeMethodReturn(ret)); err != nil {
			return err
		}
		return callErr
	case schema.MsgMethodReturn:
		return m.Resolve(f)
	default:
		observability.RecordDispatchError("unexpected_frame")
		return fmt.Errorf("%w: %d", ErrUnexpectedFrame, f.Header.MessageType)
	}
}

// routing marks fn as a running Router callback for the duration of the call.
func (m *Messenger) routing(fn func()) {
	seq := m.dispatchSeq.Add(1)
	prev := m.inDispatch.Swap(seq)
	defer m.inDispatch.Store(prev)
	fn()
}

// answersRunningCallback reports whether id belongs to a call issued from
// the Router callback that is running now. That callback may be blocked on
// the reply, which then cannot wait its turn behind the callback itself.
func (m *Messenger) answersRunningCallback(id uint64) bool {
	running := m.inDispatch.Load()
	if running == 0 {
		return false
	}
	issuedIn, ok := m.pending.issuedIn(id)
	return ok && issuedIn == running
}

// ReadLoop reads frames until the transport fails or ctx is done and sends
// them to out in arrival order; the receiver passes each to Dispatch.
// Returns answering the running Router callback are resolved here instead.
// The messenger is closed when the transport fails.
func (m *Messenger) ReadLoop(ctx context.Context, out chan<- frame.Frame) error {
	for {
		f, err := m.t.Receive()
		if err != nil {
			if m.closed.Load() {
				return ErrInvalidMessenger
			}
			logs.Infof("messenger.ReadLoop transport closed err=%v", err)
			_ = m.closeWith(ErrInvalidMessenger)
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		if f.Header.MessageType == schema.MsgMethodReturn && m.answersRunningCallback(f.Header.MessageID) {
			observability.RecordFrame(observability.DirectionIn, f.Header.MessageType)
			if err := m.Resolve(f); err != nil {
				logs.Warnf("messenger.ReadLoop malformed return id=%d err=%v", f.Header.MessageID, err)
			}
			continue
		}
		select {
		case out <- f:
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return ErrInvalidMessenger
		}
	}
}

// Close releases the transport and fails all pending calls with
// ErrInvalidMessenger. It is safe to call more than once.
func (m *Messenger) Close() error {
	return m.closeWith(ErrInvalidMessenger)
}

func (m *Messenger) closeWith(reason error) error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.done)
		failed := m.pending.failAll(reason)
		observability.SetPendingCalls(0)
		if failed > 0 {
			logs.Debugf("messenger.Close failed pending=%d", failed)
		}
		m.closeErr = m.t.Close()
	})
	return m.closeErr
}

func (m *Messenger) write(f frame.Frame) error {
	if err := m.t.Send(f); err != nil {
		if errors.Is(err, transport.ErrClosed) || m.closed.Load() {
			return ErrInvalidMessenger
		}
		return fmt.Errorf("%w: %v", ErrMessengerWrite, err)
	}
	observability.RecordFrame(observability.DirectionOut, f.Header.MessageType)
	return nil
}

func callOutcome(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return observability.OutcomeOK
	case errors.As(err, &remote):
		return observability.OutcomeRemote
	default:
		return observability.OutcomeClosed
	}
}

func dispatchKind(err error) string {
	switch {
	case errors.Is(err, ErrNodeNotFound):
		return "node_not_found"
	case errors.Is(err, ErrMethodNotFound):
		return "method_not_found"
	default:
		return "handler_error"
	}
}
