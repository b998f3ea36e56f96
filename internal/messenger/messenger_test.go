package messenger

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/fusion/internal/protocol/frame"
	"github.com/danmuck/fusion/internal/protocol/schema"
	"github.com/danmuck/fusion/internal/protocol/wire"
	"github.com/danmuck/fusion/internal/testutil/memtransport"
	"github.com/danmuck/fusion/internal/testutil/testlog"
)

type recordingRouter struct {
	mu      sync.Mutex
	signals []wire.Signal
	err     error
	reply   []byte
}

func (r *recordingRouter) SendSignal(path, method string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, wire.Signal{Path: path, Method: method, Data: data})
	return r.err
}

func (r *recordingRouter) ExecuteMethod(path, method string, data []byte) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.reply, nil
}

func startReadLoop(t *testing.T, m *Messenger) (chan frame.Frame, chan error) {
	t.Helper()
	out := make(chan frame.Frame, 16)
	errs := make(chan error, 1)
	go func() {
		errs <- m.ReadLoop(context.Background(), out)
	}()
	return out, errs
}

// startPump runs ReadLoop and dispatches what it delivers to r, the way the
// client event loop does.
func startPump(t *testing.T, m *Messenger, r Router) {
	t.Helper()
	out, _ := startReadLoop(t, m)
	go func() {
		for {
			select {
			case f := <-out:
				_ = m.Dispatch(f, r)
			case <-m.Done():
				return
			}
		}
	}()
}

func TestCallMethodResolvedInDispatchOrder(t *testing.T) {
	testlog.Start(t)

	tr := memtransport.New()
	m := New(tr)
	defer m.Close()
	startPump(t, m, &recordingRouter{})

	type result struct {
		data []byte
		err  error
	}
	results := make(chan result, 1)
	go func() {
		data, err := m.CallMethod(context.Background(), "/field/a", "distance", []byte{0x80})
		results <- result{data, err}
	}()

	sent := tr.Next(t)
	call, err := wire.DecodeMethodCall(sent)
	if err != nil {
		t.Fatalf("decode call: %v", err)
	}
	if call.Path != "/field/a" || call.Method != "distance" {
		t.Fatalf("unexpected call: %+v", call)
	}
	tr.Push(wire.EncodeMethodReturn(wire.MethodReturn{ID: call.ID, Data: []byte{0xf9, 0x38, 0x00}}))

	select {
	case res := <-results:
		if res.err != nil {
			t.Fatalf("call failed: %v", res.err)
		}
		if !bytes.Equal(res.data, []byte{0xf9, 0x38, 0x00}) {
			t.Fatalf("unexpected reply: %x", res.data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("call never resolved")
	}
	if m.Pending() != 0 {
		t.Fatalf("expected no pending calls, got %d", m.Pending())
	}
}

func TestCallMethodIDsAreUnique(t *testing.T) {
	tr := memtransport.New()
	m := New(tr)
	defer m.Close()

	seen := map[uint64]bool{}
	for i := 0; i < 5; i++ {
		if err := m.CallMethodAsync("/", "noop", nil, nil); err != nil {
			t.Fatalf("async call: %v", err)
		}
		f := tr.Next(t)
		if seen[f.Header.MessageID] {
			t.Fatalf("duplicate correlation id %d", f.Header.MessageID)
		}
		seen[f.Header.MessageID] = true
	}
}

func TestCallMethodRemoteError(t *testing.T) {
	testlog.Start(t)

	tr := memtransport.New()
	m := New(tr)
	defer m.Close()
	startPump(t, m, &recordingRouter{})

	errs := make(chan error, 1)
	go func() {
		_, err := m.CallMethod(context.Background(), "/field", "createSphereField", nil)
		errs <- err
	}()
	call, _ := wire.DecodeMethodCall(tr.Next(t))
	tr.Push(wire.EncodeMethodReturn(wire.MethodReturn{ID: call.ID, Err: "bad parent"}))

	err := <-errs
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Message != "bad parent" || remote.Method != "createSphereField" || remote.Path != "/field" {
		t.Fatalf("unexpected remote error: %+v", remote)
	}
}

func TestCallMethodAbandonedDiscardsLateReturn(t *testing.T) {
	testlog.Start(t)

	tr := memtransport.New()
	m := New(tr)
	defer m.Close()
	startPump(t, m, &recordingRouter{})

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := m.CallMethod(ctx, "/", "slow", nil)
		errs <- err
	}()
	call, _ := wire.DecodeMethodCall(tr.Next(t))
	cancel()
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if m.Pending() != 0 {
		t.Fatalf("abandoned call still pending")
	}

	// No cancel message goes out and the late reply is ignored.
	tr.Push(wire.EncodeMethodReturn(wire.MethodReturn{ID: call.ID}))
	select {
	case f := <-tr.Sent():
		t.Fatalf("unexpected outbound frame after abandon: %+v", f.Header)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseFailsPendingCalls(t *testing.T) {
	tr := memtransport.New()
	m := New(tr)

	errs := make(chan error, 1)
	go func() {
		_, err := m.CallMethod(context.Background(), "/", "never", nil)
		errs <- err
	}()
	tr.Next(t)
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := <-errs; !errors.Is(err, ErrInvalidMessenger) {
		t.Fatalf("expected ErrInvalidMessenger, got %v", err)
	}
	if err := m.SendSignal("/", "ping", nil); !errors.Is(err, ErrInvalidMessenger) {
		t.Fatalf("expected ErrInvalidMessenger after close, got %v", err)
	}
	if _, err := m.CallMethod(context.Background(), "/", "ping", nil); !errors.Is(err, ErrInvalidMessenger) {
		t.Fatalf("expected ErrInvalidMessenger for call after close, got %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestTransportLossFailsPendingAndReadLoop(t *testing.T) {
	tr := memtransport.New()
	m := New(tr)
	_, loopErrs := startReadLoop(t, m)

	errs := make(chan error, 1)
	go func() {
		_, err := m.CallMethod(context.Background(), "/", "never", nil)
		errs <- err
	}()
	tr.Next(t)
	_ = tr.Close()

	if err := <-loopErrs; !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
	if err := <-errs; !errors.Is(err, ErrInvalidMessenger) {
		t.Fatalf("expected ErrInvalidMessenger, got %v", err)
	}
	if !m.Closed() {
		t.Fatalf("messenger should be closed after transport loss")
	}
}

func TestSendSignalWriteFailure(t *testing.T) {
	tr := memtransport.New()
	tr.FailWrites(errors.New("broken pipe"))
	m := New(tr)
	defer m.Close()

	if err := m.SendSignal("/", "ping", nil); !errors.Is(err, ErrMessengerWrite) {
		t.Fatalf("expected ErrMessengerWrite, got %v", err)
	}
	if _, err := m.CallMethod(context.Background(), "/", "ping", nil); !errors.Is(err, ErrMessengerWrite) {
		t.Fatalf("expected ErrMessengerWrite for call, got %v", err)
	}
	if m.Pending() != 0 {
		t.Fatalf("failed write left a pending call")
	}
}

func TestReadLoopDeliversInOrder(t *testing.T) {
	tr := memtransport.New()
	m := New(tr)
	defer m.Close()
	out, _ := startReadLoop(t, m)

	if err := m.CallMethodAsync("/", "ping", nil, nil); err != nil {
		t.Fatalf("async call: %v", err)
	}
	call := tr.Next(t)

	push := func(method string) {
		f, err := wire.EncodeSignal(wire.Signal{Path: "/", Method: method})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		tr.Push(f)
	}
	push("a")
	tr.Push(wire.EncodeMethodReturn(wire.MethodReturn{ID: call.Header.MessageID}))
	push("b")

	for _, want := range []string{"a", "return", "b"} {
		f := <-out
		got := "return"
		if f.Header.MessageType != schema.MsgMethodReturn {
			sig, err := wire.DecodeSignal(f)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			got = sig.Method
		}
		if got != want {
			t.Fatalf("out of order: want %q got %q", want, got)
		}
	}
	if m.Pending() != 1 {
		t.Fatalf("return must stay queued until dispatched, pending=%d", m.Pending())
	}
}

type callingRouter struct {
	m       *Messenger
	replies chan []byte
}

func (r *callingRouter) SendSignal(path, method string, data []byte) error {
	out, err := r.m.CallMethod(context.Background(), path, "lookup", nil)
	if err != nil {
		return err
	}
	r.replies <- out
	return nil
}

func (r *callingRouter) ExecuteMethod(path, method string, data []byte) ([]byte, error) {
	return nil, nil
}

func TestCallbackAwaitsOwnReplyWithoutDeadlock(t *testing.T) {
	testlog.Start(t)

	tr := memtransport.New()
	m := New(tr)
	defer m.Close()
	r := &callingRouter{m: m, replies: make(chan []byte, 1)}
	startPump(t, m, r)

	f, err := wire.EncodeSignal(wire.Signal{Path: "/spatial/s", Method: "moved"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	tr.Push(f)
	call, err := wire.DecodeMethodCall(tr.Next(t))
	if err != nil {
		t.Fatalf("decode call: %v", err)
	}
	tr.Push(wire.EncodeMethodReturn(wire.MethodReturn{ID: call.ID, Data: []byte{0x07}}))

	select {
	case out := <-r.replies:
		if !bytes.Equal(out, []byte{0x07}) {
			t.Fatalf("unexpected reply %x", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("callback blocked on its own reply")
	}
}

func TestDispatchSignalAndMethod(t *testing.T) {
	testlog.Start(t)

	tr := memtransport.New()
	m := New(tr)
	defer m.Close()
	router := &recordingRouter{reply: []byte{0x01}}

	sig, _ := wire.EncodeSignal(wire.Signal{Path: "/a", Method: "poke", Data: []byte{0xa0}})
	if err := m.Dispatch(sig, router); err != nil {
		t.Fatalf("dispatch signal: %v", err)
	}
	if len(router.signals) != 1 || router.signals[0].Method != "poke" {
		t.Fatalf("signal not routed: %+v", router.signals)
	}

	call, _ := wire.EncodeMethodCall(wire.MethodCall{ID: 44, Path: "/a", Method: "ask"})
	if err := m.Dispatch(call, router); err != nil {
		t.Fatalf("dispatch call: %v", err)
	}
	ret, err := wire.DecodeMethodReturn(tr.Next(t))
	if err != nil {
		t.Fatalf("decode return: %v", err)
	}
	if ret.ID != 44 || ret.Failed() || !bytes.Equal(ret.Data, []byte{0x01}) {
		t.Fatalf("unexpected return: %+v", ret)
	}
}

func TestDispatchRouterErrorsAreAnswered(t *testing.T) {
	tr := memtransport.New()
	m := New(tr)
	defer m.Close()
	router := &recordingRouter{err: ErrMethodNotFound}

	sig, _ := wire.EncodeSignal(wire.Signal{Path: "/a", Method: "missing"})
	if err := m.Dispatch(sig, router); !errors.Is(err, ErrMethodNotFound) {
		t.Fatalf("expected ErrMethodNotFound, got %v", err)
	}

	call, _ := wire.EncodeMethodCall(wire.MethodCall{ID: 9, Path: "/a", Method: "missing"})
	if err := m.Dispatch(call, router); !errors.Is(err, ErrMethodNotFound) {
		t.Fatalf("expected ErrMethodNotFound, got %v", err)
	}
	f := tr.Next(t)
	if !f.Header.IsError() || f.Header.MessageType != schema.MsgMethodReturn {
		t.Fatalf("expected error return frame, got %+v", f.Header)
	}
	ret, _ := wire.DecodeMethodReturn(f)
	if ret.ID != 9 || ret.Err == "" {
		t.Fatalf("unexpected error return: %+v", ret)
	}
}

func TestDispatchRejectsUnknownFrameType(t *testing.T) {
	m := New(memtransport.New())
	defer m.Close()
	err := m.Dispatch(frame.Frame{Header: frame.Header{MessageType: 77}}, &recordingRouter{})
	if !errors.Is(err, ErrUnexpectedFrame) {
		t.Fatalf("expected ErrUnexpectedFrame, got %v", err)
	}
}
