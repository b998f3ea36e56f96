package fakeserver

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/fusion/internal/config"
	"github.com/danmuck/fusion/internal/protocol/frame"
	"github.com/danmuck/fusion/internal/protocol/payload"
	"github.com/danmuck/fusion/internal/protocol/schema"
	"github.com/danmuck/fusion/internal/protocol/session"
	"github.com/danmuck/fusion/internal/protocol/wire"
	"github.com/danmuck/fusion/internal/testutil/memtransport"
	"github.com/danmuck/fusion/internal/testutil/testlog"
	"github.com/danmuck/fusion/internal/testutil/tlstest"
	"github.com/danmuck/fusion/internal/transport"
)

func startSession(t *testing.T, s *Service) (*memtransport.Transport, <-chan struct{}) {
	t.Helper()
	tr := memtransport.New()
	done := make(chan struct{})
	go func() {
		s.handleTransport(tr, "mem")
		close(done)
	}()
	waitFor(t, func() bool { return len(s.Peers()) > 0 })
	return tr, done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func callFrame(t *testing.T, id uint64, path, method string, args ...any) frame.Frame {
	t.Helper()
	f, err := wire.EncodeMethodCall(wire.MethodCall{ID: id, Path: path, Method: method, Data: mustArgs(t, args...)})
	if err != nil {
		t.Fatalf("encode call: %v", err)
	}
	return f
}

func signalFrame(t *testing.T, path, method string, data []byte) frame.Frame {
	t.Helper()
	f, err := wire.EncodeSignal(wire.Signal{Path: path, Method: method, Data: data})
	if err != nil {
		t.Fatalf("encode signal: %v", err)
	}
	return f
}

func TestSessionAnswersCallsAndRecordsFrames(t *testing.T) {
	testlog.Start(t)
	s := NewService(config.DefaultServerConfig())
	tr, done := startSession(t, s)

	tr.Push(callFrame(t, 1, "/spatial", "createSpatial", "a", "/", payload.Transform{}, false))
	ret, err := wire.DecodeMethodReturn(tr.Next(t))
	if err != nil || ret.ID != 1 || ret.Failed() {
		t.Fatalf("unexpected create return: %+v err=%v", ret, err)
	}

	tr.Push(callFrame(t, 2, "/spatial/spatial/missing", "getTransform", nil))
	ret, err = wire.DecodeMethodReturn(tr.Next(t))
	if err != nil || ret.ID != 2 || !ret.Failed() {
		t.Fatalf("expected failed return, got %+v err=%v", ret, err)
	}

	tr.Push(signalFrame(t, "/spatial/spatial/a", "destroy", nil))
	waitFor(t, func() bool { return s.World().Len() == 0 })
	if got := len(s.Received()); got != 3 {
		t.Fatalf("expected 3 recorded frames, got %d", got)
	}
	if got := len(s.Signals("destroy")); got != 1 {
		t.Fatalf("expected one recorded destroy, got %d", got)
	}

	_ = tr.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end after transport close")
	}
	if len(s.Peers()) != 0 {
		t.Fatalf("peer still tracked after disconnect")
	}
}

func TestSessionReturnPrecedesAnnouncement(t *testing.T) {
	testlog.Start(t)
	s := NewService(config.DefaultServerConfig())
	tr, _ := startSession(t, s)
	defer tr.Close()

	tr.Push(callFrame(t, 1, "/field", "createSphereField", "zone", "/", payload.Vec3{}, float32(1)))
	tr.Next(t)
	tr.Push(callFrame(t, 2, "/data", "createPulseReceiver", "rx", "/", payload.Transform{}, "/field/zone",
		mask(t, map[string]any{"test": true})))
	tr.Next(t)
	tr.Push(callFrame(t, 3, "/data", "createPulseSender", "tx", "/", payload.Transform{},
		mask(t, map[string]any{"test": true})))

	first := tr.Next(t)
	if first.Header.MessageType != schema.MsgMethodReturn || first.Header.MessageID != 3 {
		t.Fatalf("expected the creation return first, got %+v", first.Header)
	}
	sig, err := wire.DecodeSignal(tr.Next(t))
	if err != nil || sig.Path != "/data/sender/tx" || sig.Method != "newReceiver" {
		t.Fatalf("unexpected announcement: %+v err=%v", sig, err)
	}
}

func TestRunLogicStepBroadcasts(t *testing.T) {
	testlog.Start(t)
	s := NewService(config.DefaultServerConfig())
	tr, _ := startSession(t, s)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.RunLogicStep(ctx, 5*time.Millisecond)

	sig, err := wire.DecodeSignal(tr.Next(t))
	if err != nil || sig.Path != "/" || sig.Method != "logicStep" {
		t.Fatalf("unexpected tick: %+v err=%v", sig, err)
	}
	raw, err := payload.SplitArgs(sig.Data)
	if err != nil || len(raw) != 2 {
		t.Fatalf("unexpected tick args: %v err=%v", raw, err)
	}
	var delta float64
	if err := payload.Arg(raw, 0, &delta); err != nil || delta <= 0 {
		t.Fatalf("unexpected delta %v err=%v", delta, err)
	}
}

func TestListenRejectsWebsocketAddress(t *testing.T) {
	s := NewService(config.DefaultServerConfig())
	if _, err := s.Listen("ws://127.0.0.1:0/ws"); !errors.Is(err, ErrWebsocketListen) {
		t.Fatalf("expected ErrWebsocketListen, got %v", err)
	}
}

// exerciseTransport creates one spatial through tr and waits for the server
// to hold it.
func exerciseTransport(t *testing.T, s *Service, tr transport.Transport) {
	t.Helper()
	if err := tr.Send(callFrame(t, 9, "/spatial", "createSpatial", "remote", "/", payload.Transform{}, false)); err != nil {
		t.Fatalf("send: %v", err)
	}
	f, err := tr.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	ret, err := wire.DecodeMethodReturn(f)
	if err != nil || ret.ID != 9 || ret.Failed() {
		t.Fatalf("unexpected return: %+v err=%v", ret, err)
	}
	if _, ok := s.World().Lookup("/spatial/spatial/remote"); !ok {
		t.Fatalf("object not created")
	}
}

func TestServeUnixSocket(t *testing.T) {
	testlog.Start(t)
	s := NewService(config.DefaultServerConfig())
	sock := "unix://" + filepath.Join(t.TempDir(), "fake.sock")
	ln, err := s.Listen(sock)
	if err != nil {
		t.Skipf("unix sockets unavailable: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, ln) }()

	tr, err := transport.NewDialer(session.DefaultConfig(), 1).Dial(context.Background(), sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()
	exerciseTransport(t, s, tr)

	cancel()
	if err := <-served; err != nil {
		t.Fatalf("serve: %v", err)
	}
	if _, err := tr.Receive(); err == nil {
		t.Fatalf("expected connection closed after shutdown")
	}
}

func TestServeMutualTLS(t *testing.T) {
	testlog.Start(t)
	bundle := tlstest.NewBundle(t, "fusion-client")

	cfg := config.DefaultServerConfig()
	cfg.Session.SecurityMode = session.SecurityModeProduction
	cfg.Session.TLS = session.TLSConfig{
		Enabled:  true,
		Mutual:   true,
		CertFile: bundle.ServerCert,
		KeyFile:  bundle.ServerKey,
		CAFile:   bundle.CAFile,
	}
	s := NewService(cfg)
	ln, err := s.Listen("tls://127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Serve(ctx, ln)

	clientCfg := session.DefaultConfig()
	clientCfg.SecurityMode = session.SecurityModeProduction
	clientCfg.TLS = session.TLSConfig{
		Enabled:  true,
		Mutual:   true,
		CAFile:   bundle.CAFile,
		CertFile: bundle.ClientCert,
		KeyFile:  bundle.ClientKey,
	}
	tr, err := transport.NewDialer(clientCfg, 1).Dial(context.Background(), "tls://"+ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()
	exerciseTransport(t, s, tr)
}

func TestServeWebsocketHandler(t *testing.T) {
	testlog.Start(t)
	s := NewService(config.DefaultServerConfig())
	srv := httptest.NewServer(s.HTTPHandler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + WebsocketPath
	tr, err := transport.NewDialer(session.DefaultConfig(), 1).Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	exerciseTransport(t, s, tr)

	_ = tr.Close()
	waitFor(t, func() bool { return len(s.Peers()) == 0 })
	if s.World().Len() != 0 {
		t.Fatalf("disconnect left %d objects", s.World().Len())
	}
}

func TestWebsocketRequiresBearerToken(t *testing.T) {
	testlog.Start(t)
	cfg := config.DefaultServerConfig()
	cfg.Session.AuthToken = "s3cret"
	s := NewService(cfg)
	srv := httptest.NewServer(s.HTTPHandler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + WebsocketPath

	anon := session.DefaultConfig()
	if _, err := transport.NewDialer(anon, 1).Dial(context.Background(), url); err == nil {
		t.Fatalf("expected upgrade without token to fail")
	}
	wrong := session.DefaultConfig()
	wrong.AuthToken = "guess"
	if _, err := transport.NewDialer(wrong, 1).Dial(context.Background(), url); err == nil {
		t.Fatalf("expected upgrade with wrong token to fail")
	}

	good := session.DefaultConfig()
	good.AuthToken = "s3cret"
	tr, err := transport.NewDialer(good, 1).Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	defer tr.Close()
	exerciseTransport(t, s, tr)
}
