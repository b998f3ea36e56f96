package fakeserver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/fusion/internal/auth"
	"github.com/danmuck/fusion/internal/config"
	logs "github.com/danmuck/fusion/internal/logging"
	"github.com/danmuck/fusion/internal/messenger"
	"github.com/danmuck/fusion/internal/observability"
	"github.com/danmuck/fusion/internal/protocol/frame"
	"github.com/danmuck/fusion/internal/protocol/payload"
	"github.com/danmuck/fusion/internal/protocol/session"
	"github.com/danmuck/fusion/internal/protocol/wire"
	"github.com/danmuck/fusion/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	maxRecorded   = 4096
	WebsocketPath = "/ws"
)

var ErrWebsocketListen = errors.New("fakeserver: ws addresses are served through websocket_addr")

// Received is one frame a client sent.
type Received struct {
	Peer  uint64
	Frame frame.Frame
}

// Service accepts scene-graph clients over stream listeners and websockets
// and applies their frames to one shared World.
type Service struct {
	cfg   config.ServerConfig
	world *World

	peersMu sync.Mutex
	peers   map[uint64]*peer

	nextPeer    atomic.Uint64
	clientCount atomic.Int64

	recMu    sync.Mutex
	received []Received

	upgrader websocket.Upgrader
	// tokens is nil when websocket upgrades are unauthenticated.
	tokens  auth.Validator
	sidecar *observability.Sidecar
}

func NewService(cfg config.ServerConfig) *Service {
	cfg.Session = cfg.Session.WithDefaults()
	s := &Service{
		cfg:   cfg,
		world: NewWorld(),
		peers: make(map[uint64]*peer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	if token := strings.TrimSpace(cfg.Session.AuthToken); token != "" {
		s.tokens = auth.StaticToken{Token: token}
	}
	if strings.TrimSpace(cfg.MetricsAddr) != "" {
		s.sidecar = observability.NewSidecar(observability.SidecarConfig{
			Addr:        cfg.MetricsAddr,
			Service:     "fusion-fakeserver",
			CORSOrigins: cfg.CORSOrigins,
		})
	}
	return s
}

func (s *Service) World() *World {
	return s.world
}

// Run serves every configured endpoint until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if err := config.ValidateServerConfig(s.cfg); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)

	if addr := strings.TrimSpace(s.cfg.Listen); addr != "" {
		ln, err := s.Listen(addr)
		if err != nil {
			return err
		}
		logs.Warnf("fakeserver.Service.Run listening addr=%q", ln.Addr().String())
		g.Go(func() error {
			return s.Serve(gctx, ln)
		})
	}
	if addr := strings.TrimSpace(s.cfg.WebsocketAddr); addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		logs.Warnf("fakeserver.Service.Run websocket addr=%q path=%q", ln.Addr().String(), WebsocketPath)
		g.Go(func() error {
			return s.ServeWebsocket(gctx, ln)
		})
	}
	if s.sidecar != nil {
		s.sidecar.SetReady(true)
		g.Go(func() error {
			return s.sidecar.ListenAndServe(gctx)
		})
	}
	if s.cfg.LogicStep > 0 {
		g.Go(func() error {
			s.RunLogicStep(gctx, s.cfg.LogicStep)
			return nil
		})
	}
	return g.Wait()
}

// Listen opens a stream listener for unix://, tcp:// or tls:// addresses.
func (s *Service) Listen(address string) (net.Listener, error) {
	ep, err := transport.ParseEndpoint(address)
	if err != nil {
		return nil, err
	}
	switch ep.Scheme {
	case "unix":
		if err := os.Remove(ep.Target); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("fakeserver: remove stale socket: %w", err)
		}
		return net.Listen("unix", ep.Target)
	case "tcp":
		return net.Listen("tcp", ep.Target)
	case "tls":
		if err := s.cfg.Session.ValidateServerTransport(); err != nil {
			return nil, err
		}
		tlsCfg, err := s.cfg.Session.ServerTLSConfig()
		if err != nil {
			return nil, err
		}
		return tls.Listen("tcp", ep.Target, tlsCfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrWebsocketListen, address)
	}
}

// Serve accepts stream clients on ln until ctx is done.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllPeers()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// HTTPHandler upgrades GET WebsocketPath to a websocket client session.
func (s *Service) HTTPHandler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AccessLog("fusion-fakeserver"))
	r.GET(WebsocketPath, func(c *gin.Context) {
		if s.tokens != nil {
			if err := auth.CheckRequest(s.tokens, c.Request); err != nil {
				logs.Warnf("fakeserver.websocket auth remote=%q err=%v", c.Request.RemoteAddr, err)
				c.AbortWithStatus(http.StatusUnauthorized)
				return
			}
		}
		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logs.Warnf("fakeserver.websocket upgrade remote=%q err=%v", c.Request.RemoteAddr, err)
			return
		}
		s.handleTransport(transport.NewWebsocket(conn, s.cfg.Session.WriteTimeout), c.Request.RemoteAddr)
	})
	return r
}

// ServeWebsocket serves HTTPHandler on ln until ctx is done.
func (s *Service) ServeWebsocket(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.HTTPHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		s.closeAllPeers()
		_ = srv.Close()
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Service) handleConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	identity, err := s.authenticateConn(conn)
	if err != nil {
		logs.Warnf("fakeserver.handleConn transport auth remote=%q err=%v", remote, err)
		_ = conn.Close()
		return
	}
	if identity != "" {
		logs.Infof("fakeserver.handleConn peer identity=%q remote=%q", identity, remote)
	}
	s.handleTransport(transport.NewStream(conn, s.cfg.Session.WriteTimeout), remote)
}

// handleTransport runs one client session until its transport closes.
func (s *Service) handleTransport(t transport.Transport, remote string) {
	id := s.nextPeer.Add(1)
	rec := &recorder{Transport: t, peer: id, svc: s}
	p := &peer{id: id, remote: remote, m: messenger.New(rec)}
	s.world.attach(p)
	s.trackPeer(p)

	active := s.clientCount.Add(1)
	logs.Warnf("fakeserver.session client connected peer=%d remote=%q active_clients=%d", id, remote, active)
	defer func() {
		for _, o := range s.world.detach(p) {
			o.send()
		}
		s.untrackPeer(p)
		_ = p.m.Close()
		remaining := s.clientCount.Add(-1)
		logs.Warnf("fakeserver.session client disconnected peer=%d remote=%q active_clients=%d", id, remote, remaining)
	}()

	r := &router{world: s.world, peer: p}
	for {
		f, err := rec.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, transport.ErrClosed) {
				logs.Debugf("fakeserver.session receive peer=%d err=%v", id, err)
			}
			return
		}
		_ = p.m.Dispatch(f, r)
		r.flush()
	}
}

// authenticateConn completes the TLS handshake and returns the client
// certificate identity, if any.
func (s *Service) authenticateConn(conn net.Conn) (string, error) {
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		if session.NormalizeSecurityMode(s.cfg.Session.SecurityMode) == session.SecurityModeProduction {
			if _, local := conn.(*net.UnixConn); !local {
				return "", session.ErrTLSRequired
			}
		}
		return "", nil
	}
	_ = tlsConn.SetDeadline(time.Now().Add(s.cfg.Session.ConnectTimeout))
	defer tlsConn.SetDeadline(time.Time{})
	if err := tlsConn.Handshake(); err != nil {
		return "", err
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return "", nil
	}
	return peerIdentityFromCert(state.PeerCertificates[0]), nil
}

// peerIdentityFromCert prefers CN, then the first URI, then the first DNS name.
func peerIdentityFromCert(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	if v := strings.TrimSpace(cert.Subject.CommonName); v != "" {
		return v
	}
	if len(cert.URIs) > 0 {
		return strings.TrimSpace(cert.URIs[0].String())
	}
	if len(cert.DNSNames) > 0 {
		return strings.TrimSpace(cert.DNSNames[0])
	}
	return ""
}

func (s *Service) trackPeer(p *peer) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	s.peers[p.id] = p
}

func (s *Service) untrackPeer(p *peer) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	delete(s.peers, p.id)
}

func (s *Service) snapshotPeers() []*peer {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	out := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

func (s *Service) closeAllPeers() {
	for _, p := range s.snapshotPeers() {
		_ = p.m.Close()
	}
}

// Peers returns the ids of connected clients in ascending order.
func (s *Service) Peers() []uint64 {
	peers := s.snapshotPeers()
	ids := make([]uint64, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.id)
	}
	slices.Sort(ids)
	return ids
}

// Broadcast sends a signal to every connected client.
func (s *Service) Broadcast(path, method string, data []byte) {
	for _, p := range s.snapshotPeers() {
		outbound{to: p, path: path, method: method, data: data}.send()
	}
}

// RunLogicStep broadcasts logicStep [delta_s, elapsed_s] on "/" every interval
// until ctx is done.
func (s *Service) RunLogicStep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	start := time.Now()
	last := start
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			data, err := payload.Args(now.Sub(last).Seconds(), now.Sub(start).Seconds())
			last = now
			if err != nil {
				logs.Errf("fakeserver.RunLogicStep encode err=%v", err)
				continue
			}
			s.Broadcast("/", "logicStep", data)
		}
	}
}

func (s *Service) record(peerID uint64, f frame.Frame) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	if len(s.received) >= maxRecorded {
		s.received = slices.Delete(s.received, 0, len(s.received)-maxRecorded+1)
	}
	s.received = append(s.received, Received{Peer: peerID, Frame: f})
}

// Received returns every recorded inbound frame in arrival order.
func (s *Service) Received() []Received {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	return slices.Clone(s.received)
}

// Signals returns the recorded signals named method.
func (s *Service) Signals(method string) []wire.Signal {
	var out []wire.Signal
	for _, r := range s.Received() {
		sig, err := wire.DecodeSignal(r.Frame)
		if err != nil || sig.Method != method {
			continue
		}
		out = append(out, sig)
	}
	return out
}
