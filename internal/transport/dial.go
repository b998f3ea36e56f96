package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/fusion/internal/auth"
	logs "github.com/danmuck/fusion/internal/logging"
	"github.com/danmuck/fusion/internal/protocol/session"
	"github.com/gorilla/websocket"
)

// Endpoint is a parsed connection target.
type Endpoint struct {
	Scheme string
	// Target is a socket path for unix, host:port for tcp/tls, a URL for ws/wss.
	Target string
}

func (e Endpoint) String() string {
	if e.Scheme == "ws" || e.Scheme == "wss" {
		return e.Target
	}
	return e.Scheme + "://" + e.Target
}

// ParseEndpoint accepts unix:///path, tcp://host:port, tls://host:port,
// ws://host/path, wss://host/path, or a bare socket path.
func ParseEndpoint(address string) (Endpoint, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Endpoint{}, ErrAddressRequired
	}
	if !strings.Contains(address, "://") {
		return Endpoint{Scheme: "unix", Target: address}, nil
	}
	u, err := url.Parse(address)
	if err != nil {
		return Endpoint{}, fmt.Errorf("transport: parse address %q: %w", address, err)
	}
	switch u.Scheme {
	case "unix":
		path := u.Path
		if u.Host != "" {
			path = u.Host + path
		}
		if path == "" {
			return Endpoint{}, fmt.Errorf("transport: unix address %q has no path", address)
		}
		return Endpoint{Scheme: "unix", Target: path}, nil
	case "tcp", "tls":
		if u.Host == "" {
			return Endpoint{}, fmt.Errorf("transport: %s address %q has no host", u.Scheme, address)
		}
		return Endpoint{Scheme: u.Scheme, Target: u.Host}, nil
	case "ws", "wss":
		return Endpoint{Scheme: u.Scheme, Target: u.String()}, nil
	default:
		return Endpoint{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// Dialer opens transports with retry and backoff.
type Dialer struct {
	Session session.Config
	// MaxAttempts <= 0 retries until ctx is done.
	MaxAttempts int
	rng         *rand.Rand
}

func NewDialer(cfg session.Config, maxAttempts int) *Dialer {
	return &Dialer{
		Session:     cfg.WithDefaults(),
		MaxAttempts: maxAttempts,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Dial connects to address, retrying failed attempts with backoff.
func (d *Dialer) Dial(ctx context.Context, address string) (Transport, error) {
	ep, err := ParseEndpoint(address)
	if err != nil {
		return nil, err
	}
	var attempt int
	for {
		attempt++
		t, err := d.dialOnce(ctx, ep)
		if err == nil {
			logs.Debugf("transport.Dial connected endpoint=%q attempt=%d", ep.String(), attempt)
			return t, nil
		}
		logs.Warnf("transport.Dial attempt=%d endpoint=%q err=%v", attempt, ep.String(), err)
		if !d.shouldRetry(attempt) {
			return nil, err
		}
		if err := d.Session.Backoff.Wait(ctx, attempt, d.rng); err != nil {
			return nil, err
		}
	}
}

func (d *Dialer) dialOnce(ctx context.Context, ep Endpoint) (Transport, error) {
	switch ep.Scheme {
	case "unix":
		nd := net.Dialer{Timeout: d.Session.ConnectTimeout}
		conn, err := nd.DialContext(ctx, "unix", ep.Target)
		if err != nil {
			return nil, err
		}
		return NewStream(conn, d.Session.WriteTimeout), nil
	case "tcp", "tls":
		return d.dialTCP(ctx, ep)
	case "ws", "wss":
		return d.dialWebsocket(ctx, ep)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, ep.Scheme)
	}
}

func (d *Dialer) dialTCP(ctx context.Context, ep Endpoint) (Transport, error) {
	cfg := d.Session
	if ep.Scheme == "tls" {
		cfg.TLS.Enabled = true
	}
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	nd := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := nd.DialContext(ctx, "tcp", ep.Target)
	if err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return NewStream(rawConn, cfg.WriteTimeout), nil
	}

	host, _, err := net.SplitHostPort(ep.Target)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	tlsCfg, err := cfg.ClientTLSConfig(host)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return NewStream(conn, cfg.WriteTimeout), nil
}

func (d *Dialer) dialWebsocket(ctx context.Context, ep Endpoint) (Transport, error) {
	cfg := d.Session
	if ep.Scheme == "wss" {
		cfg.TLS.Enabled = true
	}
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	wsDialer := websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout}
	if cfg.TLS.Enabled {
		u, err := url.Parse(ep.Target)
		if err != nil {
			return nil, err
		}
		tlsCfg, err := cfg.ClientTLSConfig(u.Hostname())
		if err != nil {
			return nil, err
		}
		wsDialer.TLSClientConfig = tlsCfg
	}
	header := http.Header{}
	auth.BearerHeader(header, cfg.AuthToken)
	conn, resp, err := wsDialer.DialContext(ctx, ep.Target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return NewWebsocket(conn, cfg.WriteTimeout), nil
}

func (d *Dialer) shouldRetry(attempt int) bool {
	if d.MaxAttempts <= 0 {
		return true
	}
	return attempt < d.MaxAttempts
}
