package session

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrInvalidSecurityMode     = errors.New("session: invalid security mode")
	ErrTLSRequired             = errors.New("session: tls required")
	ErrMTLSRequired            = errors.New("session: mtls required")
	ErrTLSCertFileRequired     = errors.New("session: tls cert file required")
	ErrTLSKeyFileRequired      = errors.New("session: tls key file required")
	ErrTLSCAFileRequired       = errors.New("session: tls ca file required")
	ErrTLSInsecureSkipNotAllow = errors.New("session: insecure skip verify not allowed")
)

func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	if strings.TrimSpace(string(mode)) == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

// ValidateClientTransport checks the TLS policy for a dial to a remote (tcp or
// websocket) server. Unix sockets are local and skip it.
func (c Config) ValidateClientTransport() error {
	mode, err := c.layerPolicy()
	if err != nil {
		return err
	}
	if mode == SecurityModeProduction && c.TLS.InsecureSkipVerify {
		return ErrTLSInsecureSkipNotAllow
	}
	if c.TLS.Enabled && blank(c.TLS.CAFile) && !c.TLS.InsecureSkipVerify {
		return ErrTLSCAFileRequired
	}
	if c.TLS.Mutual {
		return c.TLS.keyPairSet()
	}
	return nil
}

// ClientTLSConfig builds the crypto/tls client config for host.
func (c Config) ClientTLSConfig(host string) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(c.TLS.ServerName)
	if serverName == "" {
		serverName = host
	}
	cfg.ServerName = serverName

	if caPath := strings.TrimSpace(c.TLS.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("session: parse tls ca bundle: %s", caPath)
		}
		cfg.RootCAs = pool
	}

	if c.TLS.Mutual {
		cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// ValidateServerTransport checks the TLS policy for a listener.
func (c Config) ValidateServerTransport() error {
	if _, err := c.layerPolicy(); err != nil {
		return err
	}
	if c.TLS.Enabled {
		if err := c.TLS.keyPairSet(); err != nil {
			return err
		}
	}
	if c.TLS.Mutual && blank(c.TLS.CAFile) {
		return ErrTLSCAFileRequired
	}
	return nil
}

// layerPolicy resolves the security mode and enforces the rules shared by
// both ends: production needs mutual TLS, and mutual TLS needs TLS.
func (c Config) layerPolicy() (SecurityMode, error) {
	mode := NormalizeSecurityMode(c.SecurityMode)
	if mode != SecurityModeDevelopment && mode != SecurityModeProduction {
		return "", fmt.Errorf("%w: %q", ErrInvalidSecurityMode, c.SecurityMode)
	}
	switch {
	case mode == SecurityModeProduction && !c.TLS.Enabled:
		return "", ErrTLSRequired
	case mode == SecurityModeProduction && !c.TLS.Mutual:
		return "", ErrMTLSRequired
	case c.TLS.Mutual && !c.TLS.Enabled:
		return "", ErrTLSRequired
	}
	return mode, nil
}

func (t TLSConfig) keyPairSet() error {
	if blank(t.CertFile) {
		return ErrTLSCertFileRequired
	}
	if blank(t.KeyFile) {
		return ErrTLSKeyFileRequired
	}
	return nil
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// ServerTLSConfig builds the listener TLS config. Client certificates are
// required in mutual or production mode.
func (c Config) ServerTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}

	if c.TLS.Mutual || NormalizeSecurityMode(c.SecurityMode) == SecurityModeProduction {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		caPEM, err := os.ReadFile(c.TLS.CAFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("session: parse tls ca bundle: %s", c.TLS.CAFile)
		}
		cfg.ClientCAs = pool
	}
	return cfg, nil
}
