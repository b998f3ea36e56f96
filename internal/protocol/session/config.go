package session

import (
	"strings"
	"time"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig selects transport encryption for tcp and websocket connections.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	ServerName         string
	CAFile             string
	CertFile           string
	KeyFile            string
	InsecureSkipVerify bool
}

// Config defines connection defaults shared by every transport.
type Config struct {
	ConnectTimeout time.Duration
	// WriteTimeout bounds a single frame write. Reads block until the server
	// sends or the connection closes.
	WriteTimeout time.Duration
	SecurityMode SecurityMode
	TLS          TLSConfig
	Backoff      BackoffConfig
	// AuthToken is the bearer token presented on websocket upgrades. Servers
	// with a token reject upgrades that do not carry it.
	AuthToken string
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   5 * time.Second,
		SecurityMode:   SecurityModeDevelopment,
		Backoff: BackoffConfig{
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     2 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero durations and modes from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if strings.TrimSpace(string(c.SecurityMode)) == "" {
		c.SecurityMode = def.SecurityMode
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}
