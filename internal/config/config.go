// Package config loads client and reference-server settings from TOML and
// resolves the scene-graph server address.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/fusion/internal/protocol/session"
)

const (
	EnvAddress  = "FUSION_ADDRESS"
	EnvRuntime  = "XDG_RUNTIME_DIR"
	EnvInstance = "STARDUST_INSTANCE"
)

// ClientConfig controls how a client connects and how often it ticks.
type ClientConfig struct {
	// Address is unix:///path, tcp://host:port, tls://host:port, ws://... or
	// a bare socket path. Empty means discover.
	Address            string
	BasePrefixes       []string
	TickInterval       time.Duration
	MaxConnectAttempts int
	Session            session.Config
	// MetricsAddr enables the health/metrics sidecar when non-empty.
	MetricsAddr string
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		TickInterval:       time.Second / 60,
		MaxConnectAttempts: 1,
		Session:            session.DefaultConfig(),
	}
}

// ServerConfig controls the reference server.
type ServerConfig struct {
	Listen        string
	WebsocketAddr string
	LogicStep     time.Duration
	MetricsAddr   string
	CORSOrigins   []string
	// Session carries the write timeout and the TLS policy for tls:// listeners.
	Session session.Config
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Listen:    "unix:///tmp/fusion-fakeserver.sock",
		LogicStep: 0,
		Session:   session.DefaultConfig(),
	}
}

type clientFile struct {
	Address            string   `toml:"address"`
	BasePrefixes       []string `toml:"base_prefixes"`
	TickInterval       string   `toml:"tick_interval"`
	MaxConnectAttempts int      `toml:"max_connect_attempts"`
	ConnectTimeout     string   `toml:"connect_timeout"`
	WriteTimeout       string   `toml:"write_timeout"`
	SecurityMode       string   `toml:"security_mode"`
	MetricsAddr        string   `toml:"metrics_addr"`
	AuthToken          string   `toml:"auth_token"`
	TLS                tlsFile  `toml:"tls"`
}

type tlsFile struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	ServerName         string `toml:"server_name"`
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

func (t tlsFile) toSession() session.TLSConfig {
	return session.TLSConfig{
		Enabled:            t.Enabled,
		Mutual:             t.Mutual,
		ServerName:         strings.TrimSpace(t.ServerName),
		CAFile:             strings.TrimSpace(t.CAFile),
		CertFile:           strings.TrimSpace(t.CertFile),
		KeyFile:            strings.TrimSpace(t.KeyFile),
		InsecureSkipVerify: t.InsecureSkipVerify,
	}
}

type serverFile struct {
	Listen        string   `toml:"listen"`
	WebsocketAddr string   `toml:"websocket_addr"`
	LogicStep     string   `toml:"logic_step"`
	MetricsAddr   string   `toml:"metrics_addr"`
	CORSOrigins   []string `toml:"cors_origins"`
	WriteTimeout  string   `toml:"write_timeout"`
	SecurityMode  string   `toml:"security_mode"`
	AuthToken     string   `toml:"auth_token"`
	TLS           tlsFile  `toml:"tls"`
}

// LoadClientConfig overlays keys present in path onto DefaultClientConfig.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}

	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("base_prefixes") {
		cfg.BasePrefixes = normalizeList(raw.BasePrefixes)
	}
	if meta.IsDefined("tick_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.TickInterval))
		if err != nil {
			return ClientConfig{}, fmt.Errorf("parse tick_interval: %w", err)
		}
		cfg.TickInterval = d
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return ClientConfig{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.Session.ConnectTimeout = d
	}
	if meta.IsDefined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return ClientConfig{}, fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.Session.WriteTimeout = d
	}
	if meta.IsDefined("security_mode") {
		cfg.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("auth_token") {
		cfg.Session.AuthToken = strings.TrimSpace(raw.AuthToken)
	}
	if meta.IsDefined("tls") {
		cfg.Session.TLS = raw.TLS.toSession()
	}

	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

// LoadServerConfig overlays keys present in path onto DefaultServerConfig.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("load server config: %w", err)
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("websocket_addr") {
		cfg.WebsocketAddr = strings.TrimSpace(raw.WebsocketAddr)
	}
	if meta.IsDefined("logic_step") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.LogicStep))
		if err != nil {
			return ServerConfig{}, fmt.Errorf("parse logic_step: %w", err)
		}
		cfg.LogicStep = d
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return ServerConfig{}, fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.Session.WriteTimeout = d
	}
	if meta.IsDefined("security_mode") {
		cfg.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	if meta.IsDefined("auth_token") {
		cfg.Session.AuthToken = strings.TrimSpace(raw.AuthToken)
	}
	if meta.IsDefined("tls") {
		cfg.Session.TLS = raw.TLS.toSession()
	}
	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	if cfg.TickInterval <= 0 {
		return fmt.Errorf("client config tick_interval must be positive")
	}
	if cfg.MaxConnectAttempts < 0 {
		return fmt.Errorf("client config max_connect_attempts must be >= 0")
	}
	for i, prefix := range cfg.BasePrefixes {
		if !filepath.IsAbs(prefix) {
			return fmt.Errorf("base_prefixes[%d] %q is not absolute", i, prefix)
		}
	}
	mode := session.NormalizeSecurityMode(cfg.Session.SecurityMode)
	if mode != session.SecurityModeDevelopment && mode != session.SecurityModeProduction {
		return fmt.Errorf("client config security_mode %q is invalid", cfg.Session.SecurityMode)
	}
	return nil
}

func ValidateServerConfig(cfg ServerConfig) error {
	if strings.TrimSpace(cfg.Listen) == "" && strings.TrimSpace(cfg.WebsocketAddr) == "" {
		return fmt.Errorf("server config needs listen or websocket_addr")
	}
	if cfg.LogicStep < 0 {
		return fmt.Errorf("server config logic_step must be >= 0")
	}
	mode := session.NormalizeSecurityMode(cfg.Session.SecurityMode)
	if mode != session.SecurityModeDevelopment && mode != session.SecurityModeProduction {
		return fmt.Errorf("server config security_mode %q is invalid", cfg.Session.SecurityMode)
	}
	return nil
}

// ResolveAddress returns cfg.Address, else $FUSION_ADDRESS, else the
// per-session socket $XDG_RUNTIME_DIR/stardust-$STARDUST_INSTANCE.
func ResolveAddress(cfg ClientConfig) (string, error) {
	if addr := strings.TrimSpace(cfg.Address); addr != "" {
		return addr, nil
	}
	return DiscoverAddress(os.Getenv)
}

// DiscoverAddress resolves the server address from the environment.
func DiscoverAddress(getenv func(string) string) (string, error) {
	if addr := strings.TrimSpace(getenv(EnvAddress)); addr != "" {
		return addr, nil
	}
	runtimeDir := strings.TrimSpace(getenv(EnvRuntime))
	if runtimeDir == "" {
		return "", fmt.Errorf("no server address: set %s or %s", EnvAddress, EnvRuntime)
	}
	instance := 0
	if raw := strings.TrimSpace(getenv(EnvInstance)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return "", fmt.Errorf("invalid %s %q", EnvInstance, raw)
		}
		instance = n
	}
	return filepath.Join(runtimeDir, fmt.Sprintf("stardust-%d", instance)), nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
