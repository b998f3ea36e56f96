package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/fusion/internal/testutil/testlog"
)

func TestServerConfigAppliesOnlyChangedFlags(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "server.toml")
	body := "listen = \"tcp://127.0.0.1:7400\"\nlogic_step = \"20ms\"\nmetrics_addr = \"127.0.0.1:9464\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	opts := &options{}
	cmd := newRootCmd(opts)
	if err := cmd.ParseFlags([]string{"--config", path, "--websocket", "127.0.0.1:7401"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := opts.serverConfig(cmd)
	if err != nil {
		t.Fatalf("server config: %v", err)
	}
	if cfg.Listen != "tcp://127.0.0.1:7400" || cfg.LogicStep != 20*time.Millisecond {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.WebsocketAddr != "127.0.0.1:7401" || cfg.MetricsAddr != "127.0.0.1:9464" {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
}

func TestServerConfigRejectsNoEndpoints(t *testing.T) {
	testlog.Start(t)
	opts := &options{}
	cmd := newRootCmd(opts)
	if err := cmd.ParseFlags([]string{"--listen", ""}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := opts.serverConfig(cmd); err == nil {
		t.Fatalf("expected error when no listener is configured")
	}
}
