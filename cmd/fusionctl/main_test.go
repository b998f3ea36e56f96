package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/fusion/internal/protocol/payload"
	"github.com/danmuck/fusion/internal/testutil/testlog"
)

func TestParseMaskKeepsScalarTypes(t *testing.T) {
	testlog.Start(t)
	m, err := parseMask([]string{"test=true", "count=3", "ratio=0.5", "name = left hand"})
	if err != nil {
		t.Fatalf("parse mask: %v", err)
	}
	if m["test"] != true || m["count"] != int64(3) || m["ratio"] != 0.5 || m["name"] != "left hand" {
		t.Fatalf("unexpected mask: %#v", m)
	}

	raw, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := payload.ValidateMap(raw); err != nil {
		t.Fatalf("encoded mask is not a map: %v", err)
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseMask([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestConfigInitThenValidate(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{"client", "server"} {
		path := filepath.Join(t.TempDir(), kind+".toml")

		var out bytes.Buffer
		root := newRootCmd()
		root.SetOut(&out)
		root.SetArgs([]string{"config", "init", "--kind", kind, "--output", path})
		if err := root.Execute(); err != nil {
			t.Fatalf("%s init: %v", kind, err)
		}

		root = newRootCmd()
		root.SetOut(&out)
		root.SetArgs([]string{"config", "validate", "--kind", kind, "--input", path})
		if err := root.Execute(); err != nil {
			t.Fatalf("%s validate: %v", kind, err)
		}
		if !strings.Contains(out.String(), "validated "+kind) {
			t.Fatalf("unexpected output: %q", out.String())
		}

		root = newRootCmd()
		root.SetOut(&out)
		root.SetArgs([]string{"config", "init", "--kind", kind, "--output", path})
		if err := root.Execute(); err == nil {
			t.Fatalf("%s init overwrote an existing file without --force", kind)
		}
	}
}

func TestClientConfigFlagOverrides(t *testing.T) {
	testlog.Start(t)
	opts := &rootOptions{address: "tcp://127.0.0.1:7000", metricsAddr: "127.0.0.1:0"}
	cfg, err := opts.clientConfig()
	if err != nil {
		t.Fatalf("client config: %v", err)
	}
	if cfg.Address != "tcp://127.0.0.1:7000" || cfg.MetricsAddr != "127.0.0.1:0" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}

	opts = &rootOptions{configPath: filepath.Join(t.TempDir(), "missing.toml")}
	if _, err := opts.clientConfig(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
