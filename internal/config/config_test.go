package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "probe.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
host = "broker.internal"
port = 5671
connect_timeout = "3s"
frame_max = 65536

[tls]
enabled = true
cert_file = "client.pem"
key_file = "client.key"
ca_file = "ca.pem"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "broker.internal" || cfg.Port != 5671 {
		t.Errorf("address = %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.ConnectTimeout.Duration != 3*time.Second {
		t.Errorf("connect_timeout = %v, want 3s", cfg.ConnectTimeout.Duration)
	}
	if cfg.FrameMax != 65536 {
		t.Errorf("frame_max = %d", cfg.FrameMax)
	}
	if !cfg.TLS.Enabled || cfg.TLS.CertFile != "client.pem" {
		t.Errorf("tls section = %+v", cfg.TLS)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 5672 {
		t.Errorf("defaults = %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.ConnectTimeout.Duration != 10*time.Second {
		t.Errorf("default connect_timeout = %v", cfg.ConnectTimeout.Duration)
	}
}

func TestLoadInvalid(t *testing.T) {
	cases := map[string]string{
		"port out of range": `port = 70000`,
		"negative frame":    `frame_max = -1`,
		"cert without key": `[tls]
cert_file = "client.pem"`,
		"bad duration": `connect_timeout = "soon"`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}
