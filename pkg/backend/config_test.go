package backend

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/metrics"
)

func TestParseConfig(t *testing.T) {
	data := []byte(`
listen: "0.0.0.0:9000"
metrics_listen: "127.0.0.1:9100"
max_conns_per_ip: 4
handshake_rate: 20
handshake_burst: 5
max_recv_wait: 2s
seed: 42
log:
  level: debug
  format: json
`)
	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" || cfg.MetricsListen != "127.0.0.1:9100" {
		t.Errorf("addresses = %q, %q", cfg.Listen, cfg.MetricsListen)
	}
	if cfg.MaxConnsPerIP != 4 || cfg.HandshakeRate != 20 || cfg.HandshakeBurst != 5 {
		t.Errorf("limits = %d, %v, %d", cfg.MaxConnsPerIP, cfg.HandshakeRate, cfg.HandshakeBurst)
	}
	if cfg.MaxRecvWait != 2*time.Second {
		t.Errorf("MaxRecvWait = %s", cfg.MaxRecvWait)
	}
	if cfg.Seed == nil || *cfg.Seed != 42 {
		t.Errorf("Seed = %v", cfg.Seed)
	}
	// Unset keys keep their defaults.
	if cfg.HandshakeTimeout != DefaultConfig().HandshakeTimeout {
		t.Errorf("HandshakeTimeout = %s, want default", cfg.HandshakeTimeout)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestParseConfigEmpty(t *testing.T) {
	cfg, err := ParseConfig(nil)
	if err != nil {
		t.Fatalf("ParseConfig(nil): %v", err)
	}
	def := DefaultConfig()
	if cfg.Listen != def.Listen || cfg.MaxRecvWait != def.MaxRecvWait || cfg.Seed != nil {
		t.Errorf("empty config = %+v, want defaults", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Listen = "" }},
		{"negative conns", func(c *Config) { c.MaxConnsPerIP = -1 }},
		{"negative rate", func(c *Config) { c.HandshakeRate = -1 }},
		{"negative burst", func(c *Config) { c.HandshakeBurst = -1 }},
		{"zero recv wait", func(c *Config) { c.MaxRecvWait = 0 }},
		{"negative handshake timeout", func(c *Config) { c.HandshakeTimeout = -time.Second }},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, qerrors.ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestParseConfigErrors(t *testing.T) {
	if _, err := ParseConfig([]byte("listen: [unclosed")); err == nil {
		t.Error("malformed YAML accepted")
	}
	if _, err := ParseConfig([]byte("max_recv_wait: 0s")); !errors.Is(err, qerrors.ErrInvalidConfig) {
		t.Errorf("invalid value error = %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.yaml")
	if err := os.WriteFile(path, []byte("listen: \"127.0.0.1:0\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != "127.0.0.1:0" {
		t.Errorf("Listen = %q", cfg.Listen)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestConfigLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.Level = "warn"
	if l := cfg.Logger(); l == nil {
		t.Fatal("Logger() returned nil")
	}
	if f, err := metrics.ParseFormat(cfg.Log.Format); err != nil || f != metrics.FormatText {
		t.Errorf("default format = %v, %v", f, err)
	}
}
