package backend

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pzverkov/quantum-auth/internal/constants"
	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/metrics"
)

// Config configures a backend server. It is usually loaded from YAML:
//
//	listen: "127.0.0.1:7420"
//	metrics_listen: "127.0.0.1:9420"
//	max_conns_per_ip: 16
//	handshake_rate: 50  # handshakes per second, 0 disables
//	handshake_burst: 10
//	max_recv_wait: 30s
//	handshake_timeout: 10s
//	seed: 42            # omit for hardware randomness
//	log:
//	  level: info
//	  format: json
type Config struct {
	Listen           string        `yaml:"listen"`
	MetricsListen    string        `yaml:"metrics_listen"`
	MaxConnsPerIP    int           `yaml:"max_conns_per_ip"`
	HandshakeRate    float64       `yaml:"handshake_rate"`
	HandshakeBurst   int           `yaml:"handshake_burst"`
	MaxRecvWait      time.Duration `yaml:"max_recv_wait"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	Seed             *uint64       `yaml:"seed"`
	Log              LogConfig     `yaml:"log"`
}

// LogConfig selects the backend log output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a loopback-only configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:           "127.0.0.1:7420",
		MaxConnsPerIP:    16,
		MaxRecvWait:      3 * constants.DefaultRecvTimeout,
		HandshakeTimeout: 10 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over the defaults and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen address is empty", qerrors.ErrInvalidConfig)
	}
	if c.MaxConnsPerIP < 0 {
		return fmt.Errorf("%w: max_conns_per_ip %d", qerrors.ErrInvalidConfig, c.MaxConnsPerIP)
	}
	if c.HandshakeRate < 0 || c.HandshakeBurst < 0 {
		return fmt.Errorf("%w: negative handshake rate limit", qerrors.ErrInvalidConfig)
	}
	if c.MaxRecvWait <= 0 {
		return fmt.Errorf("%w: max_recv_wait must be positive", qerrors.ErrInvalidConfig)
	}
	if c.HandshakeTimeout < 0 {
		return fmt.Errorf("%w: handshake_timeout %s", qerrors.ErrInvalidConfig, c.HandshakeTimeout)
	}
	if _, err := metrics.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %w", qerrors.ErrInvalidConfig, err)
	}
	if _, err := metrics.ParseFormat(c.Log.Format); err != nil {
		return fmt.Errorf("%w: %w", qerrors.ErrInvalidConfig, err)
	}
	return nil
}

// Logger builds the logger described by c.Log.
func (c *Config) Logger() *metrics.Logger {
	level, _ := metrics.ParseLevel(c.Log.Level)
	format, _ := metrics.ParseFormat(c.Log.Format)
	return metrics.NewLogger(
		metrics.WithOutput(os.Stderr),
		metrics.WithLevel(level),
		metrics.WithFormat(format),
		metrics.WithName("backend"),
	)
}
