package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/minus-twelve/ledgerauth"
	"github.com/minus-twelve/ledgerauth/internal/devidp"
)

type Config struct {
	ledgerauth.Config `yaml:",inline"`

	Server ServerConfig `yaml:"server" envPrefix:"SERVER_"`
	Log    LogConfig    `yaml:"log" envPrefix:"LOG_"`

	// DevUsers are served by the built-in development identity provider.
	DevUsers []devidp.User `yaml:"dev_users"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

func DefaultConfig() Config {
	return Config{
		Config: ledgerauth.DefaultConfig(),
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig reads path (optional) and the environment on top of the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if err := ledgerauth.LoadInto(path, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.Server.Addr == "" {
		return Config{}, fmt.Errorf("%w: server.addr is required", ledgerauth.ErrInvalidConfig)
	}
	if _, err := parseLevel(cfg.Log.Level); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NewLogger builds the process logger described by cfg.
func NewLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("%w: unknown log.format %q", ledgerauth.ErrInvalidConfig, cfg.Format)
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log.level: %w", ledgerauth.ErrInvalidConfig, err)
	}
	return level, nil
}
