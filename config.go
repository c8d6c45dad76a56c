package ledgerauth

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/minus-twelve/ledgerauth/types"
)

// EnvPrefix prefixes every environment variable read by LoadInto.
const EnvPrefix = "LEDGERAUTH_"

const EnvironmentDevelopment = "development"

type Config struct {
	Environment string `yaml:"environment" env:"ENVIRONMENT"`

	Store     types.BackendConfig `yaml:"store" envPrefix:"STORE_"`
	Session   SessionConfig       `yaml:"session" envPrefix:"SESSION_"`
	Cookie    CookieConfig        `yaml:"cookie" envPrefix:"COOKIE_"`
	RateLimit RateLimitConfig     `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Auth      AuthConfig          `yaml:"auth" envPrefix:"AUTH_"`
}

type SessionConfig struct {
	Duration         time.Duration `yaml:"duration" env:"DURATION"`
	RememberDuration time.Duration `yaml:"remember_duration" env:"REMEMBER_DURATION"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	MaxSessions      int           `yaml:"max_sessions" env:"MAX_SESSIONS"`
}

type CookieConfig struct {
	Name     string `yaml:"name" env:"NAME"`
	Path     string `yaml:"path" env:"PATH"`
	Domain   string `yaml:"domain" env:"DOMAIN"`
	SameSite string `yaml:"same_site" env:"SAME_SITE"`
}

type RateLimitConfig struct {
	MaxAttempts   int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	Window        time.Duration `yaml:"window" env:"WINDOW"`
	PruneInterval time.Duration `yaml:"prune_interval" env:"PRUNE_INTERVAL"`
}

type AuthConfig struct {
	LoginURL       string   `yaml:"login_url" env:"LOGIN_URL"`
	SuccessURL     string   `yaml:"success_url" env:"SUCCESS_URL"`
	BypassPrefixes []string `yaml:"bypass_prefixes" env:"BYPASS_PREFIXES" envSeparator:","`
	TrustedProxies []string `yaml:"trusted_proxies" env:"TRUSTED_PROXIES" envSeparator:","`
}

// DefaultBypassPrefixes are the public endpoints the auth middleware never
// resolves a session for.
var DefaultBypassPrefixes = []string{
	"/auth/login",
	"/auth/signup",
	"/auth/reset-password",
	"/auth/google",
	"/auth/callback",
	"/health",
	"/static/",
	"/favicon.ico",
}

func DefaultConfig() Config {
	return Config{
		Environment: "production",
		Store: types.BackendConfig{
			Type: BackendFile,
			File: types.FileConfig{Path: "data/sessions.json"},
			Redis: types.RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "sess:",
			},
		},
		Session: SessionConfig{
			Duration:         DefaultSessionDuration,
			RememberDuration: DefaultRememberDuration,
			CleanupInterval:  DefaultCleanupInterval,
		},
		Cookie: CookieConfig{
			Name:     DefaultCookieName,
			Path:     "/",
			SameSite: "lax",
		},
		RateLimit: RateLimitConfig{
			MaxAttempts:   DefaultMaxAttempts,
			Window:        DefaultRateWindow,
			PruneInterval: 5 * time.Minute,
		},
		Auth: AuthConfig{
			LoginURL:       "/auth/login",
			SuccessURL:     "/auth/login-success",
			BypassPrefixes: append([]string(nil), DefaultBypassPrefixes...),
		},
	}
}

// LoadInto overlays cfg with the YAML file at path (skipped when path is
// empty), then a .env file if present, then LEDGERAUTH_* environment
// variables. Values absent from every source keep what cfg already holds.
func LoadInto[T any](path string, cfg *T) error {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load .env: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// LoadConfig returns DefaultConfig overlaid by LoadInto and validated.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if err := LoadInto(path, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Session.Duration <= 0 {
		errs = append(errs, fmt.Errorf("%w: session.duration must be positive", ErrInvalidConfig))
	}
	if c.Session.RememberDuration <= 0 {
		errs = append(errs, fmt.Errorf("%w: session.remember_duration must be positive", ErrInvalidConfig))
	}
	if c.Session.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("%w: session.max_sessions must not be negative", ErrInvalidConfig))
	}
	if c.RateLimit.MaxAttempts <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, fmt.Errorf("%w: rate_limit needs positive max_attempts and window", ErrInvalidConfig))
	}
	if c.Cookie.Name == "" {
		errs = append(errs, fmt.Errorf("%w: cookie.name is required", ErrInvalidConfig))
	}
	if _, err := parseSameSite(c.Cookie.SameSite); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Type {
	case BackendFile, "":
		if c.Store.File.Path == "" {
			errs = append(errs, fmt.Errorf("%w: store.file.path is required", ErrInvalidConfig))
		}
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("%w: store.redis.addr is required", ErrInvalidConfig))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("%w: unknown store.type %q", ErrInvalidConfig, c.Store.Type))
	}
	return errors.Join(errs...)
}

func (c Config) IsDevelopment() bool {
	return c.Environment == EnvironmentDevelopment
}

// ManagerOptions translates the session section into Manager options.
func (c Config) ManagerOptions(logger *slog.Logger) []ManagerOption {
	return []ManagerOption{
		WithLogger(logger),
		WithSessionDuration(c.Session.Duration),
		WithCleanupInterval(c.Session.CleanupInterval),
		WithMaxSessions(c.Session.MaxSessions),
	}
}

// RateLimiterOptions translates the rate_limit section.
func (c Config) RateLimiterOptions() []RateLimiterOption {
	return []RateLimiterOption{
		WithMaxAttempts(c.RateLimit.MaxAttempts),
		WithWindow(c.RateLimit.Window),
	}
}

// CookieOptions builds the session cookie settings. Cookies are Secure
// everywhere except in development.
func (c Config) CookieOptions() CookieOptions {
	sameSite, _ := parseSameSite(c.Cookie.SameSite)
	return CookieOptions{
		Name:     c.Cookie.Name,
		Path:     c.Cookie.Path,
		Domain:   c.Cookie.Domain,
		Secure:   !c.IsDevelopment(),
		HttpOnly: true,
		SameSite: sameSite,
	}
}

func parseSameSite(v string) (http.SameSite, error) {
	switch v {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("%w: unknown cookie.same_site %q", ErrInvalidConfig, v)
	}
}
