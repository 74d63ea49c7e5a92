// Package config loads client configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Event sinks
const (
	EventsNone      = "none"
	EventsGoChannel = "gochannel"
	EventsRedis     = "redis"
)

// Config controls the passkey client.
type Config struct {
	APIURL      string        `env:"PASSKEY_API_URL"      envDefault:"http://localhost:8000"`
	Origin      string        `env:"PASSKEY_ORIGIN"       envDefault:"http://localhost:3000"`
	UserAgent   string        `env:"PASSKEY_USER_AGENT"   envDefault:"momentum-passkey-client/1.0"`
	HTTPTimeout time.Duration `env:"PASSKEY_HTTP_TIMEOUT" envDefault:"30s"`

	CSRFCookie    string `env:"PASSKEY_CSRF_COOKIE"     envDefault:"csrftoken"`
	CSRFHeader    string `env:"PASSKEY_CSRF_HEADER"     envDefault:"X-CSRFToken"`
	CSRFPrimePath string `env:"PASSKEY_CSRF_PRIME_PATH" envDefault:"/auth/csrf/"`

	Store     string `env:"PASSKEY_STORE"      envDefault:"sqlite"`
	StatePath string `env:"PASSKEY_STATE_PATH" envDefault:"passkey-client.db"`
	Namespace string `env:"PASSKEY_NAMESPACE"  envDefault:"default"`
	RedisURL  string `env:"PASSKEY_REDIS_URL"  envDefault:"redis://localhost:6379/0"`
	Events    string `env:"PASSKEY_EVENTS"     envDefault:"none"`

	CodeRequestInterval time.Duration `env:"PASSKEY_CODE_REQUEST_INTERVAL" envDefault:"30s"`
	CodeRequestBurst    int           `env:"PASSKEY_CODE_REQUEST_BURST"    envDefault:"3"`

	EnrollAfterLogin  bool          `env:"PASSKEY_ENROLL_AFTER_LOGIN" envDefault:"true"`
	EnrollmentName    string        `env:"PASSKEY_ENROLLMENT_NAME"    envDefault:"Momentum client"`
	EnrollmentTimeout time.Duration `env:"PASSKEY_ENROLLMENT_TIMEOUT" envDefault:"2m"`

	LogLevel       string `env:"PASSKEY_LOG_LEVEL"       envDefault:"info"`
	LogDevelopment bool   `env:"PASSKEY_LOG_DEVELOPMENT" envDefault:"false"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load returns the validated client configuration
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env parsing cannot
func (c Config) Validate() error {
	for name, raw := range map[string]string{"PASSKEY_API_URL": c.APIURL, "PASSKEY_ORIGIN": c.Origin} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}
	switch c.Store {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("PASSKEY_STORE must be one of memory, sqlite, redis, got %q", c.Store)
	}
	switch c.Events {
	case EventsNone, EventsGoChannel, EventsRedis:
	default:
		return fmt.Errorf("PASSKEY_EVENTS must be one of none, gochannel, redis, got %q", c.Events)
	}
	if c.CodeRequestBurst < 1 {
		return fmt.Errorf("PASSKEY_CODE_REQUEST_BURST must be positive, got %d", c.CodeRequestBurst)
	}
	return nil
}
