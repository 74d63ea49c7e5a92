package stubidp

import (
	"time"

	"github.com/myeganeh2876/MomentumPasskeyTest/internal/config"
)

// Options payload encodings
const (
	EncodingObject  = "object"  // Bare options object
	EncodingString  = "string"  // Options object serialized into a JSON string
	EncodingWrapped = "wrapped" // {"publicKey": options}
)

// Config controls the development identity service
type Config struct {
	Addr            string        `env:"PASSKEY_STUB_ADDR"             envDefault:":8000"`
	RPID            string        `env:"PASSKEY_STUB_RP_ID"            envDefault:"localhost"`
	RPDisplayName   string        `env:"PASSKEY_STUB_RP_NAME"          envDefault:"Momentum Passkey Demo"`
	RPOrigins       []string      `env:"PASSKEY_STUB_RP_ORIGINS"       envDefault:"http://localhost:3000" envSeparator:","`
	Secret          string        `env:"PASSKEY_STUB_SECRET"           envDefault:"development-secret"`
	OTPCode         string        `env:"PASSKEY_STUB_OTP_CODE"         envDefault:"123456"`
	CodeTTL         time.Duration `env:"PASSKEY_STUB_CODE_TTL"         envDefault:"5m"`
	AccessTTL       time.Duration `env:"PASSKEY_STUB_ACCESS_TTL"       envDefault:"5m"`
	RefreshTTL      time.Duration `env:"PASSKEY_STUB_REFRESH_TTL"      envDefault:"120h"`
	OptionsEncoding string        `env:"PASSKEY_STUB_OPTIONS_ENCODING" envDefault:"object"`
	CSRFCookie      string        `env:"PASSKEY_STUB_CSRF_COOKIE"      envDefault:"csrftoken"`
	CSRFHeader      string        `env:"PASSKEY_STUB_CSRF_HEADER"      envDefault:"X-CSRFToken"`
	RedisURL        string        `env:"PASSKEY_STUB_REDIS_URL"`
	LogLevel        string        `env:"PASSKEY_STUB_LOG_LEVEL"        envDefault:"info"`
	LogDevelopment  bool          `env:"PASSKEY_STUB_LOG_DEVELOPMENT"  envDefault:"true"`
}

// LoadConfig reads the stub configuration from the environment
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.RPID == "" {
		c.RPID = "localhost"
	}
	if c.RPDisplayName == "" {
		c.RPDisplayName = "Momentum Passkey Demo"
	}
	if len(c.RPOrigins) == 0 {
		c.RPOrigins = []string{"http://localhost:3000"}
	}
	if c.Secret == "" {
		c.Secret = "development-secret"
	}
	if c.OTPCode == "" {
		c.OTPCode = "123456"
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = 5 * time.Minute
	}
	if c.AccessTTL <= 0 {
		c.AccessTTL = 5 * time.Minute
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 5 * 24 * time.Hour // 5 days
	}
	if c.OptionsEncoding == "" {
		c.OptionsEncoding = EncodingObject
	}
	if c.CSRFCookie == "" {
		c.CSRFCookie = "csrftoken"
	}
	if c.CSRFHeader == "" {
		c.CSRFHeader = "X-CSRFToken"
	}
	return c
}
