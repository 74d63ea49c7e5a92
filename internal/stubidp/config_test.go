package stubidp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Addr)
	assert.Equal(t, "localhost", cfg.RPID)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.RPOrigins)
	assert.Equal(t, EncodingObject, cfg.OptionsEncoding)
	assert.Equal(t, 120*time.Hour, cfg.RefreshTTL)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("PASSKEY_STUB_RP_ORIGINS", "http://localhost:3000,https://app.example.com")
	t.Setenv("PASSKEY_STUB_OPTIONS_ENCODING", EncodingString)
	t.Setenv("PASSKEY_STUB_ACCESS_TTL", "30s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:3000", "https://app.example.com"}, cfg.RPOrigins)
	assert.Equal(t, EncodingString, cfg.OptionsEncoding)
	assert.Equal(t, 30*time.Second, cfg.AccessTTL)
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, "123456", cfg.OTPCode)
	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 5*24*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, "csrftoken", cfg.CSRFCookie)
}
