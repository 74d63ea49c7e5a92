package main

import (
	"bytes"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/myeganeh2876/MomentumPasskeyTest/adapters/store"
	"github.com/myeganeh2876/MomentumPasskeyTest/core"
	"github.com/myeganeh2876/MomentumPasskeyTest/internal/stubidp"
)

const testPhone = "+15550001111"

func setupEnv(t *testing.T) {
	t.Helper()
	stub, err := stubidp.New(stubidp.Config{
		RPID:      "localhost",
		RPOrigins: []string{"http://localhost:3000"},
	}, store.NewMemoryStore(), zaptest.NewLogger(t))
	require.NoError(t, err)
	srv := httptest.NewServer(stub.Handler())
	t.Cleanup(srv.Close)

	t.Setenv("PASSKEY_API_URL", srv.URL)
	t.Setenv("PASSKEY_ORIGIN", "http://localhost:3000")
	t.Setenv("PASSKEY_STORE", "sqlite")
	t.Setenv("PASSKEY_STATE_PATH", filepath.Join(t.TempDir(), "client.db"))
	t.Setenv("PASSKEY_EVENTS", "gochannel")
	t.Setenv("PASSKEY_LOG_LEVEL", "error")
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp(strings.NewReader(stdin))
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"passkey-client"}, args...))
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, "", append([]string{"--yes"}, args...)...)
	require.NoError(t, err)
	return out
}

func TestCLI_LoginLifecycle(t *testing.T) {
	setupEnv(t)

	assert.Contains(t, mustRun(t, "status"), "Not logged in")
	assert.Contains(t, mustRun(t, "request-code", testPhone), "Verification code sent")
	assert.Contains(t, mustRun(t, "verify-code", testPhone, "123456"), "Logged in as "+testPhone)

	// Enrollment ran after the code login and the keyring persisted across runs
	assert.Contains(t, mustRun(t, "credentials", "list"), "Momentum client")
	assert.Contains(t, mustRun(t, "status"), "Logged in")

	assert.Contains(t, mustRun(t, "logout"), "Logged out")
	assert.Contains(t, mustRun(t, "status"), "Not logged in")

	assert.Contains(t, mustRun(t, "passkey-login", testPhone), "Logged in as "+testPhone)
	assert.Contains(t, mustRun(t, "devices", "list"), "*")

	mustRun(t, "logout", "--all")
	assert.Contains(t, mustRun(t, "status"), "Not logged in")
}

func TestCLI_PasskeyLoginFallsBack(t *testing.T) {
	setupEnv(t)

	out := mustRun(t, "passkey-login", testPhone)
	assert.Contains(t, out, "Verification code sent to "+testPhone)
	assert.Contains(t, mustRun(t, "verify-code", testPhone, "123456"), "Logged in")
}

func TestCLI_DeclinedPrompt(t *testing.T) {
	setupEnv(t)
	t.Setenv("PASSKEY_ENROLL_AFTER_LOGIN", "false")

	mustRun(t, "request-code", testPhone)
	mustRun(t, "verify-code", testPhone, "123456")

	_, err := run(t, "n\n", "register-passkey")
	assert.ErrorIs(t, err, core.ErrCeremonyDeclined)

	out, err := run(t, "y\n", "register-passkey", "--name", "Laptop")
	require.NoError(t, err)
	assert.Contains(t, out, "Registered passkey Laptop")
}

func TestCLI_RequiresSession(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "", "--yes", "devices", "list")
	assert.ErrorIs(t, err, core.ErrNotAuthenticated)
}
