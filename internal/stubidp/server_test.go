package stubidp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/myeganeh2876/MomentumPasskeyTest/adapters/authenticator"
	"github.com/myeganeh2876/MomentumPasskeyTest/adapters/challenge"
	"github.com/myeganeh2876/MomentumPasskeyTest/adapters/store"
	"github.com/myeganeh2876/MomentumPasskeyTest/adapters/tokenizer"
)

const testOrigin = "http://localhost:3000"

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	t      *testing.T
	server *Server
	url    string
	client *http.Client
	csrf   string
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := Config{RPID: "localhost", RPOrigins: []string{testOrigin}}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg, store.NewMemoryStore(), zaptest.NewLogger(t))
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	h := &harness{t: t, server: s, url: srv.URL, client: &http.Client{Jar: jar}}

	status, _ := h.do(http.MethodGet, "/auth/csrf/", nil, "")
	require.Equal(t, http.StatusNoContent, status)
	base, _ := url.Parse(srv.URL)
	for _, c := range jar.Cookies(base) {
		if c.Name == "csrftoken" {
			h.csrf = c.Value
		}
	}
	require.NotEmpty(t, h.csrf)
	return h
}

func (h *harness) do(method, path string, body any, token string) (int, []byte) {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.url+path, reader)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	if h.csrf != "" {
		req.Header.Set("X-CSRFToken", h.csrf)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.client.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp.StatusCode, data
}

func (h *harness) login(phone, deviceID string) loginResponse {
	h.t.Helper()
	status, _ := h.do(http.MethodPost, "/auth/phone/login/", gin.H{"phone": phone, "country": "US"}, "")
	require.Equal(h.t, http.StatusOK, status)

	status, body := h.do(http.MethodPost, "/auth/phone/verify/", gin.H{
		"phone":      phone,
		"code":       "123456",
		"country":    "US",
		"device_id":  deviceID,
		"user_agent": "test-agent",
	}, "")
	require.Equal(h.t, http.StatusOK, status, string(body))

	var resp loginResponse
	require.NoError(h.t, json.Unmarshal(body, &resp))
	return resp
}

func TestNew_RejectsUnknownEncoding(t *testing.T) {
	_, err := New(Config{OptionsEncoding: "xml"}, store.NewMemoryStore(), nil)
	assert.Error(t, err)
}

func TestCSRF_RequiredOnUnsafeMethods(t *testing.T) {
	h := newHarness(t, nil)
	token := h.csrf

	h.csrf = ""
	status, _ := h.do(http.MethodPost, "/auth/phone/login/", gin.H{"phone": "+15550001111"}, "")
	assert.Equal(t, http.StatusForbidden, status)

	h.csrf = "something-else"
	status, _ = h.do(http.MethodPost, "/auth/phone/login/", gin.H{"phone": "+15550001111"}, "")
	assert.Equal(t, http.StatusForbidden, status)

	h.csrf = token
	status, _ = h.do(http.MethodPost, "/auth/phone/login/", gin.H{"phone": "+15550001111"}, "")
	assert.Equal(t, http.StatusOK, status)
}

func TestPhoneVerify(t *testing.T) {
	h := newHarness(t, nil)

	status, _ := h.do(http.MethodPost, "/auth/phone/verify/", gin.H{"phone": "+15550001111", "code": "123456"}, "")
	assert.Equal(t, http.StatusBadRequest, status, "no code was requested")

	status, _ = h.do(http.MethodPost, "/auth/phone/login/", gin.H{"phone": "+15550001111"}, "")
	require.Equal(t, http.StatusOK, status)
	status, _ = h.do(http.MethodPost, "/auth/phone/verify/", gin.H{"phone": "+15550001111", "code": "000000"}, "")
	assert.Equal(t, http.StatusBadRequest, status)

	resp := h.login("+15550001111", "device-1")
	assert.NotEmpty(t, resp.Access)
	assert.NotEmpty(t, resp.Refresh)
	assert.Equal(t, "device-1", resp.Device)
	assert.Equal(t, "+15550001111", resp.User.Phone)
	assert.Equal(t, "US", resp.User.Country)

	claims, err := tokenizer.NewHMACTokenizer([]byte("development-secret")).Parse(resp.Access, tokenizer.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "device-1", claims.DeviceID)

	// Codes are single use
	status, _ = h.do(http.MethodPost, "/auth/phone/verify/", gin.H{"phone": "+15550001111", "code": "123456"}, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRefresh_RotatesAndRevokes(t *testing.T) {
	h := newHarness(t, nil)
	session := h.login("+15550001111", "device-1")

	status, body := h.do(http.MethodPost, "/auth/refresh/", gin.H{"refresh": session.Refresh}, "")
	require.Equal(t, http.StatusOK, status)
	var rotated struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	require.NoError(t, json.Unmarshal(body, &rotated))
	assert.NotEmpty(t, rotated.Access)
	assert.NotEqual(t, session.Refresh, rotated.Refresh)

	status, _ = h.do(http.MethodPost, "/auth/refresh/", gin.H{"refresh": session.Refresh}, "")
	assert.Equal(t, http.StatusUnauthorized, status, "old refresh token is revoked")

	status, _ = h.do(http.MethodPost, "/auth/refresh/", gin.H{"refresh": session.Access}, "")
	assert.Equal(t, http.StatusUnauthorized, status, "access tokens cannot refresh")

	status, _ = h.do(http.MethodGet, "/devices/", nil, rotated.Access)
	assert.Equal(t, http.StatusOK, status)
}

func TestProtectedRoutes_RequireBearer(t *testing.T) {
	h := newHarness(t, nil)
	session := h.login("+15550001111", "device-1")

	status, _ := h.do(http.MethodGet, "/devices/", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = h.do(http.MethodGet, "/devices/", nil, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = h.do(http.MethodGet, "/devices/", nil, session.Refresh)
	assert.Equal(t, http.StatusUnauthorized, status, "refresh tokens are not bearer tokens")
}

func TestDevices(t *testing.T) {
	h := newHarness(t, nil)
	first := h.login("+15550001111", "device-1")
	second := h.login("+15550001111", "device-2")

	status, body := h.do(http.MethodGet, "/devices/", nil, first.Access)
	require.Equal(t, http.StatusOK, status)
	var devices []struct {
		ID       string `json:"id"`
		FCMToken string `json:"fcm_token"`
		Current  bool   `json:"is_current"`
	}
	require.NoError(t, json.Unmarshal(body, &devices))
	require.Len(t, devices, 2)
	assert.Equal(t, "device-2", devices[0].ID)
	assert.False(t, devices[0].Current)
	assert.True(t, devices[1].Current)

	status, _ = h.do(http.MethodPatch, "/devices/device-1/", gin.H{"fcm_token": "push-1"}, first.Access)
	require.Equal(t, http.StatusOK, status)
	status, body = h.do(http.MethodGet, "/devices/device-1/", nil, first.Access)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"fcm_token":"push-1"`)

	status, _ = h.do(http.MethodGet, "/devices/unknown/", nil, first.Access)
	assert.Equal(t, http.StatusNotFound, status)

	// Logging out a device ends its session
	status, _ = h.do(http.MethodDelete, "/devices/device-2/", nil, first.Access)
	require.Equal(t, http.StatusNoContent, status)
	status, _ = h.do(http.MethodGet, "/devices/", nil, second.Access)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = h.do(http.MethodPost, "/auth/refresh/", gin.H{"refresh": second.Refresh}, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = h.do(http.MethodPost, "/devices/logout/all/", nil, first.Access)
	require.Equal(t, http.StatusNoContent, status)
	status, _ = h.do(http.MethodGet, "/devices/", nil, first.Access)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAuthenticationOptions(t *testing.T) {
	h := newHarness(t, nil)

	status, _ := h.do(http.MethodPost, "/auth/passkey/authenticate/options/", gin.H{"phone": "+15550009999"}, "")
	assert.Equal(t, http.StatusBadRequest, status, "unknown phone has no passkeys")

	status, body := h.do(http.MethodPost, "/auth/passkey/authenticate/options/", gin.H{}, "")
	require.Equal(t, http.StatusOK, status)
	ch, err := challenge.ParseAuthentication(body)
	require.NoError(t, err)
	assert.Equal(t, "localhost", ch.Options.RelyingPartyID)
	assert.Empty(t, ch.Options.AllowedCredentials)
}

func TestRegistrationOptions_Encodings(t *testing.T) {
	tests := []struct {
		encoding string
		check    func(t *testing.T, body []byte)
	}{
		{EncodingObject, func(t *testing.T, body []byte) {
			assert.Contains(t, string(body), `"challenge"`)
			assert.NotContains(t, string(body), `"publicKey"`)
		}},
		{EncodingString, func(t *testing.T, body []byte) {
			assert.Equal(t, byte('"'), body[0])
		}},
		{EncodingWrapped, func(t *testing.T, body []byte) {
			assert.Contains(t, string(body), `"publicKey"`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			h := newHarness(t, func(c *Config) { c.OptionsEncoding = tt.encoding })
			session := h.login("+15550001111", "device-1")

			status, body := h.do(http.MethodPost, "/auth/passkey/register/options/", gin.H{"name": "Laptop"}, session.Access)
			require.Equal(t, http.StatusOK, status)
			tt.check(t, body)

			ch, err := challenge.ParseRegistration(body)
			require.NoError(t, err)
			assert.Equal(t, "localhost", ch.Options.RelyingParty.ID)
			assert.Equal(t, "+15550001111", ch.Options.User.Name)
		})
	}
}

func TestPasskeyCeremonies(t *testing.T) {
	h := newHarness(t, nil)
	session := h.login("+15550001111", "device-1")
	virtual := authenticator.NewVirtual(testOrigin, store.NewMemoryStore())
	ctx := context.Background()

	// The trigger carries registration options while the user has no passkey
	status, body := h.do(http.MethodGet, "/auth/passkey/register/trigger/", nil, session.Access)
	require.Equal(t, http.StatusOK, status)
	var trigger struct {
		HasPasskeys bool            `json:"has_passkeys"`
		Options     json.RawMessage `json:"options"`
	}
	require.NoError(t, json.Unmarshal(body, &trigger))
	require.False(t, trigger.HasPasskeys)

	reg, err := challenge.ParseRegistration(trigger.Options)
	require.NoError(t, err)
	attestation, err := virtual.Create(ctx, reg)
	require.NoError(t, err)

	status, body = h.do(http.MethodPost, "/auth/passkey/register/verify/", gin.H{
		"credential_id":      attestation.CredentialID,
		"raw_id":             b64(attestation.RawID),
		"client_data_json":   b64(attestation.ClientDataJSON),
		"attestation_object": b64(attestation.AttestationObject),
		"name":               "Laptop",
	}, session.Access)
	require.Equal(t, http.StatusCreated, status, string(body))
	assert.Contains(t, string(body), `"name":"Laptop"`)

	status, body = h.do(http.MethodGet, "/auth/passkey/register/trigger/", nil, session.Access)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"has_passkeys":true}`, string(body))

	// Phone-bound login lists the credential
	status, body = h.do(http.MethodPost, "/auth/passkey/authenticate/options/", gin.H{"phone": "+15550001111"}, "")
	require.Equal(t, http.StatusOK, status)
	auth, err := challenge.ParseAuthentication(body)
	require.NoError(t, err)
	require.Len(t, auth.Options.AllowedCredentials, 1)

	assertion, err := virtual.Get(ctx, auth)
	require.NoError(t, err)
	handle := b64(assertion.UserHandle)
	status, body = h.do(http.MethodPost, "/auth/passkey/authenticate/verify/", gin.H{
		"credential_id":      assertion.CredentialID,
		"client_data_json":   b64(assertion.ClientDataJSON),
		"authenticator_data": b64(assertion.AuthenticatorData),
		"signature":          b64(assertion.Signature),
		"user_handle":        handle,
		"device_id":          "device-2",
	}, "")
	require.Equal(t, http.StatusOK, status, string(body))
	var login loginResponse
	require.NoError(t, json.Unmarshal(body, &login))
	assert.Equal(t, "device-2", login.Device)

	// Replaying the same assertion fails: the challenge is consumed
	status, _ = h.do(http.MethodPost, "/auth/passkey/authenticate/verify/", gin.H{
		"credential_id":      assertion.CredentialID,
		"client_data_json":   b64(assertion.ClientDataJSON),
		"authenticator_data": b64(assertion.AuthenticatorData),
		"signature":          b64(assertion.Signature),
		"user_handle":        handle,
	}, "")
	assert.Equal(t, http.StatusBadRequest, status)

	// Discoverable login resolves the user from the handle
	status, body = h.do(http.MethodPost, "/auth/passkey/authenticate/options/", gin.H{}, "")
	require.Equal(t, http.StatusOK, status)
	auth, err = challenge.ParseAuthentication(body)
	require.NoError(t, err)
	assertion, err = virtual.Get(ctx, auth)
	require.NoError(t, err)
	status, body = h.do(http.MethodPost, "/auth/passkey/authenticate/verify/", gin.H{
		"credential_id":      assertion.CredentialID,
		"client_data_json":   b64(assertion.ClientDataJSON),
		"authenticator_data": b64(assertion.AuthenticatorData),
		"signature":          b64(assertion.Signature),
		"user_handle":        b64(assertion.UserHandle),
	}, "")
	require.Equal(t, http.StatusOK, status, string(body))

	// Credentials can be listed and deleted
	status, body = h.do(http.MethodGet, "/auth/passkey/credentials/", nil, login.Access)
	require.Equal(t, http.StatusOK, status)
	var credentials []struct {
		ID           string  `json:"id"`
		CredentialID string  `json:"credential_id"`
		LastUsedAt   *string `json:"last_used_at"`
	}
	require.NoError(t, json.Unmarshal(body, &credentials))
	require.Len(t, credentials, 1)
	assert.Equal(t, attestation.CredentialID, credentials[0].CredentialID)
	assert.NotNil(t, credentials[0].LastUsedAt)

	status, _ = h.do(http.MethodDelete, "/auth/passkey/credentials/"+credentials[0].ID+"/", nil, login.Access)
	require.Equal(t, http.StatusNoContent, status)
	status, _ = h.do(http.MethodDelete, "/auth/passkey/credentials/"+credentials[0].ID+"/", nil, login.Access)
	assert.Equal(t, http.StatusNotFound, status)
}

func b64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
