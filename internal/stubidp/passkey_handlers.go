package stubidp

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"go.uber.org/zap"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
)

const defaultPasskeyName = "Passkey"

// credentialJSON is the PublicKeyCredential shape go-webauthn parses
type credentialJSON struct {
	ID       string `json:"id"`
	RawID    string `json:"rawId"`
	Type     string `json:"type"`
	Response any    `json:"response"`
}

type assertionResponseJSON struct {
	ClientDataJSON    string  `json:"clientDataJSON"`
	AuthenticatorData string  `json:"authenticatorData"`
	Signature         string  `json:"signature"`
	UserHandle        *string `json:"userHandle,omitempty"`
}

type attestationResponseJSON struct {
	ClientDataJSON    string `json:"clientDataJSON"`
	AttestationObject string `json:"attestationObject"`
}

// handleAuthenticationOptions starts a login ceremony, bound to the phone's user when given
func (s *Server) handleAuthenticationOptions(c *gin.Context) {
	var req struct {
		Phone string `json:"phone"`
	}
	if err := bindOptional(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	var (
		assertion *protocol.CredentialAssertion
		session   *webauthn.SessionData
		userID    string
		err       error
	)
	if phone := strings.TrimSpace(req.Phone); phone != "" {
		u := s.state.userByPhone(phone, "", false)
		if u == nil || len(s.state.passkeysOf(u.ID)) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No passkeys registered for this phone"})
			return
		}
		userID = u.ID
		assertion, session, err = s.webauthn.BeginLogin(s.state.webauthnUser(u))
	} else {
		assertion, session, err = s.webauthn.BeginDiscoverableLogin()
	}
	if err != nil {
		s.logger.Error("failed to begin passkey login", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create challenge"})
		return
	}

	s.state.sessions[session.Challenge] = ceremonySession{
		Kind:   core.CeremonyAuthentication,
		UserID: userID,
		Data:   *session,
	}
	s.respondOptions(c, assertion, assertion.Response)
}

// handleAuthenticationVerify checks an assertion and logs the device in
func (s *Server) handleAuthenticationVerify(c *gin.Context) {
	var req struct {
		CredentialID      string  `json:"credential_id" binding:"required"`
		ClientDataJSON    string  `json:"client_data_json" binding:"required"`
		AuthenticatorData string  `json:"authenticator_data" binding:"required"`
		Signature         string  `json:"signature" binding:"required"`
		UserHandle        *string `json:"user_handle"`
		DeviceID          string  `json:"device_id"`
		FCMToken          string  `json:"fcm_token"`
		UserAgent         string  `json:"user_agent"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	body, err := json.Marshal(credentialJSON{
		ID:    req.CredentialID,
		RawID: req.CredentialID,
		Type:  string(protocol.PublicKeyCredentialType),
		Response: assertionResponseJSON{
			ClientDataJSON:    req.ClientDataJSON,
			AuthenticatorData: req.AuthenticatorData,
			Signature:         req.Signature,
			UserHandle:        req.UserHandle,
		},
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	parsed, err := protocol.ParseCredentialRequestResponseBytes(body)
	if err != nil {
		s.logger.Debug("malformed assertion", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed assertion"})
		return
	}

	now := s.clock()
	s.state.mu.Lock()
	session, ok := s.state.takeSession(parsed.Response.CollectedClientData.Challenge, core.CeremonyAuthentication)
	if !ok {
		s.state.mu.Unlock()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown or expired challenge"})
		return
	}

	var (
		u          *user
		credential *webauthn.Credential
	)
	if session.UserID != "" {
		u = s.state.users[session.UserID]
		credential, err = s.webauthn.ValidateLogin(s.state.webauthnUser(u), session.Data, parsed)
	} else {
		var validated webauthn.User
		validated, credential, err = s.webauthn.ValidatePasskeyLogin(s.discoverableUser, session.Data, parsed)
		if err == nil {
			u = validated.(*webauthnUser).user
		}
	}
	if err != nil {
		s.state.mu.Unlock()
		s.logger.Debug("assertion rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Passkey verification failed"})
		return
	}

	if p := s.state.passkeyByCredentialID(credential.ID); p != nil {
		p.Credential = *credential
		p.LastUsedAt = &now
	}
	d := s.state.login(u.ID, req.DeviceID, req.UserAgent, req.FCMToken, now)
	userID, profile := u.ID, u.profile()
	s.state.mu.Unlock()

	s.respondLogin(c, userID, profile, d.ID)
}

// discoverableUser resolves the user of a discoverable assertion; callers hold the state lock
func (s *Server) discoverableUser(_, userHandle []byte) (webauthn.User, error) {
	u, ok := s.state.users[string(userHandle)]
	if !ok {
		return nil, errors.New("unknown user handle")
	}
	return s.state.webauthnUser(u), nil
}

// handleRegistrationOptions starts a registration ceremony for the current user
func (s *Server) handleRegistrationOptions(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := bindOptional(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	creation, err := s.beginRegistration(c.GetString(ctxUserID), req.Name)
	if err != nil {
		s.logger.Error("failed to begin passkey registration", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create challenge"})
		return
	}
	s.respondOptions(c, creation, creation.Response)
}

// handleTrigger tells whether the current user should enroll, with options when so
func (s *Server) handleTrigger(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	if len(s.state.passkeysOf(userID)) > 0 {
		c.JSON(http.StatusOK, gin.H{"has_passkeys": true})
		return
	}

	creation, err := s.beginRegistration(userID, "")
	if err != nil {
		s.logger.Error("failed to begin passkey registration", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create challenge"})
		return
	}
	options, err := s.encodeOptions(creation, creation.Response)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode options"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"has_passkeys": false, "options": options})
}

// beginRegistration creates and records a registration session; callers hold the state lock
func (s *Server) beginRegistration(userID, name string) (*protocol.CredentialCreation, error) {
	u, ok := s.state.users[userID]
	if !ok {
		return nil, errors.New("unknown user")
	}
	wu := s.state.webauthnUser(u)

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(wu.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(wu.credentials).CredentialDescriptors()))
	}

	creation, session, err := s.webauthn.BeginRegistration(wu, options...)
	if err != nil {
		return nil, err
	}
	s.state.sessions[session.Challenge] = ceremonySession{
		Kind:   core.CeremonyRegistration,
		UserID: userID,
		Name:   name,
		Data:   *session,
	}
	return creation, nil
}

// handleRegistrationVerify checks an attestation and stores the new passkey
func (s *Server) handleRegistrationVerify(c *gin.Context) {
	var req struct {
		CredentialID      string `json:"credential_id" binding:"required"`
		RawID             string `json:"raw_id"`
		ClientDataJSON    string `json:"client_data_json" binding:"required"`
		AttestationObject string `json:"attestation_object" binding:"required"`
		Name              string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.RawID == "" {
		req.RawID = req.CredentialID
	}

	body, err := json.Marshal(credentialJSON{
		ID:    req.CredentialID,
		RawID: req.RawID,
		Type:  string(protocol.PublicKeyCredentialType),
		Response: attestationResponseJSON{
			ClientDataJSON:    req.ClientDataJSON,
			AttestationObject: req.AttestationObject,
		},
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	parsed, err := protocol.ParseCredentialCreationResponseBytes(body)
	if err != nil {
		s.logger.Debug("malformed attestation", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed attestation"})
		return
	}

	userID := c.GetString(ctxUserID)
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	session, ok := s.state.takeSession(parsed.Response.CollectedClientData.Challenge, core.CeremonyRegistration)
	if !ok || session.UserID != userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown or expired challenge"})
		return
	}

	u := s.state.users[userID]
	credential, err := s.webauthn.CreateCredential(s.state.webauthnUser(u), session.Data, parsed)
	if err != nil {
		s.logger.Debug("attestation rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Passkey registration failed"})
		return
	}
	if s.state.passkeyByCredentialID(credential.ID) != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Credential already registered"})
		return
	}

	name := firstNonEmpty(req.Name, session.Name, defaultPasskeyName)
	p := s.state.addPasskey(userID, name, *credential, s.clock())
	c.JSON(http.StatusCreated, p.record())
}

// handleListCredentials lists the current user's passkeys
func (s *Server) handleListCredentials(c *gin.Context) {
	s.state.mu.Lock()
	passkeys := s.state.passkeysOf(c.GetString(ctxUserID))
	records := make([]core.PasskeyCredential, 0, len(passkeys))
	for _, p := range passkeys {
		records = append(records, p.record())
	}
	s.state.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		a, _ := strconv.Atoi(records[i].ID)
		b, _ := strconv.Atoi(records[j].ID)
		return a < b
	})
	c.JSON(http.StatusOK, records)
}

// handleDeleteCredential removes one of the current user's passkeys
func (s *Server) handleDeleteCredential(c *gin.Context) {
	id := c.Param("id")

	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	p, ok := s.state.passkeys[id]
	if !ok || p.UserID != c.GetString(ctxUserID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Credential not found"})
		return
	}
	delete(s.state.passkeys, id)
	c.Status(http.StatusNoContent)
}

// respondOptions writes options in the configured encoding
func (s *Server) respondOptions(c *gin.Context, envelope, options any) {
	payload, err := s.encodeOptions(envelope, options)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode options"})
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (s *Server) encodeOptions(envelope, options any) (any, error) {
	switch s.cfg.OptionsEncoding {
	case EncodingWrapped:
		return envelope, nil
	case EncodingString:
		data, err := json.Marshal(options)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	default:
		return options, nil
	}
}

func (p *passkey) record() core.PasskeyCredential {
	created := p.CreatedAt
	return core.PasskeyCredential{
		ID:           p.ID,
		CredentialID: base64.RawURLEncoding.EncodeToString(p.Credential.ID),
		Name:         p.Name,
		CreatedAt:    &created,
		LastUsedAt:   p.LastUsedAt,
	}
}

// bindOptional binds a JSON body that may be absent
func bindOptional(c *gin.Context, target any) error {
	if err := c.ShouldBindJSON(target); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
