package stubidp

import (
	"encoding/base64"
	"strconv"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
)

type user struct {
	ID        string
	Handle    []byte
	Phone     string
	Country   string
	FirstName string
	LastName  string
}

func (u *user) profile() core.UserProfile {
	return core.UserProfile{
		Phone:     u.Phone,
		Country:   u.Country,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

type passkey struct {
	ID         string
	UserID     string
	Name       string
	Credential webauthn.Credential
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

type device struct {
	ID        string
	UserID    string
	Name      string
	UserAgent string
	FCMToken  string
	LastLogin time.Time
	Active    bool
}

type pendingCode struct {
	Code      string
	ExpiresAt time.Time
}

type ceremonySession struct {
	Kind   core.CeremonyKind
	UserID string // Empty for discoverable logins
	Name   string
	Data   webauthn.SessionData
}

// takeSession removes and returns the ceremony started with challenge
func (s *state) takeSession(challenge string, kind core.CeremonyKind) (ceremonySession, bool) {
	session, ok := s.sessions[challenge]
	if !ok || session.Kind != kind {
		return ceremonySession{}, false
	}
	delete(s.sessions, challenge)
	return session, true
}

// state is the in-memory data of the identity service
type state struct {
	mu sync.Mutex

	users    map[string]*user // by id
	byPhone  map[string]string
	passkeys map[string]*passkey // by record id
	devices  map[string]*device  // by device id
	codes    map[string]pendingCode
	sessions map[string]ceremonySession // by challenge
	nextPKey int
}

func newState() *state {
	return &state{
		users:    make(map[string]*user),
		byPhone:  make(map[string]string),
		passkeys: make(map[string]*passkey),
		devices:  make(map[string]*device),
		codes:    make(map[string]pendingCode),
		sessions: make(map[string]ceremonySession),
	}
}

// userByPhone returns the user for phone, creating it when create is set
func (s *state) userByPhone(phone, country string, create bool) *user {
	if id, ok := s.byPhone[phone]; ok {
		return s.users[id]
	}
	if !create {
		return nil
	}
	id := uuid.NewString()
	u := &user{ID: id, Handle: []byte(id), Phone: phone, Country: country}
	s.users[id] = u
	s.byPhone[phone] = id
	return u
}

func (s *state) passkeysOf(userID string) []*passkey {
	var out []*passkey
	for _, p := range s.passkeys {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out
}

func (s *state) addPasskey(userID, name string, credential webauthn.Credential, now time.Time) *passkey {
	s.nextPKey++
	p := &passkey{
		ID:         strconv.Itoa(s.nextPKey),
		UserID:     userID,
		Name:       name,
		Credential: credential,
		CreatedAt:  now,
	}
	s.passkeys[p.ID] = p
	return p
}

func (s *state) passkeyByCredentialID(credentialID []byte) *passkey {
	id := base64.RawURLEncoding.EncodeToString(credentialID)
	for _, p := range s.passkeys {
		if base64.RawURLEncoding.EncodeToString(p.Credential.ID) == id {
			return p
		}
	}
	return nil
}

func (s *state) devicesOf(userID string) []*device {
	var out []*device
	for _, d := range s.devices {
		if d.UserID == userID && d.Active {
			out = append(out, d)
		}
	}
	return out
}

// login records a device login for the user
func (s *state) login(userID, deviceID, userAgent, fcmToken string, now time.Time) *device {
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	d, ok := s.devices[deviceID]
	if !ok || d.UserID != userID {
		d = &device{ID: deviceID, UserID: userID}
		s.devices[deviceID] = d
	}
	d.UserAgent = userAgent
	d.Name = userAgent
	if fcmToken != "" {
		d.FCMToken = fcmToken
	}
	d.LastLogin = now
	d.Active = true
	return d
}

// webauthnUser adapts a user and its passkeys to go-webauthn
type webauthnUser struct {
	user        *user
	credentials []webauthn.Credential
}

func (s *state) webauthnUser(u *user) *webauthnUser {
	wu := &webauthnUser{user: u}
	for _, p := range s.passkeysOf(u.ID) {
		wu.credentials = append(wu.credentials, p.Credential)
	}
	return wu
}

func (u *webauthnUser) WebAuthnID() []byte {
	return u.user.Handle
}

func (u *webauthnUser) WebAuthnName() string {
	return u.user.Phone
}

func (u *webauthnUser) WebAuthnDisplayName() string {
	if u.user.FirstName != "" {
		return u.user.FirstName + " " + u.user.LastName
	}
	return u.user.Phone
}

func (u *webauthnUser) WebAuthnIcon() string {
	return ""
}

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}
