package core

import "time"

// TokenPair is the access/refresh pair issued by the identity service
type TokenPair struct {
	Access  string
	Refresh string
}

// Session represents the persisted client session
type Session struct {
	AccessToken  string    // Short-lived bearer credential
	RefreshToken string    // Renewal credential
	ExpiresAt    time.Time // Access token expiry, zero when it cannot be decoded
}

// UserProfile holds the optional profile fields returned by a login
type UserProfile struct {
	Phone     string `json:"phone,omitempty"`
	Country   string `json:"country,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// AuthenticatedUser is the derived authentication state exposed to collaborators
type AuthenticatedUser struct {
	IsLoggedIn bool
	Profile    UserProfile
}

// LoginResult is a completed OTP or passkey login
type LoginResult struct {
	Tokens TokenPair
	User   *UserProfile
}

// PhoneVerification is the payload of a code verification
type PhoneVerification struct {
	Phone     string
	Code      string
	Country   string
	DeviceID  string
	FCMToken  string
	UserAgent string
}

// EnrollmentTrigger tells whether the current user should enroll a passkey
type EnrollmentTrigger struct {
	HasPasskeys bool
	Challenge   *RegistrationChallenge
}

// PasskeyCredential is a credential record as listed by the identity service
type PasskeyCredential struct {
	ID           string     `json:"id"`
	CredentialID string     `json:"credential_id,omitempty"`
	Name         string     `json:"name,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

// Device is a logged-in device as listed by the identity service
type Device struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
	FCMToken  string     `json:"fcm_token,omitempty"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	Current   bool       `json:"is_current,omitempty"`
}

// AuthStateKind enumerates auth-state transitions
type AuthStateKind string

const (
	AuthStateLoggedIn       AuthStateKind = "logged_in"
	AuthStateRefreshed      AuthStateKind = "refreshed"
	AuthStateLoggedOut      AuthStateKind = "logged_out"
	AuthStateSessionExpired AuthStateKind = "session_expired"
)

// AuthStateEvent describes one auth-state transition
type AuthStateEvent struct {
	Kind     AuthStateKind `json:"kind"`
	DeviceID string        `json:"device_id,omitempty"`
	Phone    string        `json:"phone,omitempty"`
	At       time.Time     `json:"at"`
}
