package core

import (
	"encoding/json"

	"github.com/go-webauthn/webauthn/protocol"
)

// CeremonyKind distinguishes the two WebAuthn ceremonies
type CeremonyKind string

const (
	CeremonyRegistration   CeremonyKind = "registration"
	CeremonyAuthentication CeremonyKind = "authentication"
)

// CeremonyState is the position of one ceremony attempt
type CeremonyState int

const (
	CeremonyIdle CeremonyState = iota
	CeremonyOptionsRequested
	CeremonyAwaitingUser
	CeremonyVerifying
	CeremonySucceeded
	CeremonyFailed
)

func (s CeremonyState) String() string {
	switch s {
	case CeremonyIdle:
		return "idle"
	case CeremonyOptionsRequested:
		return "options_requested"
	case CeremonyAwaitingUser:
		return "awaiting_user_ceremony"
	case CeremonyVerifying:
		return "verifying"
	case CeremonySucceeded:
		return "succeeded"
	case CeremonyFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RegistrationChallenge is a normalized server-issued creation options payload
type RegistrationChallenge struct {
	Options protocol.PublicKeyCredentialCreationOptions
	Raw     json.RawMessage // Options exactly as received, after string unwrapping
}

// AuthenticationChallenge is a normalized server-issued request options payload
type AuthenticationChallenge struct {
	Options protocol.PublicKeyCredentialRequestOptions
	Raw     json.RawMessage
}

// Attestation is the output of a registration ceremony
type Attestation struct {
	CredentialID      string // base64url, unpadded
	RawID             []byte
	ClientDataJSON    []byte
	AttestationObject []byte
}

// Assertion is the output of an authentication ceremony
type Assertion struct {
	CredentialID      string
	RawID             []byte
	ClientDataJSON    []byte
	AuthenticatorData []byte
	Signature         []byte
	UserHandle        []byte
}

// AssertionSubmission is an assertion plus the login context sent for verification
type AssertionSubmission struct {
	Assertion Assertion
	Phone     string
	DeviceID  string
	FCMToken  string
	UserAgent string
}

// AttestationSubmission is an attestation plus the credential name sent for verification
type AttestationSubmission struct {
	Attestation Attestation
	Name        string
}
