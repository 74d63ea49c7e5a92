package core

import "errors"

var (
	// Transport and server failures
	ErrTransport        = errors.New("transport failure")
	ErrAuthRejected     = errors.New("authorization rejected")
	ErrRequestRejected  = errors.New("request rejected")
	ErrNotAuthenticated = errors.New("not authenticated")

	// Session material
	ErrNotFound             = errors.New("key not found")
	ErrInvalidTokenPair     = errors.New("access and refresh tokens are both required")
	ErrNoRefreshToken       = errors.New("no refresh token stored")
	ErrStoreOperationFailed = errors.New("store operation failed")

	// WebAuthn ceremonies
	ErrMalformedChallenge = errors.New("malformed credential challenge")
	ErrCeremonyDeclined   = errors.New("ceremony declined by user")
	ErrCeremonyTimedOut   = errors.New("ceremony timed out or not allowed")
	ErrCeremonyAborted    = errors.New("ceremony aborted")
	ErrEnrollment         = errors.New("passkey enrollment failed")

	// OTP
	ErrCodeRequestThrottled = errors.New("verification code requested too often")
	ErrInvalidInput         = errors.New("invalid input")
)
