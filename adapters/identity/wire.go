package identity

import (
	"encoding/base64"
	"encoding/json"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
)

// Wire paths of the identity service
const (
	PathPhoneLogin        = "/auth/phone/login/"
	PathPhoneVerify       = "/auth/phone/verify/"
	PathPasskeyAuthOpts   = "/auth/passkey/authenticate/options/"
	PathPasskeyAuthVerify = "/auth/passkey/authenticate/verify/"
	PathPasskeyRegOpts    = "/auth/passkey/register/options/"
	PathPasskeyRegVerify  = "/auth/passkey/register/verify/"
	PathPasskeyTrigger    = "/auth/passkey/register/trigger/"
	PathPasskeyCreds      = "/auth/passkey/credentials/"
	PathRefresh           = "/auth/refresh/"
	PathDevices           = "/devices/"
	PathLogoutAllDevices  = "/devices/logout/all/"
)

type phoneLoginRequest struct {
	Phone   string `json:"phone"`
	Country string `json:"country"`
}

type phoneVerifyRequest struct {
	Phone     string `json:"phone"`
	Code      string `json:"code"`
	Country   string `json:"country"`
	DeviceID  string `json:"device_id"`
	FCMToken  string `json:"fcm_token"`
	UserAgent string `json:"user_agent"`
}

type passkeyOptionsRequest struct {
	Phone string `json:"phone,omitempty"`
	Name  string `json:"name,omitempty"`
}

type assertionRequest struct {
	CredentialID      string  `json:"credential_id"`
	ClientDataJSON    string  `json:"client_data_json"`
	AuthenticatorData string  `json:"authenticator_data"`
	Signature         string  `json:"signature"`
	UserHandle        *string `json:"user_handle"`
	DeviceID          string  `json:"device_id"`
	FCMToken          string  `json:"fcm_token"`
	UserAgent         string  `json:"user_agent"`
	Phone             string  `json:"phone,omitempty"`
}

type attestationRequest struct {
	CredentialID      string `json:"credential_id"`
	RawID             string `json:"raw_id"`
	ClientDataJSON    string `json:"client_data_json"`
	AttestationObject string `json:"attestation_object"`
	Name              string `json:"name"`
}

type loginResponse struct {
	Access  string            `json:"access"`
	Refresh string            `json:"refresh"`
	User    *core.UserProfile `json:"user,omitempty"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

type triggerResponse struct {
	HasPasskeys bool            `json:"has_passkeys"`
	Options     json.RawMessage `json:"options,omitempty"`
}

type fcmTokenRequest struct {
	FCMToken string `json:"fcm_token"`
}

func (r loginResponse) result() core.LoginResult {
	return core.LoginResult{
		Tokens: core.TokenPair{Access: r.Access, Refresh: r.Refresh},
		User:   r.User,
	}
}

func encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func newAssertionRequest(in core.AssertionSubmission) assertionRequest {
	a := in.Assertion
	req := assertionRequest{
		CredentialID:      a.CredentialID,
		ClientDataJSON:    encode(a.ClientDataJSON),
		AuthenticatorData: encode(a.AuthenticatorData),
		Signature:         encode(a.Signature),
		DeviceID:          in.DeviceID,
		FCMToken:          in.FCMToken,
		UserAgent:         in.UserAgent,
		Phone:             in.Phone,
	}
	if req.CredentialID == "" {
		req.CredentialID = encode(a.RawID)
	}
	if len(a.UserHandle) > 0 {
		handle := encode(a.UserHandle)
		req.UserHandle = &handle
	}
	return req
}

func newAttestationRequest(in core.AttestationSubmission) attestationRequest {
	a := in.Attestation
	req := attestationRequest{
		CredentialID:      a.CredentialID,
		RawID:             encode(a.RawID),
		ClientDataJSON:    encode(a.ClientDataJSON),
		AttestationObject: encode(a.AttestationObject),
		Name:              in.Name,
	}
	if req.CredentialID == "" {
		req.CredentialID = req.RawID
	}
	return req
}
