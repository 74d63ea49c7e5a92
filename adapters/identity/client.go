// Package identity implements the identity service wire contract over the
// session transport.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/myeganeh2876/MomentumPasskeyTest/adapters/challenge"
	"github.com/myeganeh2876/MomentumPasskeyTest/core"
	"github.com/myeganeh2876/MomentumPasskeyTest/ports"
	transport "github.com/myeganeh2876/MomentumPasskeyTest/transport/http"
)

// Doer sends one request to the identity service
type Doer interface {
	Do(ctx context.Context, req transport.Request, out any) error
}

// Client talks to the identity service. Calls made before a session exists
// go through the bootstrap pipeline; everything else through the
// authenticated one.
type Client struct {
	authed    Doer
	bootstrap Doer
	logger    *zap.Logger
}

// NewClient creates an identity service client
func NewClient(authed, bootstrap Doer, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{authed: authed, bootstrap: bootstrap, logger: logger}
}

var _ ports.IdentityService = (*Client)(nil)

// RequestPhoneCode asks the service to send a verification code
func (c *Client) RequestPhoneCode(ctx context.Context, phone, country string) error {
	return c.bootstrap.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   PathPhoneLogin,
		Body:   phoneLoginRequest{Phone: phone, Country: country},
	}, nil)
}

// VerifyPhoneCode exchanges a verification code for a token pair
func (c *Client) VerifyPhoneCode(ctx context.Context, in core.PhoneVerification) (core.LoginResult, error) {
	var resp loginResponse
	err := c.bootstrap.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   PathPhoneVerify,
		Body: phoneVerifyRequest{
			Phone:     in.Phone,
			Code:      in.Code,
			Country:   in.Country,
			DeviceID:  in.DeviceID,
			FCMToken:  in.FCMToken,
			UserAgent: in.UserAgent,
		},
	}, &resp)
	if err != nil {
		return core.LoginResult{}, err
	}
	return resp.result(), nil
}

// PasskeyAuthenticationOptions fetches a fresh authentication challenge
func (c *Client) PasskeyAuthenticationOptions(ctx context.Context, phone string) (core.AuthenticationChallenge, error) {
	var raw json.RawMessage
	err := c.bootstrap.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   PathPasskeyAuthOpts,
		Body:   passkeyOptionsRequest{Phone: phone},
	}, &raw)
	if err != nil {
		return core.AuthenticationChallenge{}, err
	}
	return challenge.ParseAuthentication(raw)
}

// VerifyPasskeyAuthentication submits an assertion and returns the login result
func (c *Client) VerifyPasskeyAuthentication(ctx context.Context, in core.AssertionSubmission) (core.LoginResult, error) {
	var resp loginResponse
	err := c.bootstrap.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   PathPasskeyAuthVerify,
		Body:   newAssertionRequest(in),
	}, &resp)
	if err != nil {
		return core.LoginResult{}, err
	}
	return resp.result(), nil
}

// PasskeyRegistrationOptions fetches a fresh registration challenge
func (c *Client) PasskeyRegistrationOptions(ctx context.Context, name string) (core.RegistrationChallenge, error) {
	var raw json.RawMessage
	err := c.authed.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   PathPasskeyRegOpts,
		Body:   passkeyOptionsRequest{Name: name},
	}, &raw)
	if err != nil {
		return core.RegistrationChallenge{}, err
	}
	return challenge.ParseRegistration(raw)
}

// VerifyPasskeyRegistration submits an attestation and returns the stored credential
func (c *Client) VerifyPasskeyRegistration(ctx context.Context, in core.AttestationSubmission) (core.PasskeyCredential, error) {
	var credential core.PasskeyCredential
	err := c.authed.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   PathPasskeyRegVerify,
		Body:   newAttestationRequest(in),
	}, &credential)
	if err != nil {
		return core.PasskeyCredential{}, err
	}
	if credential.Name == "" {
		credential.Name = in.Name
	}
	return credential, nil
}

// PasskeyEnrollmentTrigger asks whether the current user should enroll a passkey
func (c *Client) PasskeyEnrollmentTrigger(ctx context.Context) (core.EnrollmentTrigger, error) {
	var resp triggerResponse
	err := c.authed.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   PathPasskeyTrigger,
	}, &resp)
	if err != nil {
		return core.EnrollmentTrigger{}, err
	}

	trigger := core.EnrollmentTrigger{HasPasskeys: resp.HasPasskeys}
	if len(resp.Options) > 0 && !bytes.Equal(bytes.TrimSpace(resp.Options), []byte("null")) {
		ch, err := challenge.ParseRegistration(resp.Options)
		if err != nil {
			return core.EnrollmentTrigger{}, err
		}
		trigger.Challenge = &ch
	}
	return trigger, nil
}

// ListPasskeyCredentials returns the current user's passkeys
func (c *Client) ListPasskeyCredentials(ctx context.Context) ([]core.PasskeyCredential, error) {
	var credentials []core.PasskeyCredential
	err := c.authed.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   PathPasskeyCreds,
	}, &credentials)
	return credentials, err
}

// DeletePasskeyCredential removes one of the current user's passkeys
func (c *Client) DeletePasskeyCredential(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: credential id is required", core.ErrInvalidInput)
	}
	return c.authed.Do(ctx, transport.Request{
		Method: http.MethodDelete,
		Path:   PathPasskeyCreds + url.PathEscape(id) + "/",
	}, nil)
}

// ListDevices returns the current user's logged-in devices
func (c *Client) ListDevices(ctx context.Context) ([]core.Device, error) {
	var devices []core.Device
	err := c.authed.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   PathDevices,
	}, &devices)
	return devices, err
}

// GetDevice returns one device
func (c *Client) GetDevice(ctx context.Context, id string) (core.Device, error) {
	if id == "" {
		return core.Device{}, fmt.Errorf("%w: device id is required", core.ErrInvalidInput)
	}
	var device core.Device
	err := c.authed.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   devicePath(id),
	}, &device)
	return device, err
}

// UpdateDeviceFCMToken sets the push token of a device
func (c *Client) UpdateDeviceFCMToken(ctx context.Context, id, fcmToken string) error {
	if id == "" {
		return fmt.Errorf("%w: device id is required", core.ErrInvalidInput)
	}
	return c.authed.Do(ctx, transport.Request{
		Method: http.MethodPatch,
		Path:   devicePath(id),
		Body:   fcmTokenRequest{FCMToken: fcmToken},
	}, nil)
}

// LogoutDevice ends the session of one device
func (c *Client) LogoutDevice(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: device id is required", core.ErrInvalidInput)
	}
	return c.authed.Do(ctx, transport.Request{
		Method: http.MethodDelete,
		Path:   devicePath(id),
	}, nil)
}

// LogoutAllDevices ends the sessions of every device of the current user
func (c *Client) LogoutAllDevices(ctx context.Context) error {
	return c.authed.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   PathLogoutAllDevices,
	}, nil)
}

func devicePath(id string) string {
	return PathDevices + url.PathEscape(id) + "/"
}
