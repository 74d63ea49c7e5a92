package ports

import (
	"context"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
)

// IdentityService is the remote identity service's wire contract
type IdentityService interface {
	// OTP
	RequestPhoneCode(ctx context.Context, phone, country string) error
	VerifyPhoneCode(ctx context.Context, in core.PhoneVerification) (core.LoginResult, error)

	// Passkey authentication
	PasskeyAuthenticationOptions(ctx context.Context, phone string) (core.AuthenticationChallenge, error)
	VerifyPasskeyAuthentication(ctx context.Context, in core.AssertionSubmission) (core.LoginResult, error)

	// Passkey registration
	PasskeyRegistrationOptions(ctx context.Context, name string) (core.RegistrationChallenge, error)
	VerifyPasskeyRegistration(ctx context.Context, in core.AttestationSubmission) (core.PasskeyCredential, error)
	PasskeyEnrollmentTrigger(ctx context.Context) (core.EnrollmentTrigger, error)

	// Credential and device management
	ListPasskeyCredentials(ctx context.Context) ([]core.PasskeyCredential, error)
	DeletePasskeyCredential(ctx context.Context, id string) error
	ListDevices(ctx context.Context) ([]core.Device, error)
	GetDevice(ctx context.Context, id string) (core.Device, error)
	UpdateDeviceFCMToken(ctx context.Context, id, fcmToken string) error
	LogoutDevice(ctx context.Context, id string) error
	LogoutAllDevices(ctx context.Context) error
}
