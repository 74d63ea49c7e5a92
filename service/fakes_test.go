package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/myeganeh2876/MomentumPasskeyTest/adapters/store"
	"github.com/myeganeh2876/MomentumPasskeyTest/core"
	transport "github.com/myeganeh2876/MomentumPasskeyTest/transport/http"
)

var errUnexpected = errors.New("unexpected call")

// fakeIdentity implements ports.IdentityService with overridable behaviour
type fakeIdentity struct {
	mu    sync.Mutex
	calls []string

	requestPhoneCode       func(ctx context.Context, phone, country string) error
	verifyPhoneCode        func(ctx context.Context, in core.PhoneVerification) (core.LoginResult, error)
	authenticationOptions  func(ctx context.Context, phone string) (core.AuthenticationChallenge, error)
	verifyAuthentication   func(ctx context.Context, in core.AssertionSubmission) (core.LoginResult, error)
	registrationOptions    func(ctx context.Context, name string) (core.RegistrationChallenge, error)
	verifyRegistration     func(ctx context.Context, in core.AttestationSubmission) (core.PasskeyCredential, error)
	enrollmentTrigger      func(ctx context.Context) (core.EnrollmentTrigger, error)
	listPasskeyCredentials func(ctx context.Context) ([]core.PasskeyCredential, error)
	logoutDevice           func(ctx context.Context, id string) error
	updateDeviceFCMToken   func(ctx context.Context, id, token string) error
}

func (f *fakeIdentity) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeIdentity) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeIdentity) RequestPhoneCode(ctx context.Context, phone, country string) error {
	f.record("RequestPhoneCode")
	if f.requestPhoneCode == nil {
		return nil
	}
	return f.requestPhoneCode(ctx, phone, country)
}

func (f *fakeIdentity) VerifyPhoneCode(ctx context.Context, in core.PhoneVerification) (core.LoginResult, error) {
	f.record("VerifyPhoneCode")
	if f.verifyPhoneCode == nil {
		return core.LoginResult{}, errUnexpected
	}
	return f.verifyPhoneCode(ctx, in)
}

func (f *fakeIdentity) PasskeyAuthenticationOptions(ctx context.Context, phone string) (core.AuthenticationChallenge, error) {
	f.record("PasskeyAuthenticationOptions")
	if f.authenticationOptions == nil {
		return core.AuthenticationChallenge{}, errUnexpected
	}
	return f.authenticationOptions(ctx, phone)
}

func (f *fakeIdentity) VerifyPasskeyAuthentication(ctx context.Context, in core.AssertionSubmission) (core.LoginResult, error) {
	f.record("VerifyPasskeyAuthentication")
	if f.verifyAuthentication == nil {
		return core.LoginResult{}, errUnexpected
	}
	return f.verifyAuthentication(ctx, in)
}

func (f *fakeIdentity) PasskeyRegistrationOptions(ctx context.Context, name string) (core.RegistrationChallenge, error) {
	f.record("PasskeyRegistrationOptions")
	if f.registrationOptions == nil {
		return core.RegistrationChallenge{}, errUnexpected
	}
	return f.registrationOptions(ctx, name)
}

func (f *fakeIdentity) VerifyPasskeyRegistration(ctx context.Context, in core.AttestationSubmission) (core.PasskeyCredential, error) {
	f.record("VerifyPasskeyRegistration")
	if f.verifyRegistration == nil {
		return core.PasskeyCredential{}, errUnexpected
	}
	return f.verifyRegistration(ctx, in)
}

func (f *fakeIdentity) PasskeyEnrollmentTrigger(ctx context.Context) (core.EnrollmentTrigger, error) {
	f.record("PasskeyEnrollmentTrigger")
	if f.enrollmentTrigger == nil {
		return core.EnrollmentTrigger{HasPasskeys: true}, nil
	}
	return f.enrollmentTrigger(ctx)
}

func (f *fakeIdentity) ListPasskeyCredentials(ctx context.Context) ([]core.PasskeyCredential, error) {
	f.record("ListPasskeyCredentials")
	if f.listPasskeyCredentials == nil {
		return nil, nil
	}
	return f.listPasskeyCredentials(ctx)
}

func (f *fakeIdentity) DeletePasskeyCredential(context.Context, string) error {
	f.record("DeletePasskeyCredential")
	return nil
}

func (f *fakeIdentity) ListDevices(context.Context) ([]core.Device, error) {
	f.record("ListDevices")
	return nil, nil
}

func (f *fakeIdentity) GetDevice(_ context.Context, id string) (core.Device, error) {
	f.record("GetDevice")
	return core.Device{ID: id}, nil
}

func (f *fakeIdentity) UpdateDeviceFCMToken(ctx context.Context, id, token string) error {
	f.record("UpdateDeviceFCMToken")
	if f.updateDeviceFCMToken == nil {
		return nil
	}
	return f.updateDeviceFCMToken(ctx, id, token)
}

func (f *fakeIdentity) LogoutDevice(ctx context.Context, id string) error {
	f.record("LogoutDevice")
	if f.logoutDevice == nil {
		return nil
	}
	return f.logoutDevice(ctx, id)
}

func (f *fakeIdentity) LogoutAllDevices(context.Context) error {
	f.record("LogoutAllDevices")
	return nil
}

// fakeAuthenticator implements ports.Authenticator
type fakeAuthenticator struct {
	mu      sync.Mutex
	creates int
	gets    int

	create func(ctx context.Context, ch core.RegistrationChallenge) (core.Attestation, error)
	get    func(ctx context.Context, ch core.AuthenticationChallenge) (core.Assertion, error)
}

func (f *fakeAuthenticator) Create(ctx context.Context, ch core.RegistrationChallenge) (core.Attestation, error) {
	f.mu.Lock()
	f.creates++
	f.mu.Unlock()
	if f.create == nil {
		return core.Attestation{CredentialID: "cred", RawID: []byte("cred")}, nil
	}
	return f.create(ctx, ch)
}

func (f *fakeAuthenticator) Get(ctx context.Context, ch core.AuthenticationChallenge) (core.Assertion, error) {
	f.mu.Lock()
	f.gets++
	f.mu.Unlock()
	if f.get == nil {
		return core.Assertion{CredentialID: "cred", RawID: []byte("cred")}, nil
	}
	return f.get(ctx, ch)
}

func (f *fakeAuthenticator) counts() (creates, gets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.gets
}

// fakeDecoder maps tokens to expiries
type fakeDecoder map[string]time.Time

func (d fakeDecoder) ExpiresAt(token string) (time.Time, error) {
	exp, ok := d[token]
	if !ok {
		return time.Time{}, errors.New("malformed token")
	}
	return exp, nil
}

// fakeRefresher implements ports.TokenRefresher
type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, refresh string) (core.TokenPair, error)
}

func (f *fakeRefresher) Refresh(ctx context.Context, refresh string) (core.TokenPair, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn == nil {
		return core.TokenPair{}, errUnexpected
	}
	return f.fn(ctx, refresh)
}

func (f *fakeRefresher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakePublisher records auth-state events
type fakePublisher struct {
	mu     sync.Mutex
	events []core.AuthStateEvent
	err    error
}

func (p *fakePublisher) PublishAuthState(_ context.Context, event core.AuthStateEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *fakePublisher) kinds() []core.AuthStateKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.AuthStateKind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

// failingStore fails every write
type failingStore struct {
	*store.MemoryStore
}

func (failingStore) Set(context.Context, string, string) error {
	return core.ErrStoreOperationFailed
}

func (failingStore) SetAll(context.Context, map[string]string) error {
	return core.ErrStoreOperationFailed
}

func rejected(status int) error {
	return &transport.StatusError{StatusCode: status, Method: http.MethodPost, Path: "/auth/refresh/"}
}

func authChallenge(rpID string, timeoutMillis int) core.AuthenticationChallenge {
	var opts protocol.PublicKeyCredentialRequestOptions
	opts.Challenge = []byte("challenge")
	opts.RelyingPartyID = rpID
	opts.Timeout = timeoutMillis
	return core.AuthenticationChallenge{Options: opts}
}

func regChallenge(rpID string) core.RegistrationChallenge {
	var opts protocol.PublicKeyCredentialCreationOptions
	opts.Challenge = []byte("challenge")
	opts.RelyingParty.ID = rpID
	opts.User.ID = "dXNlcg"
	return core.RegistrationChallenge{Options: opts}
}

var loginPair = core.TokenPair{Access: "access-1", Refresh: "refresh-1"}
