package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
	"github.com/myeganeh2876/MomentumPasskeyTest/ports"
)

// Dependencies are the collaborators of an AuthService
type Dependencies struct {
	Identity      ports.IdentityService
	Authenticator ports.Authenticator
	Tokens        *TokenManager
	Device        *DeviceIdentity
	Events        ports.EventPublisher // Optional
	Logger        *zap.Logger
}

// Settings tune an AuthService
type Settings struct {
	UserAgent           string
	CodeRequestInterval time.Duration
	CodeRequestBurst    int
	EnrollAfterLogin    bool
	EnrollmentName      string
	EnrollmentTimeout   time.Duration
}

// AuthService is the capability surface offered to UI collaborators
type AuthService struct {
	identity   ports.IdentityService
	tokens     *TokenManager
	device     *DeviceIdentity
	otp        *OTPFlow
	ceremonies *CeremonyOrchestrator
	fallback   *FallbackCoordinator
	enroller   *Enroller
	events     ports.EventPublisher
	logger     *zap.Logger
	now        func() time.Time

	enrollAfterLogin bool

	mu        sync.Mutex
	user      core.AuthenticatedUser
	observers map[int]func(core.AuthenticatedUser)
	nextID    int

	unsubscribe func()
}

// NewAuthService creates a new authentication service
func NewAuthService(deps Dependencies, settings Settings) (*AuthService, error) {
	if deps.Identity == nil || deps.Tokens == nil || deps.Device == nil {
		return nil, fmt.Errorf("%w: identity service, token manager and device identity are required", core.ErrInvalidInput)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	otp := NewOTPFlow(deps.Identity, deps.Tokens, deps.Device, settings.UserAgent,
		settings.CodeRequestInterval, settings.CodeRequestBurst, logger.Named("otp"))
	ceremonies := NewCeremonyOrchestrator(deps.Identity, deps.Authenticator, deps.Tokens, deps.Device,
		settings.UserAgent, logger.Named("ceremony"))

	s := &AuthService{
		identity:         deps.Identity,
		tokens:           deps.Tokens,
		device:           deps.Device,
		otp:              otp,
		ceremonies:       ceremonies,
		fallback:         NewFallbackCoordinator(ceremonies, otp, logger.Named("fallback")),
		enroller:         NewEnroller(deps.Identity, ceremonies, settings.EnrollmentName, settings.EnrollmentTimeout, logger.Named("enrollment")),
		events:           deps.Events,
		logger:           logger,
		now:              time.Now,
		enrollAfterLogin: settings.EnrollAfterLogin && deps.Authenticator != nil,
		observers:        make(map[int]func(core.AuthenticatedUser)),
	}
	s.unsubscribe = deps.Tokens.Subscribe(s.onSessionEvent)
	return s, nil
}

// RequestCode asks for a verification code for phone
func (s *AuthService) RequestCode(ctx context.Context, phone, country string) error {
	return s.otp.RequestCode(ctx, phone, country)
}

// VerifyCode logs in with a verification code. On success a background
// passkey enrollment may start; its outcome never affects the login.
func (s *AuthService) VerifyCode(ctx context.Context, phone, code, country string) (core.AuthenticatedUser, error) {
	result, err := s.otp.VerifyCode(ctx, phone, code, country)
	if err != nil {
		return core.AuthenticatedUser{}, err
	}
	s.fallback.Reset()
	user := s.loggedIn(ctx, result, phone, country)

	if s.enrollAfterLogin {
		s.enroller.Start(ctx)
	}
	return user, nil
}

// StartPasskeyAuthentication logs in with a passkey and falls back to a
// verification code when the passkey path fails, including when no
// authenticator is configured.
func (s *AuthService) StartPasskeyAuthentication(ctx context.Context, phone, country string) (LoginOutcome, error) {
	outcome, err := s.fallback.Login(ctx, phone, country)
	if err != nil {
		return outcome, err
	}
	if outcome.Result != nil {
		s.loggedIn(ctx, *outcome.Result, phone, country)
	}
	return outcome, nil
}

// LoginWithPasskey logs in with a passkey without falling back
func (s *AuthService) LoginWithPasskey(ctx context.Context, phone string) (core.AuthenticatedUser, error) {
	result, err := s.ceremonies.Authenticate(ctx, phone)
	if err != nil {
		return core.AuthenticatedUser{}, err
	}
	return s.loggedIn(ctx, result, phone, ""), nil
}

// RegisterPasskey enrolls a new passkey for the logged-in user
func (s *AuthService) RegisterPasskey(ctx context.Context, name string) (core.PasskeyCredential, error) {
	if err := s.requireSession(ctx); err != nil {
		return core.PasskeyCredential{}, err
	}
	return s.ceremonies.Register(ctx, name)
}

// Logout ends the session. When deviceID is set the device is logged out on
// the service first; the local session is cleared even if that fails, and
// the service error is returned.
func (s *AuthService) Logout(ctx context.Context, deviceID string) error {
	var remoteErr error
	if deviceID != "" {
		if remoteErr = s.identity.LogoutDevice(ctx, deviceID); remoteErr != nil {
			s.logger.Warn("failed to log out device", zap.String("device_id", deviceID), zap.Error(remoteErr))
			remoteErr = fmt.Errorf("failed to log out device: %w", remoteErr)
		}
	}

	s.otp.Reset()
	s.fallback.Reset()
	if err := s.tokens.Clear(ctx); err != nil {
		return errors.Join(remoteErr, err)
	}
	return remoteErr
}

// LogoutAllDevices ends the sessions of every device and clears the local one
func (s *AuthService) LogoutAllDevices(ctx context.Context) error {
	remoteErr := s.identity.LogoutAllDevices(ctx)
	if remoteErr != nil {
		remoteErr = fmt.Errorf("failed to log out all devices: %w", remoteErr)
	}
	s.otp.Reset()
	s.fallback.Reset()
	if err := s.tokens.Clear(ctx); err != nil {
		return errors.Join(remoteErr, err)
	}
	return remoteErr
}

// IsLoggedIn reports whether a complete token pair is stored
func (s *AuthService) IsLoggedIn(ctx context.Context) bool {
	ok, err := s.tokens.HasTokens(ctx)
	if err != nil {
		s.logger.Warn("failed to read session", zap.Error(err))
	}
	return ok
}

// CurrentUser returns the derived authentication state
func (s *AuthService) CurrentUser() core.AuthenticatedUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Restore derives the authentication state from the stored tokens at startup
func (s *AuthService) Restore(ctx context.Context) (core.AuthenticatedUser, error) {
	ok, err := s.tokens.HasTokens(ctx)
	if err != nil {
		return core.AuthenticatedUser{}, err
	}
	if !ok {
		// A lone token is unusable; drop it.
		if err := s.tokens.Clear(ctx); err != nil {
			return core.AuthenticatedUser{}, err
		}
	}
	s.mu.Lock()
	s.user = core.AuthenticatedUser{IsLoggedIn: ok}
	s.mu.Unlock()
	s.notify()
	return s.CurrentUser(), nil
}

// OnAuthStateChanged registers an observer of the authentication state and
// returns a function that removes it.
func (s *AuthService) OnAuthStateChanged(fn func(core.AuthenticatedUser)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// OnCredentialsChanged registers an observer of the refreshed passkey list
func (s *AuthService) OnCredentialsChanged(fn func([]core.PasskeyCredential)) {
	s.ceremonies.OnCredentialsChanged(fn)
}

// OnCeremonyTransition registers an observer of ceremony states
func (s *AuthService) OnCeremonyTransition(fn func(CeremonyTransition)) {
	s.ceremonies.OnTransition(fn)
}

// Credentials lists the logged-in user's passkeys
func (s *AuthService) Credentials(ctx context.Context) ([]core.PasskeyCredential, error) {
	if err := s.requireSession(ctx); err != nil {
		return nil, err
	}
	return s.identity.ListPasskeyCredentials(ctx)
}

// DeleteCredential removes a passkey and refreshes the credential list
func (s *AuthService) DeleteCredential(ctx context.Context, id string) error {
	if err := s.requireSession(ctx); err != nil {
		return err
	}
	if err := s.identity.DeletePasskeyCredential(ctx, id); err != nil {
		return fmt.Errorf("failed to delete passkey: %w", err)
	}
	s.ceremonies.RefreshCredentials(ctx)
	return nil
}

// Devices lists the logged-in user's devices
func (s *AuthService) Devices(ctx context.Context) ([]core.Device, error) {
	if err := s.requireSession(ctx); err != nil {
		return nil, err
	}
	return s.identity.ListDevices(ctx)
}

// Device returns one of the logged-in user's devices
func (s *AuthService) Device(ctx context.Context, id string) (core.Device, error) {
	if err := s.requireSession(ctx); err != nil {
		return core.Device{}, err
	}
	return s.identity.GetDevice(ctx, id)
}

// DeviceID returns this installation's device identifier
func (s *AuthService) DeviceID(ctx context.Context) (string, error) {
	return s.device.ID(ctx)
}

// SetFCMToken stores the push token and, when logged in, updates this device
// on the service.
func (s *AuthService) SetFCMToken(ctx context.Context, token string) error {
	if err := s.device.SetFCMToken(ctx, token); err != nil {
		return err
	}
	if !s.IsLoggedIn(ctx) {
		return nil
	}
	deviceID, err := s.device.ID(ctx)
	if err != nil {
		return err
	}
	if err := s.identity.UpdateDeviceFCMToken(ctx, deviceID, token); err != nil {
		return fmt.Errorf("failed to update push token: %w", err)
	}
	return nil
}

// Ceremonies exposes the ceremony orchestrator
func (s *AuthService) Ceremonies() *CeremonyOrchestrator {
	return s.ceremonies
}

// OTP exposes the phone login flow
func (s *AuthService) OTP() *OTPFlow {
	return s.otp
}

// Wait blocks until background enrollments have finished
func (s *AuthService) Wait() {
	s.enroller.Wait()
}

// Close waits for background work and detaches from the token manager
func (s *AuthService) Close() {
	s.enroller.Wait()
	s.unsubscribe()
}

func (s *AuthService) requireSession(ctx context.Context) error {
	ok, err := s.tokens.HasTokens(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrNotAuthenticated
	}
	return nil
}

func (s *AuthService) loggedIn(ctx context.Context, result core.LoginResult, phone, country string) core.AuthenticatedUser {
	user := core.AuthenticatedUser{IsLoggedIn: true}
	if result.User != nil {
		user.Profile = *result.User
	}
	if user.Profile.Phone == "" {
		user.Profile.Phone = phone
	}
	if user.Profile.Country == "" {
		user.Profile.Country = country
	}

	s.mu.Lock()
	s.user = user
	s.mu.Unlock()

	s.notify()
	s.publish(ctx, core.AuthStateLoggedIn)
	return user
}

func (s *AuthService) onSessionEvent(event SessionEvent) {
	ctx := context.Background()
	switch event.Kind {
	case SessionRefreshed:
		s.publish(ctx, core.AuthStateRefreshed)
	case SessionCleared:
		kind := core.AuthStateLoggedOut
		if event.Cause != nil {
			kind = core.AuthStateSessionExpired
		}
		s.publish(ctx, kind)

		s.mu.Lock()
		s.user = core.AuthenticatedUser{}
		s.mu.Unlock()
		s.notify()
	}
}

func (s *AuthService) notify() {
	s.mu.Lock()
	user := s.user
	observers := make([]func(core.AuthenticatedUser), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(user)
	}
}

func (s *AuthService) publish(ctx context.Context, kind core.AuthStateKind) {
	if s.events == nil {
		return
	}
	event := core.AuthStateEvent{
		Kind:  kind,
		Phone: s.CurrentUser().Profile.Phone,
		At:    s.now(),
	}
	if id, err := s.device.ID(ctx); err == nil {
		event.DeviceID = id
	}
	if err := s.events.PublishAuthState(ctx, event); err != nil {
		// The auth-state change already happened locally.
		s.logger.Warn("failed to publish auth state", zap.String("kind", string(kind)), zap.Error(err))
	}
}
