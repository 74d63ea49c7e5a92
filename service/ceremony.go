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

var errNoAuthenticator = fmt.Errorf("%w: no authenticator configured", core.ErrCeremonyAborted)

// CeremonyTransition is reported to ceremony observers on every state change
type CeremonyTransition struct {
	Kind  core.CeremonyKind
	State core.CeremonyState
	Err   error // Set when State is CeremonyFailed
}

// CeremonyOrchestrator runs passkey ceremonies in three strict steps:
// options fetch, platform ceremony, server verification. An attempt is never
// retried.
type CeremonyOrchestrator struct {
	identity      ports.IdentityService
	authenticator ports.Authenticator
	tokens        *TokenManager
	device        *DeviceIdentity
	userAgent     string
	logger        *zap.Logger

	mu                  sync.Mutex
	states              map[core.CeremonyKind]core.CeremonyState
	observers           []func(CeremonyTransition)
	credentialObservers []func([]core.PasskeyCredential)
}

// NewCeremonyOrchestrator creates a ceremony orchestrator
func NewCeremonyOrchestrator(
	identity ports.IdentityService,
	authenticator ports.Authenticator,
	tokens *TokenManager,
	device *DeviceIdentity,
	userAgent string,
	logger *zap.Logger,
) *CeremonyOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CeremonyOrchestrator{
		identity:      identity,
		authenticator: authenticator,
		tokens:        tokens,
		device:        device,
		userAgent:     userAgent,
		logger:        logger,
		states:        make(map[core.CeremonyKind]core.CeremonyState),
	}
}

// Authenticate logs in with a passkey for phone and persists the session
func (o *CeremonyOrchestrator) Authenticate(ctx context.Context, phone string) (core.LoginResult, error) {
	kind := core.CeremonyAuthentication
	if o.authenticator == nil {
		return core.LoginResult{}, o.fail(kind, errNoAuthenticator)
	}

	o.transition(kind, core.CeremonyOptionsRequested, nil)
	challenge, err := o.identity.PasskeyAuthenticationOptions(ctx, phone)
	if err != nil {
		return core.LoginResult{}, o.fail(kind, fmt.Errorf("failed to fetch authentication options: %w", err))
	}

	o.transition(kind, core.CeremonyAwaitingUser, nil)
	assertion, err := ceremony(ctx, challenge.Options.Timeout, func(ctx context.Context) (core.Assertion, error) {
		return o.authenticator.Get(ctx, challenge)
	})
	if err != nil {
		return core.LoginResult{}, o.fail(kind, err)
	}

	o.transition(kind, core.CeremonyVerifying, nil)
	deviceID, err := o.device.ID(ctx)
	if err != nil {
		return core.LoginResult{}, o.fail(kind, err)
	}
	fcmToken, err := o.device.FCMToken(ctx)
	if err != nil {
		return core.LoginResult{}, o.fail(kind, err)
	}

	result, err := o.identity.VerifyPasskeyAuthentication(ctx, core.AssertionSubmission{
		Assertion: assertion,
		Phone:     phone,
		DeviceID:  deviceID,
		FCMToken:  fcmToken,
		UserAgent: o.userAgent,
	})
	if err != nil {
		return core.LoginResult{}, o.fail(kind, fmt.Errorf("failed to verify passkey: %w", err))
	}
	if err := o.tokens.Acquire(ctx, result.Tokens); err != nil {
		return core.LoginResult{}, o.fail(kind, err)
	}

	o.transition(kind, core.CeremonySucceeded, nil)
	return result, nil
}

// Register enrolls a new passkey named name for the current user
func (o *CeremonyOrchestrator) Register(ctx context.Context, name string) (core.PasskeyCredential, error) {
	kind := core.CeremonyRegistration
	if o.authenticator == nil {
		return core.PasskeyCredential{}, o.fail(kind, errNoAuthenticator)
	}

	o.transition(kind, core.CeremonyOptionsRequested, nil)
	challenge, err := o.identity.PasskeyRegistrationOptions(ctx, name)
	if err != nil {
		return core.PasskeyCredential{}, o.fail(kind, fmt.Errorf("failed to fetch registration options: %w", err))
	}
	return o.register(ctx, challenge, name)
}

// RegisterWithChallenge enrolls a passkey using options the service already issued
func (o *CeremonyOrchestrator) RegisterWithChallenge(ctx context.Context, challenge core.RegistrationChallenge, name string) (core.PasskeyCredential, error) {
	o.transition(core.CeremonyRegistration, core.CeremonyOptionsRequested, nil)
	return o.register(ctx, challenge, name)
}

func (o *CeremonyOrchestrator) register(ctx context.Context, challenge core.RegistrationChallenge, name string) (core.PasskeyCredential, error) {
	kind := core.CeremonyRegistration
	if o.authenticator == nil {
		return core.PasskeyCredential{}, o.fail(kind, errNoAuthenticator)
	}

	o.transition(kind, core.CeremonyAwaitingUser, nil)
	attestation, err := ceremony(ctx, challenge.Options.Timeout, func(ctx context.Context) (core.Attestation, error) {
		return o.authenticator.Create(ctx, challenge)
	})
	if err != nil {
		return core.PasskeyCredential{}, o.fail(kind, err)
	}

	o.transition(kind, core.CeremonyVerifying, nil)
	credential, err := o.identity.VerifyPasskeyRegistration(ctx, core.AttestationSubmission{
		Attestation: attestation,
		Name:        name,
	})
	if err != nil {
		return core.PasskeyCredential{}, o.fail(kind, fmt.Errorf("failed to verify registration: %w", err))
	}

	o.transition(kind, core.CeremonySucceeded, nil)
	o.RefreshCredentials(ctx)
	return credential, nil
}

// RefreshCredentials re-fetches the passkey list and hands it to credential
// observers. Failures are logged.
func (o *CeremonyOrchestrator) RefreshCredentials(ctx context.Context) {
	credentials, err := o.identity.ListPasskeyCredentials(ctx)
	if err != nil {
		o.logger.Warn("failed to refresh passkey credentials", zap.Error(err))
		return
	}

	o.mu.Lock()
	observers := append([]func([]core.PasskeyCredential){}, o.credentialObservers...)
	o.mu.Unlock()

	for _, fn := range observers {
		fn(credentials)
	}
}

// State returns the state of the latest attempt of kind
func (o *CeremonyOrchestrator) State(kind core.CeremonyKind) core.CeremonyState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.states[kind]
}

// OnTransition registers a ceremony state observer
func (o *CeremonyOrchestrator) OnTransition(fn func(CeremonyTransition)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

// OnCredentialsChanged registers an observer of the refreshed passkey list
func (o *CeremonyOrchestrator) OnCredentialsChanged(fn func([]core.PasskeyCredential)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.credentialObservers = append(o.credentialObservers, fn)
}

func (o *CeremonyOrchestrator) fail(kind core.CeremonyKind, err error) error {
	o.logger.Warn("passkey ceremony failed", zap.String("ceremony", string(kind)), zap.Error(err))
	o.transition(kind, core.CeremonyFailed, err)
	return err
}

func (o *CeremonyOrchestrator) transition(kind core.CeremonyKind, state core.CeremonyState, err error) {
	o.mu.Lock()
	o.states[kind] = state
	observers := append([]func(CeremonyTransition){}, o.observers...)
	o.mu.Unlock()

	o.logger.Debug("passkey ceremony state",
		zap.String("ceremony", string(kind)), zap.Stringer("state", state))
	for _, fn := range observers {
		fn(CeremonyTransition{Kind: kind, State: state, Err: err})
	}
}

// ceremony runs one platform ceremony bounded by the options timeout (in
// milliseconds) and classifies its failure.
func ceremony[T any](ctx context.Context, timeoutMillis int, run func(context.Context) (T, error)) (T, error) {
	if timeoutMillis > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMillis)*time.Millisecond)
		defer cancel()
	}
	out, err := run(ctx)
	if err != nil {
		return out, classifyCeremonyError(err)
	}
	return out, nil
}

func classifyCeremonyError(err error) error {
	switch {
	case errors.Is(err, core.ErrCeremonyDeclined),
		errors.Is(err, core.ErrCeremonyTimedOut),
		errors.Is(err, core.ErrCeremonyAborted):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", core.ErrCeremonyTimedOut, err)
	default:
		return fmt.Errorf("%w: %w", core.ErrCeremonyAborted, err)
	}
}
