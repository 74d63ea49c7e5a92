package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
)

// LoginMethod is the credential path a login went through
type LoginMethod string

const (
	LoginMethodPasskey LoginMethod = "passkey"
	LoginMethodOTP     LoginMethod = "otp"
)

// FallbackTimeout bounds the code request made after the caller's context ended
const FallbackTimeout = 30 * time.Second

// LoginOutcome describes the result of a login attempt with fallback
type LoginOutcome struct {
	Method     LoginMethod
	Result     *core.LoginResult // Set when the passkey login succeeded
	Phone      string
	Country    string
	PasskeyErr error // Why the passkey path was abandoned
}

// CodeRequested reports whether the login fell back to a verification code
func (o LoginOutcome) CodeRequested() bool {
	return o.Method == LoginMethodOTP
}

// FallbackCoordinator degrades a failed passkey login to the phone code path
// without losing the phone and country the user entered.
type FallbackCoordinator struct {
	ceremonies *CeremonyOrchestrator
	otp        *OTPFlow
	logger     *zap.Logger

	mu         sync.Mutex
	suppressed map[string]bool
}

// NewFallbackCoordinator creates a fallback coordinator
func NewFallbackCoordinator(ceremonies *CeremonyOrchestrator, otp *OTPFlow, logger *zap.Logger) *FallbackCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackCoordinator{
		ceremonies: ceremonies,
		otp:        otp,
		logger:     logger,
		suppressed: make(map[string]bool),
	}
}

// Login tries the passkey path for phone, unless it already failed for that
// phone, and on failure requests a verification code instead.
func (c *FallbackCoordinator) Login(ctx context.Context, phone, country string) (LoginOutcome, error) {
	outcome := LoginOutcome{Phone: phone, Country: country}

	if !c.Suppressed(phone) {
		result, err := c.ceremonies.Authenticate(ctx, phone)
		if err == nil {
			outcome.Method = LoginMethodPasskey
			outcome.Result = &result
			return outcome, nil
		}

		c.suppress(phone)
		outcome.PasskeyErr = err
		c.logger.Info("falling back to verification code", zap.String("phone", phone), zap.Error(err))
	}

	outcome.Method = LoginMethodOTP

	// Cancelling the ceremony aborts the passkey path only; the code is still requested
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), FallbackTimeout)
		defer cancel()
	}
	if err := c.otp.RequestCode(ctx, phone, country); err != nil {
		return outcome, fmt.Errorf("fallback to verification code: %w", err)
	}
	return outcome, nil
}

// Suppressed reports whether the passkey path is disabled for phone
func (c *FallbackCoordinator) Suppressed(phone string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suppressed[phone]
}

// Reset re-enables the passkey path for every phone
func (c *FallbackCoordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suppressed = make(map[string]bool)
}

func (c *FallbackCoordinator) suppress(phone string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suppressed[phone] = true
}
