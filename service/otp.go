package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
	"github.com/myeganeh2876/MomentumPasskeyTest/ports"
)

// OTPState is the position of the phone login flow
type OTPState int

const (
	OTPIdle OTPState = iota
	OTPCodeRequested
	OTPVerified
)

func (s OTPState) String() string {
	switch s {
	case OTPIdle:
		return "idle"
	case OTPCodeRequested:
		return "code_requested"
	case OTPVerified:
		return "verified"
	default:
		return "unknown"
	}
}

// Code request throttle defaults
const (
	DefaultCodeRequestInterval = 30 * time.Second
	DefaultCodeRequestBurst    = 3
)

// OTPFlow requests and verifies phone verification codes
type OTPFlow struct {
	identity  ports.IdentityService
	tokens    *TokenManager
	device    *DeviceIdentity
	limiter   *rate.Limiter
	userAgent string
	logger    *zap.Logger

	mu      sync.Mutex
	state   OTPState
	phone   string
	country string
}

// NewOTPFlow creates a phone login flow. Code requests are limited to burst
// requests and then one per interval; a zero interval disables the limit.
func NewOTPFlow(
	identity ports.IdentityService,
	tokens *TokenManager,
	device *DeviceIdentity,
	userAgent string,
	interval time.Duration,
	burst int,
	logger *zap.Logger,
) *OTPFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	if burst <= 0 {
		burst = 1
	}
	return &OTPFlow{
		identity:  identity,
		tokens:    tokens,
		device:    device,
		limiter:   rate.NewLimiter(limit, burst),
		userAgent: userAgent,
		logger:    logger,
	}
}

// RequestCode asks the identity service to send a code to phone
func (f *OTPFlow) RequestCode(ctx context.Context, phone, country string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return fmt.Errorf("%w: phone is required", core.ErrInvalidInput)
	}
	if !f.limiter.Allow() {
		return core.ErrCodeRequestThrottled
	}

	if err := f.identity.RequestPhoneCode(ctx, phone, country); err != nil {
		f.logger.Warn("verification code request failed", zap.String("phone", phone), zap.Error(err))
		return fmt.Errorf("failed to request verification code: %w", err)
	}

	f.mu.Lock()
	f.state = OTPCodeRequested
	f.phone = phone
	f.country = country
	f.mu.Unlock()

	f.logger.Info("verification code requested", zap.String("phone", phone))
	return nil
}

// VerifyCode exchanges a code for a session and persists it
func (f *OTPFlow) VerifyCode(ctx context.Context, phone, code, country string) (core.LoginResult, error) {
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)
	if phone == "" || code == "" {
		return core.LoginResult{}, fmt.Errorf("%w: phone and code are required", core.ErrInvalidInput)
	}

	deviceID, err := f.device.ID(ctx)
	if err != nil {
		return core.LoginResult{}, err
	}
	fcmToken, err := f.device.FCMToken(ctx)
	if err != nil {
		return core.LoginResult{}, err
	}

	result, err := f.identity.VerifyPhoneCode(ctx, core.PhoneVerification{
		Phone:     phone,
		Code:      code,
		Country:   country,
		DeviceID:  deviceID,
		FCMToken:  fcmToken,
		UserAgent: f.userAgent,
	})
	if err != nil {
		return core.LoginResult{}, fmt.Errorf("failed to verify code: %w", err)
	}
	if err := f.tokens.Acquire(ctx, result.Tokens); err != nil {
		return core.LoginResult{}, err
	}

	f.mu.Lock()
	f.state = OTPVerified
	f.phone = phone
	f.country = country
	f.mu.Unlock()

	return result, nil
}

// State returns the current flow state
func (f *OTPFlow) State() OTPState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Pending returns the phone and country of the last code request
func (f *OTPFlow) Pending() (phone, country string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phone, f.country
}

// Reset returns the flow to idle
func (f *OTPFlow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = OTPIdle
	f.phone = ""
	f.country = ""
}
