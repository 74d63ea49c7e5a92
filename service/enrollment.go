package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
	"github.com/myeganeh2876/MomentumPasskeyTest/ports"
)

// DefaultEnrollmentTimeout bounds one opportunistic enrollment
const DefaultEnrollmentTimeout = 2 * time.Minute

// Enroller offers passkey enrollment after an OTP login. It runs in the
// background, outlives the login call and never reports failure to it.
type Enroller struct {
	identity   ports.IdentityService
	ceremonies *CeremonyOrchestrator
	name       string
	timeout    time.Duration
	logger     *zap.Logger

	wg sync.WaitGroup
}

// NewEnroller creates an enroller that registers passkeys named name
func NewEnroller(identity ports.IdentityService, ceremonies *CeremonyOrchestrator, name string, timeout time.Duration, logger *zap.Logger) *Enroller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultEnrollmentTimeout
	}
	return &Enroller{
		identity:   identity,
		ceremonies: ceremonies,
		name:       name,
		timeout:    timeout,
		logger:     logger,
	}
}

// Start launches one enrollment attempt. Cancelling ctx does not stop it.
func (e *Enroller) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()

		if err := e.enroll(ctx); err != nil {
			e.logger.Warn("passkey enrollment skipped", zap.Error(fmt.Errorf("%w: %w", core.ErrEnrollment, err)))
		}
	}()
}

// Wait blocks until every started enrollment has finished
func (e *Enroller) Wait() {
	e.wg.Wait()
}

func (e *Enroller) enroll(ctx context.Context) error {
	trigger, err := e.identity.PasskeyEnrollmentTrigger(ctx)
	if err != nil {
		return err
	}
	if trigger.HasPasskeys {
		e.logger.Debug("user already has passkeys")
		return nil
	}

	var credential core.PasskeyCredential
	if trigger.Challenge != nil {
		credential, err = e.ceremonies.RegisterWithChallenge(ctx, *trigger.Challenge, e.name)
	} else {
		credential, err = e.ceremonies.Register(ctx, e.name)
	}
	if err != nil {
		return err
	}

	e.logger.Info("passkey enrolled", zap.String("credential", credential.ID))
	return nil
}
