package ports

import (
	"context"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
)

// Authenticator is the platform credential-ceremony capability.
// Both calls block until the user completes or cancels the interaction and
// must use the options exactly as given. Failures wrap core.ErrCeremonyDeclined,
// core.ErrCeremonyTimedOut or core.ErrCeremonyAborted.
type Authenticator interface {
	Create(ctx context.Context, challenge core.RegistrationChallenge) (core.Attestation, error)
	Get(ctx context.Context, challenge core.AuthenticationChallenge) (core.Assertion, error)
}
