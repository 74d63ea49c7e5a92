package ports

import (
	"context"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
)

// EventPublisher publishes auth-state transitions to other processes
type EventPublisher interface {
	PublishAuthState(ctx context.Context, event core.AuthStateEvent) error
}
