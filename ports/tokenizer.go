package ports

import (
	"context"
	"time"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
)

// TokenDecoder reads claims from tokens without verifying them
type TokenDecoder interface {
	// ExpiresAt returns the token's expiry claim
	ExpiresAt(token string) (time.Time, error)
}

// TokenRefresher exchanges a refresh token for a new token pair.
// The returned pair's Refresh is empty when the server did not rotate it.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (core.TokenPair, error)
}
