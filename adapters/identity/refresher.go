package identity

import (
	"context"
	"fmt"
	"net/http"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
	"github.com/myeganeh2876/MomentumPasskeyTest/ports"
	transport "github.com/myeganeh2876/MomentumPasskeyTest/transport/http"
)

// Refresher exchanges refresh tokens over the bootstrap pipeline, so a
// rejected refresh never triggers another refresh.
type Refresher struct {
	bootstrap Doer
}

// NewRefresher creates a token refresher
func NewRefresher(bootstrap Doer) *Refresher {
	return &Refresher{bootstrap: bootstrap}
}

var _ ports.TokenRefresher = (*Refresher)(nil)

// Refresh requests a new access token and an optionally rotated refresh token
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (core.TokenPair, error) {
	var resp refreshResponse
	err := r.bootstrap.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   PathRefresh,
		Body:   refreshRequest{Refresh: refreshToken},
	}, &resp)
	if err != nil {
		return core.TokenPair{}, err
	}
	if resp.Access == "" {
		return core.TokenPair{}, fmt.Errorf("%w: refresh response carries no access token", core.ErrTransport)
	}
	return core.TokenPair{Access: resp.Access, Refresh: resp.Refresh}, nil
}
