package stubidp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/myeganeh2876/MomentumPasskeyTest/adapters/tokenizer"
	"github.com/myeganeh2876/MomentumPasskeyTest/core"
	"github.com/myeganeh2876/MomentumPasskeyTest/ports"
)

var (
	errTokenRevoked = errors.New("token has been revoked")
)

// tokenService issues session pairs and rotates refresh tokens
type tokenService struct {
	tokenizer  *tokenizer.HMACTokenizer
	revoked    ports.Store
	accessTTL  time.Duration
	refreshTTL time.Duration
}

type issuedPair struct {
	Access  string
	Refresh string
}

func (t *tokenService) issue(userID, deviceID string) (issuedPair, error) {
	access, _, err := t.tokenizer.Issue(tokenizer.TokenTypeAccess, userID, deviceID, t.accessTTL)
	if err != nil {
		return issuedPair{}, fmt.Errorf("failed to create access token: %w", err)
	}
	refresh, _, err := t.tokenizer.Issue(tokenizer.TokenTypeRefresh, userID, deviceID, t.refreshTTL)
	if err != nil {
		return issuedPair{}, fmt.Errorf("failed to create refresh token: %w", err)
	}
	return issuedPair{Access: access, Refresh: refresh}, nil
}

// rotate invalidates a refresh token and issues a new pair for its session
func (t *tokenService) rotate(ctx context.Context, refresh string) (issuedPair, *tokenizer.Claims, error) {
	claims, err := t.tokenizer.Parse(refresh, tokenizer.TokenTypeRefresh)
	if err != nil {
		return issuedPair{}, nil, fmt.Errorf("invalid refresh token: %w", err)
	}

	revoked, err := t.isRevoked(ctx, claims.ID)
	if err != nil {
		return issuedPair{}, nil, err
	}
	if revoked {
		return issuedPair{}, nil, errTokenRevoked
	}

	// Invalidate the old refresh token before issuing its successor
	if err := t.revoke(ctx, claims.ID); err != nil {
		return issuedPair{}, nil, err
	}

	pair, err := t.issue(claims.UserID, claims.DeviceID)
	if err != nil {
		return issuedPair{}, nil, err
	}
	return pair, claims, nil
}

func (t *tokenService) validateAccess(access string) (*tokenizer.Claims, error) {
	claims, err := t.tokenizer.Parse(access, tokenizer.TokenTypeAccess)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	return claims, nil
}

func (t *tokenService) revoke(ctx context.Context, tokenID string) error {
	if err := t.revoked.Set(ctx, "revoked:"+tokenID, "1"); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}
	return nil
}

func (t *tokenService) isRevoked(ctx context.Context, tokenID string) (bool, error) {
	_, err := t.revoked.Get(ctx, "revoked:"+tokenID)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check token invalidation: %w", err)
	}
	return true, nil
}
