package tokenizer

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/myeganeh2876/MomentumPasskeyTest/ports"
)

// JWTDecoder reads claims from access tokens without verifying their signature.
// The client never holds the signing key; expiry is only used to decide
// whether a token is worth sending.
type JWTDecoder struct {
	parser *jwt.Parser
}

// NewJWTDecoder creates a new decoder
func NewJWTDecoder() *JWTDecoder {
	return &JWTDecoder{parser: jwt.NewParser()}
}

var _ ports.TokenDecoder = (*JWTDecoder)(nil)

// ExpiresAt returns the exp claim of token
func (d *JWTDecoder) ExpiresAt(token string) (time.Time, error) {
	// Only registered claims are decoded; user_id is numeric on some servers.
	claims := &jwt.RegisteredClaims{}
	if _, _, err := d.parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("decode token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("decode exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("token has no exp claim")
	}
	return exp.Time, nil
}
