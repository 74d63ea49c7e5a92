package tokenizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned when a token fails verification
	ErrInvalidToken = errors.New("invalid token")

	// ErrWrongTokenType is returned when a token of another type is presented
	ErrWrongTokenType = errors.New("wrong token type")
)

// HMACTokenizer issues and verifies HS256 session tokens.
// It backs the development identity service.
type HMACTokenizer struct {
	secret []byte
	clock  func() time.Time
}

// NewHMACTokenizer creates a new tokenizer signing with secret
func NewHMACTokenizer(secret []byte) *HMACTokenizer {
	return &HMACTokenizer{secret: secret, clock: time.Now}
}

// Issue signs a token of tokenType for the user and device
func (t *HMACTokenizer) Issue(tokenType, userID, deviceID string, ttl time.Duration) (string, *Claims, error) {
	now := t.clock()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType: tokenType,
		UserID:    userID,
		DeviceID:  deviceID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, claims, nil
}

// Parse verifies a token and checks its type
func (t *HMACTokenizer) Parse(tokenStr, tokenType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.clock),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenType {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}
