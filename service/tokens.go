package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
	"github.com/myeganeh2876/MomentumPasskeyTest/ports"
)

// Persisted client state keys
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyDeviceID     = "device_id"
	KeyFCMToken     = "fcm_token"
)

// RefreshTimeout bounds a shared refresh once it no longer follows its first caller
const RefreshTimeout = 30 * time.Second

// SessionEventKind enumerates session material changes
type SessionEventKind int

const (
	SessionAcquired SessionEventKind = iota
	SessionRefreshed
	SessionCleared
)

// SessionEvent is emitted to token observers after every session change
type SessionEvent struct {
	Kind  SessionEventKind
	Cause error // Why the session was cleared; nil for an explicit Clear
}

// TokenManager owns the session tokens in the credential store. It is the
// only writer of the access and refresh token keys.
type TokenManager struct {
	store     ports.Store
	decoder   ports.TokenDecoder
	refresher ports.TokenRefresher
	logger    *zap.Logger
	now       func() time.Time

	inflight singleflight.Group

	mu        sync.Mutex
	observers map[int]func(SessionEvent)
	nextID    int
}

// NewTokenManager creates a token manager
func NewTokenManager(
	store ports.Store,
	decoder ports.TokenDecoder,
	refresher ports.TokenRefresher,
	logger *zap.Logger,
) *TokenManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenManager{
		store:     store,
		decoder:   decoder,
		refresher: refresher,
		logger:    logger,
		now:       time.Now,
		observers: make(map[int]func(SessionEvent)),
	}
}

// Acquire persists a freshly issued token pair. Both tokens are required and
// are written in one atomic store operation.
func (m *TokenManager) Acquire(ctx context.Context, pair core.TokenPair) error {
	if pair.Access == "" || pair.Refresh == "" {
		return core.ErrInvalidTokenPair
	}
	if err := m.store.SetAll(ctx, map[string]string{
		KeyAccessToken:  pair.Access,
		KeyRefreshToken: pair.Refresh,
	}); err != nil {
		return fmt.Errorf("failed to persist tokens: %w", err)
	}
	m.emit(SessionEvent{Kind: SessionAcquired})
	return nil
}

// Session returns the stored session, or core.ErrNotAuthenticated
func (m *TokenManager) Session(ctx context.Context) (core.Session, error) {
	access, err := m.read(ctx, KeyAccessToken)
	if err != nil {
		return core.Session{}, err
	}
	refresh, err := m.read(ctx, KeyRefreshToken)
	if err != nil {
		return core.Session{}, err
	}
	if access == "" || refresh == "" {
		return core.Session{}, core.ErrNotAuthenticated
	}

	session := core.Session{AccessToken: access, RefreshToken: refresh}
	if exp, err := m.decoder.ExpiresAt(access); err == nil {
		session.ExpiresAt = exp
	}
	return session, nil
}

// HasTokens reports whether both tokens are stored
func (m *TokenManager) HasTokens(ctx context.Context) (bool, error) {
	_, err := m.Session(ctx)
	if errors.Is(err, core.ErrNotAuthenticated) {
		return false, nil
	}
	return err == nil, err
}

// AccessToken returns the stored access token, or "" when there is none
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	return m.read(ctx, KeyAccessToken)
}

// IsExpired reports whether the access token is absent, undecodable or past
// its expiry. It never touches the network.
func (m *TokenManager) IsExpired(ctx context.Context) bool {
	access, err := m.read(ctx, KeyAccessToken)
	if err != nil || access == "" {
		return true
	}
	exp, err := m.decoder.ExpiresAt(access)
	if err != nil {
		return true
	}
	return !m.now().Before(exp)
}

// Refresh renews the access token with the stored refresh token and returns
// the new access token. Concurrent calls share one request, which outlives
// the cancellation of any single caller. When there is no refresh token or
// the service rejects it the session is cleared and the error wraps
// core.ErrNotAuthenticated. Transport failures leave the session in place.
func (m *TokenManager) Refresh(ctx context.Context) (string, error) {
	results := m.inflight.DoChan("refresh", func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), RefreshTimeout)
		defer cancel()
		return m.refresh(shared)
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("failed to refresh tokens: %w", ctx.Err())
	case res := <-results:
		if res.Shared {
			m.logger.Debug("joined in-flight token refresh")
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	refresh, err := m.read(ctx, KeyRefreshToken)
	if err != nil {
		return "", err
	}
	if refresh == "" {
		cause := fmt.Errorf("%w: %w", core.ErrNotAuthenticated, core.ErrNoRefreshToken)
		m.clear(ctx, cause)
		return "", cause
	}

	pair, err := m.refresher.Refresh(ctx, refresh)
	if err != nil {
		if errors.Is(err, core.ErrAuthRejected) || errors.Is(err, core.ErrRequestRejected) {
			cause := fmt.Errorf("%w: refresh rejected: %w", core.ErrNotAuthenticated, err)
			m.clear(ctx, cause)
			return "", cause
		}
		return "", fmt.Errorf("failed to refresh tokens: %w", err)
	}
	if pair.Access == "" {
		return "", fmt.Errorf("%w: refresh returned no access token", core.ErrTransport)
	}
	if pair.Refresh == "" {
		pair.Refresh = refresh
	}

	if err := m.store.SetAll(ctx, map[string]string{
		KeyAccessToken:  pair.Access,
		KeyRefreshToken: pair.Refresh,
	}); err != nil {
		return "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	m.logger.Debug("session refreshed")
	m.emit(SessionEvent{Kind: SessionRefreshed})
	return pair.Access, nil
}

// Clear removes all session material. Clearing an empty session is a no-op.
func (m *TokenManager) Clear(ctx context.Context) error {
	return m.clear(ctx, nil)
}

func (m *TokenManager) clear(ctx context.Context, cause error) error {
	had, _ := m.HasTokens(ctx)
	if err := m.store.Delete(ctx, KeyAccessToken, KeyRefreshToken); err != nil {
		m.logger.Error("failed to clear session", zap.Error(err))
		return fmt.Errorf("failed to clear session: %w", err)
	}
	if had {
		if cause != nil {
			m.logger.Info("session cleared", zap.Error(cause))
		}
		m.emit(SessionEvent{Kind: SessionCleared, Cause: cause})
	}
	return nil
}

// Subscribe registers an observer of session changes and returns a function
// that removes it. Observers run synchronously on the changing goroutine.
func (m *TokenManager) Subscribe(fn func(SessionEvent)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.observers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

func (m *TokenManager) emit(event SessionEvent) {
	m.mu.Lock()
	observers := make([]func(SessionEvent), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	for _, fn := range observers {
		fn(event)
	}
}

// read returns the value of key, or "" when it is not stored
func (m *TokenManager) read(ctx context.Context, key string) (string, error) {
	value, err := m.store.Get(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}
