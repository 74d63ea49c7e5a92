package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
	"github.com/myeganeh2876/MomentumPasskeyTest/ports"
)

// DeviceIdentity holds the per-installation device identifier and push token
type DeviceIdentity struct {
	store ports.Store
	newID func() string

	mu sync.Mutex
}

// NewDeviceIdentity creates a device identity backed by store
func NewDeviceIdentity(store ports.Store) *DeviceIdentity {
	return &DeviceIdentity{store: store, newID: uuid.NewString}
}

// ID returns the device identifier, creating and persisting it on first use.
// Once written it never changes.
func (d *DeviceIdentity) ID(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, err := d.store.Get(ctx, KeyDeviceID)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	id = d.newID()
	if err := d.store.Set(ctx, KeyDeviceID, id); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	return id, nil
}

// FCMToken returns the stored push token, or "" when unset
func (d *DeviceIdentity) FCMToken(ctx context.Context) (string, error) {
	token, err := d.store.Get(ctx, KeyFCMToken)
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read push token: %w", err)
	}
	return token, nil
}

// SetFCMToken stores the push token; an empty token removes it
func (d *DeviceIdentity) SetFCMToken(ctx context.Context, token string) error {
	var err error
	if token == "" {
		err = d.store.Delete(ctx, KeyFCMToken)
	} else {
		err = d.store.Set(ctx, KeyFCMToken, token)
	}
	if err != nil {
		return fmt.Errorf("failed to store push token: %w", err)
	}
	return nil
}
