package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
	"github.com/myeganeh2876/MomentumPasskeyTest/ports"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS client_state (
	namespace TEXT NOT NULL,
	name      TEXT NOT NULL,
	value     TEXT NOT NULL,
	PRIMARY KEY (namespace, name)
)`

// SQLiteStore persists client state in a local SQLite file
type SQLiteStore struct {
	db        *sql.DB
	namespace string
}

// OpenSQLiteStore opens (and creates if needed) the database at path
func OpenSQLiteStore(ctx context.Context, path, namespace string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, namespace: namespace}, nil
}

var _ ports.Store = (*SQLiteStore)(nil)

// WithNamespace returns a store over the same database scoped to namespace
func (s *SQLiteStore) WithNamespace(namespace string) *SQLiteStore {
	return &SQLiteStore{db: s.db, namespace: namespace}
}

// Get retrieves a value by key
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM client_state WHERE namespace = ? AND name = ?`,
		s.namespace, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", core.ErrNotFound
		}
		return "", fmt.Errorf("%w: get %s: %w", core.ErrStoreOperationFailed, key, err)
	}
	return value, nil
}

// Set stores a key with a value
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	return s.SetAll(ctx, map[string]string{key: value})
}

// SetAll writes every pair inside one transaction
func (s *SQLiteStore) SetAll(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", core.ErrStoreOperationFailed, err)
	}
	defer tx.Rollback()

	for key, value := range values {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO client_state (namespace, name, value) VALUES (?, ?, ?)
			 ON CONFLICT (namespace, name) DO UPDATE SET value = excluded.value`,
			s.namespace, key, value,
		)
		if err != nil {
			return fmt.Errorf("%w: set %s: %w", core.ErrStoreOperationFailed, key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", core.ErrStoreOperationFailed, err)
	}
	return nil
}

// Delete removes keys
func (s *SQLiteStore) Delete(ctx context.Context, keys ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", core.ErrStoreOperationFailed, err)
	}
	defer tx.Rollback()

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM client_state WHERE namespace = ? AND name = ?`,
			s.namespace, key,
		); err != nil {
			return fmt.Errorf("%w: delete %s: %w", core.ErrStoreOperationFailed, key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", core.ErrStoreOperationFailed, err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
