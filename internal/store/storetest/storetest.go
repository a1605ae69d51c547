// Package storetest opens throwaway databases for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/store"
)

// SQLiteConfig returns the config of a fresh database file under t.TempDir.
func SQLiteConfig(t testing.TB) store.Config {
	t.Helper()
	return store.Config{
		Driver:       "sqlite",
		DSN:          filepath.Join(t.TempDir(), "tenants.db"),
		QueryTimeout: 5 * time.Second,
	}
}

// OpenSQLite opens an empty database without any schema.
func OpenSQLite(t testing.TB) (*store.DB, store.Config) {
	t.Helper()
	cfg := SQLiteConfig(t)
	db, err := store.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, cfg
}

// NewSQLite opens a database with the migrations applied and the schema
// evolved.
func NewSQLite(t testing.TB) *store.DB {
	t.Helper()
	db, cfg := OpenSQLite(t)
	report, err := store.Prepare(context.Background(), cfg, db)
	require.NoError(t, err)
	require.True(t, report.OK(), "schema evolution failed: %v", report.Failed)
	return db
}
