// Package dbtest opens migrated throwaway databases for package tests.
package dbtest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"unilink/backend/db"
)

// New returns a migrated sqlite database under t.TempDir, closed on cleanup.
func New(t testing.TB) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, db.ApplyMigrations(path))

	conn, err := db.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// InsertProfile creates a bare profile row and returns its id.
func InsertProfile(t testing.TB, conn *sql.DB, username, role string) int64 {
	t.Helper()

	now := db.Now()
	res, err := conn.Exec(`INSERT INTO profiles (email, username, password_hash, full_name, role, created_at, updated_at)
		VALUES (?, ?, 'x', ?, ?, ?, ?)`, username+"@uni.test", username, username, role, now, now)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}
