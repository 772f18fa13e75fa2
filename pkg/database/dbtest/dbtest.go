// Package dbtest opens throwaway migrated databases for package tests.
package dbtest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/kraikub/katrade-accounts/pkg/database"
)

// Open returns a migrated SQLite database stored under t.TempDir().
func Open(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.Connect(database.Config{
		Driver:   database.DriverSQLite,
		DSN:      filepath.Join(t.TempDir(), "katrade.db"),
		MaxConns: 1,
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.Migrate(db)
	require.NoError(t, err)
	return db
}
