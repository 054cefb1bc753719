// Package testutil builds migrated in-memory databases for package tests.
package testutil

import (
	"context"
	"database/sql"
	"testing"

	"github.com/unclebandit/outreach-funnel/internal/db"
)

// NewTestDB returns a migrated in-memory SQLite database closed on cleanup.
func NewTestDB(t testing.TB) *sql.DB {
	t.Helper()

	conn, err := db.Open(context.Background(), db.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})

	if err := db.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return conn
}
