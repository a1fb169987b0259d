// Package databasetest opens migrated in-memory databases for package tests.
package databasetest

import (
	"context"
	"testing"

	"github.com/CovCube/server/internal/infrastructure/database"
	_ "github.com/CovCube/server/migrations" // registers the embedded schema
)

// New returns an in-memory database with every migration applied,
// closed automatically when the test ends.
func New(t testing.TB) *database.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: ":memory:", BusyTimeout: 1})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}
