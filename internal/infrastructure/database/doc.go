// Package database provides SQLite connectivity for the cube server.
//
// This package manages:
//   - Opening the database with foreign keys enforced and WAL mode
//   - Retrying the initial connection according to a RetryPolicy
//   - Embedded, versioned schema migrations
//   - Constraint error classification for repositories
//
// All queries use parameterised statements. The database file is created
// with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:  cfg.Database.Path,
//	    Retry: database.RetryPolicy{MaxAttempts: 0, InitialDelay: time.Second},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
