package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("creates database file and directory", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "nested", "dir", "cubes.db")

		db, err := Open(ctx, Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // Test cleanup

		if _, err := db.ExecContext(ctx, "CREATE TABLE t (id INTEGER)"); err != nil {
			t.Fatalf("CREATE TABLE error = %v", err)
		}
		if _, err := os.Stat(dbPath); err != nil {
			t.Errorf("database file was not created: %v", err)
		}
		if db.Path() != dbPath {
			t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
		}
	})

	t.Run("in-memory database", func(t *testing.T) {
		db, err := Open(ctx, Config{Path: ":memory:", BusyTimeout: 1})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // Test cleanup

		if stats := db.Stats(); stats.MaxOpenConnections != 1 {
			t.Errorf("MaxOpenConnections = %d, want 1", stats.MaxOpenConnections)
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		// A regular file where the directory should be makes every attempt fail.
		blocker := filepath.Join(t.TempDir(), "blocker")
		if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}

		attempts := 0
		_, err := Open(ctx, Config{
			Path: filepath.Join(blocker, "cubes.db"),
			Retry: RetryPolicy{
				MaxAttempts:  3,
				InitialDelay: time.Millisecond,
				MaxDelay:     time.Millisecond,
				OnRetry:      func(int, error, time.Duration) { attempts++ },
			},
		})
		if err == nil {
			t.Fatal("Open() expected error")
		}
		if attempts != 2 {
			t.Errorf("OnRetry called %d times, want 2", attempts)
		}
	})
}

func TestForeignKeysEnforced(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE parent (id TEXT PRIMARY KEY);
		CREATE TABLE child (parent_id TEXT NOT NULL REFERENCES parent(id));
	`); err != nil {
		t.Fatalf("schema error = %v", err)
	}

	_, err = db.ExecContext(ctx, "INSERT INTO child (parent_id) VALUES ('missing')")
	if !IsForeignKeyViolation(err) {
		t.Errorf("insert error = %v, want foreign key violation", err)
	}

	if _, err := db.ExecContext(ctx, "INSERT INTO parent (id) VALUES ('a')"); err != nil {
		t.Fatal(err)
	}
	_, err = db.ExecContext(ctx, "INSERT INTO parent (id) VALUES ('a')")
	if !IsUniqueViolation(err) {
		t.Errorf("duplicate insert error = %v, want unique violation", err)
	}
	if IsUniqueViolation(errors.New("plain")) || IsForeignKeyViolation(nil) {
		t.Error("non-sqlite errors must not classify as constraint violations")
	}
}

func TestHealthCheckAndClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := Open(ctx, Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	db.DB = nil
	if err := db.Close(); err != nil {
		t.Errorf("Close() on nil DB error = %v", err)
	}
}

func TestBeginTxRollback(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if _, err := db.ExecContext(ctx, "CREATE TABLE items (value TEXT)"); err != nil {
		t.Fatal(err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx() error = %v", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO items (value) VALUES ('x')"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("rows after rollback = %d, want 0", count)
	}
}
