package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func withMigrations(t *testing.T, files fstest.MapFS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	MigrationsFS, MigrationsDir = files, "."
	t.Cleanup(func() { MigrationsFS, MigrationsDir = origFS, origDir })
}

func testMigrationFS() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_create_cubes.up.sql":   {Data: []byte("CREATE TABLE cubes (id TEXT PRIMARY KEY);")},
		"20260101_000000_create_cubes.down.sql": {Data: []byte("DROP TABLE cubes;")},
		"20260102_000000_add_types.up.sql":      {Data: []byte("CREATE TABLE sensor_types (name TEXT PRIMARY KEY);")},
		"20260102_000000_add_types.down.sql":    {Data: []byte("DROP TABLE sensor_types;")},
		"README.md":                             {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&count)
	if err != nil {
		t.Fatalf("checking table %s: %v", name, err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	withMigrations(t, testMigrationFS())
	ctx := context.Background()

	db, err := Open(ctx, Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "cubes") || !tableExists(t, db, "sensor_types") {
		t.Fatal("migrations did not create tables")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 2/0", len(applied), len(pending))
	}

	// Idempotent.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	withMigrations(t, testMigrationFS())
	ctx := context.Background()

	db, err := Open(ctx, Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if tableExists(t, db, "sensor_types") {
		t.Error("latest migration was not rolled back")
	}
	if !tableExists(t, db, "cubes") {
		t.Error("earlier migration should remain applied")
	}
}

func TestMigrate_FailureRollsBackThatMigration(t *testing.T) {
	files := testMigrationFS()
	files["20260103_000000_broken.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE ok_table (id TEXT); NOT VALID SQL;")}
	withMigrations(t, files)
	ctx := context.Background()

	db, err := Open(ctx, Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}
	if tableExists(t, db, "ok_table") {
		t.Error("partial migration was not rolled back")
	}

	applied, _, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 2 {
		t.Errorf("applied = %d, want 2", len(applied))
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		file    string
		version string
		name    string
		up      bool
		ok      bool
	}{
		{"20260301_090000_initial_schema.up.sql", "20260301_090000", "initial_schema", true, true},
		{"20260301_090000_initial_schema.down.sql", "20260301_090000", "initial_schema", false, true},
		{"20260301_090000_initial_schema.sql", "", "", false, false},
		{"notes.txt", "", "", false, false},
		{"single.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.file)
			if version != tt.version || up != tt.up || ok != tt.ok {
				t.Errorf("parseMigrationFilename(%q) = (%q, %q, %v, %v)", tt.file, version, name, up, ok)
			}
			if ok && name != tt.name {
				t.Errorf("name = %q, want %q", name, tt.name)
			}
		})
	}
}
