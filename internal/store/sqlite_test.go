package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestNewSQLiteResultStore(t *testing.T) {
	tmpDir := t.TempDir()

	s, err := NewSQLiteResultStore(tmpDir)
	if err != nil {
		t.Fatalf("NewSQLiteResultStore() error = %v", err)
	}
	defer s.Close()

	dbPath := filepath.Join(tmpDir, ".shrubmanage", "results.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("results.db was not created")
	}
	if s.Path() != dbPath {
		t.Errorf("Path() = %s, want %s", s.Path(), dbPath)
	}
}

func TestSQLiteResultStore_PersistsAcrossReopen(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := context.Background()

	s, err := NewSQLiteResultStore(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.SaveRun(ctx, sampleRun(KindSingle))
	if err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteResultStore(tmpDir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun() after reopen error = %v", err)
	}
	if got.ID != id {
		t.Errorf("ID = %s, want %s", got.ID, id)
	}
	ds, err := reopened.Densities(ctx, id)
	if err != nil || len(ds) != 3 {
		t.Errorf("Densities() after reopen = %d rows, err %v", len(ds), err)
	}
}

func TestSQLiteResultStore_DuplicateID(t *testing.T) {
	s, err := NewSQLiteResultStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	rec := sampleRun(KindSingle)
	rec.ID = "fixed"
	if _, err := s.SaveRun(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveRun(ctx, rec); err == nil {
		t.Error("SaveRun() with a duplicate ID should fail")
	}

	// The failed insert must not leave partial densities behind.
	ds, err := s.Densities(ctx, "fixed")
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 3 {
		t.Errorf("densities = %d, want 3", len(ds))
	}
}

func openRawDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db")+"?_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInitSchema_Fresh(t *testing.T) {
	db := openRawDB(t)
	ctx := context.Background()

	if err := InitSchema(ctx, db); err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}
	version, err := getSchemaVersion(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if version != SchemaVersion {
		t.Errorf("version = %d, want %d", version, SchemaVersion)
	}

	// Second call is a no-op on an up-to-date schema.
	if err := InitSchema(ctx, db); err != nil {
		t.Fatalf("InitSchema() second call error = %v", err)
	}
}

func TestInitSchema_MigratesV1(t *testing.T) {
	db := openRawDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, schemaV1); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (1, datetime('now'))`); err != nil {
		t.Fatal(err)
	}

	if err := InitSchema(ctx, db); err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}

	version, err := getSchemaVersion(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if version != SchemaVersion {
		t.Errorf("version after migration = %d, want %d", version, SchemaVersion)
	}

	var removals int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('runs') WHERE name = 'removals'`).Scan(&removals); err != nil {
		t.Fatal(err)
	}
	if removals != 1 {
		t.Error("migration did not add runs.removals")
	}
}

func TestValidateIntegrity(t *testing.T) {
	db := openRawDB(t)
	ctx := context.Background()
	if err := InitSchema(ctx, db); err != nil {
		t.Fatal(err)
	}
	if err := ValidateIntegrity(ctx, db); err != nil {
		t.Errorf("ValidateIntegrity() on fresh db error = %v", err)
	}

	// Orphan a density row behind the foreign key's back.
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = OFF`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO densities (run_id, step, density) VALUES ('ghost', 1, 0.5)`); err != nil {
		t.Fatal(err)
	}
	if err := ValidateIntegrity(ctx, db); err == nil {
		t.Error("ValidateIntegrity() should report the orphaned density")
	}
}

// resetSchema drops every table and recreates the schema.
func resetSchema(ctx context.Context, db *sql.DB) error {
	for _, table := range []string{"sweep_cells", "sweeps", "densities", "runs", "schema_version"} {
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}
	return InitSchema(ctx, db)
}

func TestInitSchema_RecreatesDroppedTables(t *testing.T) {
	db := openRawDB(t)
	ctx := context.Background()
	if err := InitSchema(ctx, db); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO sweeps (id, name, row_param, col_param, row_values, col_values, base,
		steps, seed, controlled, uncontrolled, elapsed_ms, created_at)
		VALUES ('s', 'n', 'period', 'fraction', '[]', '[]', '{}', 1, 1, 0, 0, 0, 'x')`); err != nil {
		t.Fatal(err)
	}

	if err := resetSchema(ctx, db); err != nil {
		t.Fatalf("resetSchema() error = %v", err)
	}

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sweeps`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("sweeps after reset = %d, want 0", n)
	}
}
