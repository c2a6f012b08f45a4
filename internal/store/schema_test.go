package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
)

func openRawDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateFresh(t *testing.T) {
	db := openRawDB(t)
	if err := Migrate(db); err != nil {
		t.Fatal(err)
	}

	v, err := schemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if v != SchemaVersion {
		t.Errorf("user_version = %d, want %d", v, SchemaVersion)
	}

	for _, table := range []string{
		"bvl_meta", "bvl_sync_log", "medium", "history", "history_item",
		"bvl_mittel", "bvl_awg", "bvl_awg_kultur", "bvl_awg_schadorg",
		"bvl_awg_aufwand", "bvl_awg_wartezeit", "bvl_kultur_kode", "bvl_schadorg_kode",
	} {
		var n int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
			table).Scan(&n)
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("table %s missing after migration", table)
		}
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := openRawDB(t)
	if err := Migrate(db); err != nil {
		t.Fatal(err)
	}
	if err := Migrate(db); err != nil {
		t.Errorf("second run = %v, want no-op", err)
	}
}

func TestMigrateRefusesNewerSchema(t *testing.T) {
	db := openRawDB(t)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion+1)); err != nil {
		t.Fatal(err)
	}
	if err := Migrate(db); err == nil {
		t.Error("expected error for database from a newer build")
	}
}

func TestMigratePartialVersion(t *testing.T) {
	// A database stopped at an intermediate version picks up the
	// remaining steps.
	db := openRawDB(t)
	if err := Migrate(db); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("PRAGMA user_version = 2"); err != nil {
		t.Fatal(err)
	}
	if err := Migrate(db); err != nil {
		t.Fatal(err)
	}
	v, err := schemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if v != SchemaVersion {
		t.Errorf("user_version = %d, want %d", v, SchemaVersion)
	}
}

func TestMigrateHydratesLegacyRows(t *testing.T) {
	// Rows written before the current shape get their resolved columns
	// backfilled from the verbatim payload during the index migration.
	db := openRawDB(t)
	if err := Migrate(db); err != nil {
		t.Fatal(err)
	}
	_, err := db.Exec(
		`INSERT INTO bvl_mittel (kennr, payload) VALUES ('001-00', '{"MITTELNAME":"Alt","GERINGES_RISIKO":"J"}')`)
	if err != nil {
		t.Fatal(err)
	}
	// Rewind only the version: the data stays, the v4 step reruns.
	if _, err := db.Exec("PRAGMA user_version = 3"); err != nil {
		t.Fatal(err)
	}
	if err := Migrate(db); err != nil {
		t.Fatal(err)
	}

	var name string
	var risk int
	err = db.QueryRow(
		"SELECT COALESCE(mittelname, ''), geringes_risiko FROM bvl_mittel WHERE kennr = '001-00'").
		Scan(&name, &risk)
	if err != nil {
		t.Fatal(err)
	}
	if name != "Alt" || risk != 1 {
		t.Errorf("hydrated row = (%q, %d), want (Alt, 1)", name, risk)
	}
}

func TestReopenFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	ctx := context.Background()

	st, err := Open(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SetMeta(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st, err = Open(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	got, err := st.GetMeta(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if got != "v" {
		t.Errorf("value after reopen = %q, want v", got)
	}
}
