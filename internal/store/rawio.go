package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// quoteString quotes a trusted string for embedding in SQL text. Only used
// for paths of files this process created; user input always binds as a
// parameter.
func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ExportRaw returns a binary snapshot of the whole database, produced with
// VACUUM INTO so that it is consistent and compact regardless of mode.
func (s *Store) ExportRaw(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.Do(ctx, "raw.export", func(c *Conn) error {
		tmp := filepath.Join(os.TempDir(), fmt.Sprintf("psmdb-export-%d.db", os.Getpid()))
		os.Remove(tmp)
		defer os.Remove(tmp)

		if _, err := c.DB.Exec("VACUUM INTO " + quoteString(tmp)); err != nil {
			return fmt.Errorf("vacuum into: %w", err)
		}
		b, err := os.ReadFile(tmp)
		if err != nil {
			return err
		}
		data = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("export db: %w", err)
	}
	return data, nil
}

// ImportRaw replaces the active database with the given binary snapshot.
// The snapshot is first verified (consistency check, supported schema
// version). In file mode the database file is replaced and the handle
// reopened; in memory mode the snapshot's tables are replayed into the live
// handle. Either way the import is wholesale: nothing of the previous
// contents survives.
func (s *Store) ImportRaw(ctx context.Context, data []byte) error {
	tmp, err := writeTemp(data)
	if err != nil {
		return fmt.Errorf("import db: %w", err)
	}
	defer os.Remove(tmp)

	if err := verifySnapshotFile(tmp); err != nil {
		return fmt.Errorf("import db: %w", err)
	}

	err = s.Do(ctx, "raw.import", func(c *Conn) error {
		if s.mode == ModeFile {
			return c.importRawFile(data)
		}
		return c.importRawReplay(tmp)
	})
	if err != nil {
		return fmt.Errorf("import db: %w", err)
	}
	return nil
}

// importRawFile swaps the database file underneath a fresh handle.
func (c *Conn) importRawFile(data []byte) error {
	if err := c.DB.Close(); err != nil {
		return fmt.Errorf("close current handle: %w", err)
	}
	// WAL/journal leftovers of the old file must not leak into the new one.
	os.Remove(c.s.path + "-wal")
	os.Remove(c.s.path + "-shm")
	if err := os.WriteFile(c.s.path, data, 0o644); err != nil {
		return fmt.Errorf("replace database file: %w", err)
	}
	db, err := openDB(c.s.path)
	if err != nil {
		return err
	}
	if err := Migrate(db.DB); err != nil {
		db.Close()
		return err
	}
	c.swapDB(db)
	return nil
}

// importRawReplay rebuilds the in-memory database from the snapshot file by
// attaching it and copying every user table across.
func (c *Conn) importRawReplay(path string) error {
	db := c.DB

	if _, err := db.Exec("PRAGMA foreign_keys = OFF"); err != nil {
		return err
	}
	defer db.Exec("PRAGMA foreign_keys = ON")

	if _, err := db.Exec("ATTACH DATABASE " + quoteString(path) + " AS src"); err != nil {
		return fmt.Errorf("attach snapshot: %w", err)
	}
	defer db.Exec("DETACH DATABASE src")

	local, err := c.TablesWithPrefix("")
	if err != nil {
		return err
	}
	for _, t := range local {
		if _, err := db.Exec("DROP TABLE IF EXISTS main." + quoteIdent(t)); err != nil {
			return fmt.Errorf("drop %s: %w", t, err)
		}
	}

	rows, err := db.Query(
		"SELECT name, sql FROM src.sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND sql IS NOT NULL ORDER BY name")
	if err != nil {
		return fmt.Errorf("read snapshot schema: %w", err)
	}
	type srcTable struct{ name, ddl string }
	var tables []srcTable
	for rows.Next() {
		var st srcTable
		if err := rows.Scan(&st.name, &st.ddl); err != nil {
			rows.Close()
			return err
		}
		tables = append(tables, st)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, st := range tables {
		if _, err := db.Exec(st.ddl); err != nil {
			return fmt.Errorf("recreate %s: %w", st.name, err)
		}
		if _, err := db.Exec(fmt.Sprintf("INSERT INTO main.%s SELECT * FROM src.%s",
			quoteIdent(st.name), quoteIdent(st.name))); err != nil {
			return fmt.Errorf("copy %s: %w", st.name, err)
		}
	}

	// The replayed tables carry the snapshot's shape, so the version must
	// follow them or the catch-up migration below would no-op.
	var v int
	if err := db.QueryRow("PRAGMA src.user_version").Scan(&v); err != nil {
		return err
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
		return err
	}

	c.InvalidateColumns()
	return Migrate(db.DB)
}

func writeTemp(data []byte) (string, error) {
	f, err := os.CreateTemp("", "psmdb-import-*.db")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// verifySnapshotFile opens the snapshot read-only and rejects anything that
// fails the engine's consistency check or claims a newer schema.
func verifySnapshotFile(path string) error {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	v, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if v > SchemaVersion {
		return fmt.Errorf("snapshot schema version %d is newer than supported version %d", v, SchemaVersion)
	}
	return nil
}
