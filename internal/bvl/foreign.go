package bvl

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"psmdb/internal/store"
)

// MetaLastForeignImport records the manifest of the last foreign-instance
// import in bvl_meta.
const MetaLastForeignImport = "last_foreign_import"

type foreignTable struct {
	name string
	ddl  string
	cols []string
}

// ImportForeignInstance transplants the regulatory tables of a serialized
// foreign database of the same logical shape into the local store. For each
// foreign table matching the bvl_ prefix: create locally if absent (copying
// the foreign CREATE statement verbatim), intersect the column sets, delete
// local rows and copy every foreign row's intersecting columns. Tables with
// no common column are skipped with a count of zero. A hydration pass then
// recomputes the resolved product columns.
//
// The engine's consistency check runs after commit; a non-clean result fails
// the call even though the copied data is already durable. Treat that error
// as a monitoring signal, not as a rollback.
func ImportForeignInstance(ctx context.Context, st *store.Store, data []byte, manifest map[string]string) (Counts, error) {
	tmp, err := os.CreateTemp("", "psmdb-foreign-*.db")
	if err != nil {
		return nil, fmt.Errorf("import foreign instance: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("import foreign instance: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("import foreign instance: %w", err)
	}

	fdb, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open foreign instance: %w", err)
	}
	defer fdb.Close()
	fdb.SetMaxOpenConns(1)

	tables, err := foreignTables(fdb)
	if err != nil {
		return nil, err
	}

	counts := Counts{}
	err = st.Do(ctx, "bvl.import_foreign", func(c *store.Conn) error {
		c.InvalidateColumns()

		// Local column sets and existence, read before the transaction
		// pins the single connection.
		localCols := make(map[string][]string, len(tables))
		for _, ft := range tables {
			ok, err := c.HasTable(ft.name)
			if err != nil {
				return err
			}
			if ok {
				cols, err := c.Columns(ft.name)
				if err != nil {
					return err
				}
				localCols[ft.name] = cols
			}
		}

		// Copy order is whatever the foreign sqlite_master yields, so
		// referential checks stay out of the way until the end.
		if _, err := c.DB.Exec("PRAGMA foreign_keys = OFF"); err != nil {
			return err
		}
		defer c.DB.Exec("PRAGMA foreign_keys = ON")

		tx, err := c.DB.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, ft := range tables {
			local, exists := localCols[ft.name]
			if !exists {
				if _, err := tx.Exec(ft.ddl); err != nil {
					return fmt.Errorf("create %s from foreign schema: %w", ft.name, err)
				}
				local = ft.cols
			}

			common := intersect(ft.cols, local)
			if len(common) == 0 {
				counts[ft.name] = 0
				continue
			}

			if _, err := tx.Exec("DELETE FROM " + quoteIdent(ft.name)); err != nil {
				return fmt.Errorf("clear %s: %w", ft.name, err)
			}
			n, err := copyRows(tx, fdb, ft.name, common)
			if err != nil {
				return fmt.Errorf("copy %s: %w", ft.name, err)
			}
			counts[ft.name] = n
		}

		mittelCols := localCols[TableMittel]
		if mittelCols == nil {
			for _, ft := range tables {
				if ft.name == TableMittel {
					mittelCols = ft.cols
				}
			}
		}
		if mittelCols != nil {
			for _, stmt := range HydrateStatements(NewTableFields(TableMittel, mittelCols)) {
				if _, err := tx.Exec(stmt); err != nil {
					return fmt.Errorf("hydrate %s: %w", TableMittel, err)
				}
			}
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		c.InvalidateColumns()

		if manifest != nil {
			b, err := json.Marshal(manifest)
			if err == nil {
				_, err = c.DB.Exec(
					`INSERT INTO bvl_meta (key, value) VALUES (?, ?)
					 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
					MetaLastForeignImport, string(b))
			}
			if err != nil {
				return fmt.Errorf("record import manifest: %w", err)
			}
		}

		// Post-commit: the copy is durable whatever this finds.
		var result string
		if err := c.DB.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
			return fmt.Errorf("integrity check: %w", err)
		}
		if result != "ok" {
			return fmt.Errorf("integrity check after import: %s", result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// foreignTables enumerates the foreign instance's prefix-matching tables
// with their verbatim CREATE statements and column lists.
func foreignTables(fdb *sql.DB) ([]foreignTable, error) {
	rows, err := fdb.Query(
		"SELECT name, sql FROM sqlite_master WHERE type = 'table' AND name LIKE ? AND sql IS NOT NULL ORDER BY name",
		TablePrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("read foreign schema: %w", err)
	}
	// Application state shares the prefix but is never merged: the local
	// sync hash, manifests and audit log stay authoritative.
	skip := map[string]bool{"bvl_meta": true, "bvl_sync_log": true}

	var tables []foreignTable
	for rows.Next() {
		var ft foreignTable
		if err := rows.Scan(&ft.name, &ft.ddl); err != nil {
			rows.Close()
			return nil, err
		}
		if skip[ft.name] {
			continue
		}
		tables = append(tables, ft)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range tables {
		cols, err := foreignColumns(fdb, tables[i].name)
		if err != nil {
			return nil, err
		}
		tables[i].cols = cols
	}
	return tables, nil
}

func foreignColumns(fdb *sql.DB, table string) ([]string, error) {
	rows, err := fdb.Query(fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("introspect foreign columns for %s: %w", table, err)
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var cid, notnull, pk int
		var name, colType string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// copyRows streams every foreign row's common columns into the local table.
func copyRows(tx *sql.Tx, fdb *sql.DB, table string, cols []string) (int, error) {
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = quoteIdent(col)
	}
	colList := strings.Join(quoted, ", ")

	stmt, err := tx.Prepare(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), colList,
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	rows, err := fdb.Query(fmt.Sprintf("SELECT %s FROM %s", colList, quoteIdent(table)))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return 0, err
		}
		if _, err := stmt.Exec(vals...); err != nil {
			return 0, err
		}
		n++
	}
	return n, rows.Err()
}

// intersect keeps a's elements that also appear in b, preserving a's order.
func intersect(a, b []string) []string {
	var out []string
	for _, v := range a {
		if slices.Contains(b, v) {
			out = append(out, v)
		}
	}
	return out
}
