package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
)

// quoteIdent quotes a SQLite identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Columns returns the ordered column names of table, memoized for the
// lifetime of the handle. The cache must be invalidated after any schema
// migration or full-table replace.
func (c *Conn) Columns(table string) ([]string, error) {
	if cols, ok := c.s.cols[table]; ok {
		return cols, nil
	}
	cols, err := tableColumns(c.DB.DB, table)
	if err != nil {
		return nil, err
	}
	c.s.cols[table] = cols
	return cols, nil
}

// HasColumn reports whether table has a column named name.
func (c *Conn) HasColumn(table, name string) (bool, error) {
	cols, err := c.Columns(table)
	if err != nil {
		return false, err
	}
	return slices.Contains(cols, name), nil
}

// HasTable reports whether a table named name exists.
func (c *Conn) HasTable(name string) (bool, error) {
	var n int
	err := c.DB.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}

// TablesWithPrefix lists user tables whose name starts with prefix, sorted.
func (c *Conn) TablesWithPrefix(prefix string) ([]string, error) {
	rows, err := c.DB.Query(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE ? AND name NOT LIKE 'sqlite_%' ORDER BY name",
		prefix+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return collectStrings(rows)
}

// InvalidateColumns clears the column cache. Callers that migrate, replace or
// create tables must invalidate before the next introspection.
func (c *Conn) InvalidateColumns() {
	c.s.cols = make(map[string][]string)
}

// tableColumns reads column names straight from the live schema.
func tableColumns(db *sql.DB, table string) ([]string, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("introspect columns for %s: %w", table, err)
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

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// TableDiagnosis describes one live table for support output.
type TableDiagnosis struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Indexes []string `json:"indexes"`
}

// Diagnosis is the result of Diagnose.
type Diagnosis struct {
	SchemaVersion int              `json:"schemaVersion"`
	Mode          Mode             `json:"mode"`
	Tables        []TableDiagnosis `json:"tables"`
}

// Diagnose dumps the live column and index metadata plus the current schema
// version, for support and debugging.
func (s *Store) Diagnose(ctx context.Context) (Diagnosis, error) {
	d := Diagnosis{Mode: s.mode}
	err := s.Do(ctx, "diagnose", func(c *Conn) error {
		v, err := schemaVersion(c.DB.DB)
		if err != nil {
			return err
		}
		d.SchemaVersion = v

		tables, err := c.TablesWithPrefix("")
		if err != nil {
			return err
		}
		for _, t := range tables {
			cols, err := tableColumns(c.DB.DB, t)
			if err != nil {
				return err
			}
			idxRows, err := c.DB.Query(fmt.Sprintf("PRAGMA index_list(%s)", quoteIdent(t)))
			if err != nil {
				return fmt.Errorf("introspect indexes for %s: %w", t, err)
			}
			var indexes []string
			for idxRows.Next() {
				var seq, unique, partial int
				var name, origin string
				if err := idxRows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
					idxRows.Close()
					return err
				}
				indexes = append(indexes, name)
			}
			if err := idxRows.Err(); err != nil {
				idxRows.Close()
				return err
			}
			idxRows.Close()

			d.Tables = append(d.Tables, TableDiagnosis{Name: t, Columns: cols, Indexes: indexes})
		}
		return nil
	})
	return d, err
}
