package store

import (
	"context"
	"fmt"
	"time"
)

// Snapshot is the flat JSON document produced by ExportSnapshot: metadata,
// the ingredient catalog and the calculation history. Regulatory tables are
// not part of it; they are rebuilt by sync or dataset import.
type Snapshot struct {
	Version    int               `json:"version"`
	ExportedAt string            `json:"exportedAt"`
	Meta       map[string]string `json:"meta"`
	Mediums    []Medium          `json:"mediums"`
	History    []SnapshotHistory `json:"history"`
}

// SnapshotHistory is one calculation with its detail payloads inlined.
type SnapshotHistory struct {
	CreatedAt string   `json:"createdAt"`
	Header    string   `json:"header"`
	Items     []string `json:"items"`
}

// ExportSnapshot reads meta, mediums and history into one document.
func (s *Store) ExportSnapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Version:    SchemaVersion,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Meta:       make(map[string]string),
	}
	err := s.Do(ctx, "snapshot.export", func(c *Conn) error {
		rows, err := c.DB.Query("SELECT key, value FROM bvl_meta ORDER BY key")
		if err != nil {
			return err
		}
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				rows.Close()
				return err
			}
			snap.Meta[k] = v
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if err := c.DB.Select(&snap.Mediums,
			"SELECT id, name, data, updated_at FROM medium ORDER BY id"); err != nil {
			return err
		}

		var headers []HistoryEntry
		if err := c.DB.Select(&headers,
			"SELECT id, created_at, header FROM history ORDER BY id"); err != nil {
			return err
		}
		for _, h := range headers {
			items, err := c.DB.Queryx(
				"SELECT data FROM history_item WHERE history_id = ? ORDER BY id", h.ID)
			if err != nil {
				return err
			}
			sh := SnapshotHistory{CreatedAt: h.CreatedAt, Header: h.Header}
			for items.Next() {
				var data string
				if err := items.Scan(&data); err != nil {
					items.Close()
					return err
				}
				sh.Items = append(sh.Items, data)
			}
			if err := items.Err(); err != nil {
				items.Close()
				return err
			}
			items.Close()
			snap.History = append(snap.History, sh)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("export snapshot: %w", err)
	}
	return snap, nil
}

// ImportSnapshot replaces meta, mediums and history with the document's
// contents in one transaction.
func (s *Store) ImportSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("import snapshot: empty document")
	}
	err := s.Do(ctx, "snapshot.import", func(c *Conn) error {
		tx, err := c.DB.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, stmt := range []string{
			"DELETE FROM history", // cascades to history_item
			"DELETE FROM medium",
			"DELETE FROM bvl_meta",
		} {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}

		for k, v := range snap.Meta {
			if _, err := tx.Exec("INSERT INTO bvl_meta (key, value) VALUES (?, ?)", k, v); err != nil {
				return err
			}
		}
		for _, m := range snap.Mediums {
			if _, err := tx.Exec(
				"INSERT INTO medium (id, name, data, updated_at) VALUES (?, ?, ?, ?)",
				m.ID, m.Name, m.Data, m.UpdatedAt); err != nil {
				return err
			}
		}
		for _, h := range snap.History {
			res, err := tx.Exec("INSERT INTO history (created_at, header) VALUES (?, ?)",
				h.CreatedAt, h.Header)
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			for _, item := range h.Items {
				if _, err := tx.Exec(
					"INSERT INTO history_item (history_id, data) VALUES (?, ?)", id, item); err != nil {
					return err
				}
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}
	return nil
}
