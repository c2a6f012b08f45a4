package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// HistoryEntry is one saved calculation header.
type HistoryEntry struct {
	ID        int64  `db:"id" json:"id"`
	CreatedAt string `db:"created_at" json:"createdAt"`
	Header    string `db:"header" json:"header"`
}

// HistoryItem is one input ingredient of a saved calculation.
type HistoryItem struct {
	ID        int64  `db:"id" json:"id"`
	HistoryID int64  `db:"history_id" json:"historyId"`
	Data      string `db:"data" json:"data"`
}

// ErrHistoryNotFound is returned by GetHistoryEntry for an unknown id.
var ErrHistoryNotFound = errors.New("store: history entry not found")

// AppendHistoryEntry saves a header plus its detail rows in one transaction
// and returns the new header id.
func (s *Store) AppendHistoryEntry(ctx context.Context, header string, items []string) (int64, error) {
	if header == "" {
		header = "{}"
	}
	var id int64
	err := s.Do(ctx, "history.append", func(c *Conn) error {
		tx, err := c.DB.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		res, err := tx.Exec(
			"INSERT INTO history (created_at, header) VALUES (?, ?)",
			time.Now().UTC().Format(time.RFC3339), header)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}

		stmt, err := tx.Prepare("INSERT INTO history_item (history_id, data) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, item := range items {
			if item == "" {
				item = "{}"
			}
			if _, err := stmt.Exec(id, item); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("append history entry: %w", err)
	}
	return id, nil
}

// ListHistory returns one page of headers, newest first, plus the total count.
// Pages are 1-based.
func (s *Store) ListHistory(ctx context.Context, page, pageSize int) ([]HistoryEntry, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	var entries []HistoryEntry
	var total int
	err := s.Do(ctx, "history.list", func(c *Conn) error {
		if err := c.DB.Get(&total, "SELECT COUNT(*) FROM history"); err != nil {
			return err
		}
		return c.DB.Select(&entries,
			"SELECT id, created_at, header FROM history ORDER BY id DESC LIMIT ? OFFSET ?",
			pageSize, (page-1)*pageSize)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}
	return entries, total, nil
}

// GetHistoryEntry loads one header with all its detail rows.
func (s *Store) GetHistoryEntry(ctx context.Context, id int64) (HistoryEntry, []HistoryItem, error) {
	var entry HistoryEntry
	var items []HistoryItem
	err := s.Do(ctx, "history.get", func(c *Conn) error {
		err := c.DB.Get(&entry, "SELECT id, created_at, header FROM history WHERE id = ?", id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrHistoryNotFound
		}
		if err != nil {
			return err
		}
		return c.DB.Select(&items,
			"SELECT id, history_id, data FROM history_item WHERE history_id = ? ORDER BY id", id)
	})
	if err != nil {
		return HistoryEntry{}, nil, err
	}
	return entry, items, nil
}

// DeleteHistoryEntry removes a header; the engine cascades to its detail rows.
func (s *Store) DeleteHistoryEntry(ctx context.Context, id int64) error {
	err := s.Do(ctx, "history.delete", func(c *Conn) error {
		_, err := c.DB.Exec("DELETE FROM history WHERE id = ?", id)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete history entry %d: %w", id, err)
	}
	return nil
}
