package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Well-known bvl_meta keys.
const (
	MetaLastSyncAt     = "last_sync_at"
	MetaLastSyncHash   = "last_sync_hash"
	MetaLastSyncCounts = "last_sync_counts"
	MetaAPIGeneration  = "api_generation"
)

// GetMeta returns the value for key, or "" when the key is absent.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.Do(ctx, "meta.get", func(c *Conn) error {
		err := c.DB.Get(&value, "SELECT value FROM bvl_meta WHERE key = ?", key)
		if errors.Is(err, sql.ErrNoRows) {
			value = ""
			return nil
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta upserts a key/value pair.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	err := s.Do(ctx, "meta.set", func(c *Conn) error {
		_, err := c.DB.Exec(
			`INSERT INTO bvl_meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// SyncLogEntry is one row of the append-only sync audit log.
type SyncLogEntry struct {
	ID      int64          `db:"id" json:"id"`
	TS      string         `db:"ts" json:"ts"`
	Success bool           `db:"success" json:"success"`
	Message string         `db:"message" json:"message"`
	Hash    sql.NullString `db:"hash" json:"hash"`
}

// AppendSyncLog appends an entry; a zero TS is stamped with the current time.
func (s *Store) AppendSyncLog(ctx context.Context, e SyncLogEntry) error {
	if e.TS == "" {
		e.TS = time.Now().UTC().Format(time.RFC3339)
	}
	err := s.Do(ctx, "synclog.append", func(c *Conn) error {
		_, err := c.DB.NamedExec(
			`INSERT INTO bvl_sync_log (ts, success, message, hash)
			 VALUES (:ts, :success, :message, :hash)`, e)
		return err
	})
	if err != nil {
		return fmt.Errorf("append sync log: %w", err)
	}
	return nil
}

// ListSyncLog returns the newest entries first, at most limit of them.
func (s *Store) ListSyncLog(ctx context.Context, limit int) ([]SyncLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []SyncLogEntry
	err := s.Do(ctx, "synclog.list", func(c *Conn) error {
		return c.DB.Select(&entries,
			"SELECT id, ts, success, message, hash FROM bvl_sync_log ORDER BY id DESC LIMIT ?", limit)
	})
	if err != nil {
		return nil, fmt.Errorf("list sync log: %w", err)
	}
	return entries, nil
}
