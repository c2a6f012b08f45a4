package store

import (
	"context"
	"fmt"
	"time"
)

// Medium is one entry of the user's ingredient catalog. Data carries the
// opaque JSON payload the UI works with; Name is kept as a plain column so
// listing needs no JSON decoding.
type Medium struct {
	ID        string `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	Data      string `db:"data" json:"data"`
	UpdatedAt string `db:"updated_at" json:"updatedAt"`
}

// UpsertMedium inserts or replaces a catalog entry by id.
func (s *Store) UpsertMedium(ctx context.Context, m Medium) error {
	if m.ID == "" {
		return fmt.Errorf("upsert medium: id is required")
	}
	if m.Data == "" {
		m.Data = "{}"
	}
	m.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	err := s.Do(ctx, "medium.upsert", func(c *Conn) error {
		_, err := c.DB.NamedExec(
			`INSERT INTO medium (id, name, data, updated_at)
			 VALUES (:id, :name, :data, :updated_at)
			 ON CONFLICT(id) DO UPDATE SET
			   name = excluded.name,
			   data = excluded.data,
			   updated_at = excluded.updated_at`, m)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert medium %s: %w", m.ID, err)
	}
	return nil
}

// DeleteMedium removes a catalog entry. Deleting an absent id is a no-op.
func (s *Store) DeleteMedium(ctx context.Context, id string) error {
	err := s.Do(ctx, "medium.delete", func(c *Conn) error {
		_, err := c.DB.Exec("DELETE FROM medium WHERE id = ?", id)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete medium %s: %w", id, err)
	}
	return nil
}

// ListMediums returns the whole catalog ordered by name.
func (s *Store) ListMediums(ctx context.Context) ([]Medium, error) {
	var out []Medium
	err := s.Do(ctx, "medium.list", func(c *Conn) error {
		return c.DB.Select(&out,
			"SELECT id, name, data, updated_at FROM medium ORDER BY name, id")
	})
	if err != nil {
		return nil, fmt.Errorf("list mediums: %w", err)
	}
	return out, nil
}
