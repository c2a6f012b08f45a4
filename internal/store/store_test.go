package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpenModes(t *testing.T) {
	st := openTestStore(t)
	if st.Mode() != ModeMemory {
		t.Errorf("Mode() = %v, want memory", st.Mode())
	}

	path := filepath.Join(t.TempDir(), "app.db")
	fst, err := Open(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer fst.Close()
	if fst.Mode() != ModeFile {
		t.Errorf("Mode() = %v, want file", fst.Mode())
	}
}

func TestCloseRejectsCalls(t *testing.T) {
	st, err := Open(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}

	err = st.Do(context.Background(), "test", func(c *Conn) error { return nil })
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("Do after Close = %v, want ErrNotReady", err)
	}
	if _, err := st.GetMeta(context.Background(), "x"); !errors.Is(err, ErrNotReady) {
		t.Errorf("GetMeta after Close = %v, want ErrNotReady", err)
	}
}

func TestDoCanceledContext(t *testing.T) {
	st := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := st.Do(ctx, "test", func(c *Conn) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do with canceled context = %v", err)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	got, err := st.GetMeta(ctx, "absent")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("absent key = %q, want empty", got)
	}

	if err := st.SetMeta(ctx, MetaLastSyncHash, "abc"); err != nil {
		t.Fatal(err)
	}
	if err := st.SetMeta(ctx, MetaLastSyncHash, "def"); err != nil {
		t.Fatal(err)
	}
	got, err = st.GetMeta(ctx, MetaLastSyncHash)
	if err != nil {
		t.Fatal(err)
	}
	if got != "def" {
		t.Errorf("value = %q, want def (upsert)", got)
	}
}

func TestSyncLog(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e := SyncLogEntry{Success: i != 1, Message: "run"}
		if err := st.AppendSyncLog(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := st.ListSyncLog(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	// Newest first.
	if entries[0].ID <= entries[1].ID {
		t.Errorf("order: ids %d, %d", entries[0].ID, entries[1].ID)
	}
	if entries[0].TS == "" {
		t.Error("timestamp not stamped")
	}
	if entries[1].Success {
		t.Error("failed run listed as success")
	}
}

func TestMediumCRUD(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertMedium(ctx, Medium{Name: "no id"}); err == nil {
		t.Error("expected error for medium without id")
	}

	if err := st.UpsertMedium(ctx, Medium{ID: "m1", Name: "Bordeaux"}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertMedium(ctx, Medium{ID: "m2", Name: "Alger", Data: `{"n":1}`}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertMedium(ctx, Medium{ID: "m1", Name: "Bordeaux II"}); err != nil {
		t.Fatal(err)
	}

	mediums, err := st.ListMediums(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(mediums) != 2 {
		t.Fatalf("got %d mediums, want 2", len(mediums))
	}
	if mediums[0].Name != "Alger" || mediums[1].Name != "Bordeaux II" {
		t.Errorf("list = %+v, want name order with upserted value", mediums)
	}
	if mediums[1].Data != "{}" {
		t.Errorf("empty data = %q, want default {}", mediums[1].Data)
	}
	if mediums[0].UpdatedAt == "" {
		t.Error("updated_at not stamped")
	}

	if err := st.DeleteMedium(ctx, "m1"); err != nil {
		t.Fatal(err)
	}
	mediums, err = st.ListMediums(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(mediums) != 1 || mediums[0].ID != "m2" {
		t.Errorf("after delete = %+v", mediums)
	}
}

func TestHistory(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		id, err := st.AppendHistoryEntry(ctx, `{"sum":1}`, []string{`{"a":1}`, `{"b":2}`})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	entries, total, err := st.ListHistory(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(entries) != 2 || entries[0].ID != ids[4] {
		t.Errorf("page 1 = %+v, want newest first", entries)
	}

	entries, _, err = st.ListHistory(ctx, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != ids[0] {
		t.Errorf("last page = %+v", entries)
	}

	entry, items, err := st.GetHistoryEntry(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if entry.Header != `{"sum":1}` || len(items) != 2 {
		t.Errorf("entry = %+v items = %+v", entry, items)
	}

	if _, _, err := st.GetHistoryEntry(ctx, 9999); !errors.Is(err, ErrHistoryNotFound) {
		t.Errorf("unknown id error = %v", err)
	}
}

func TestHistoryCascadeDelete(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.AppendHistoryEntry(ctx, "{}", []string{"{}", "{}"})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.DeleteHistoryEntry(ctx, id); err != nil {
		t.Fatal(err)
	}

	var items int
	err = st.Do(ctx, "test.count", func(c *Conn) error {
		return c.DB.Get(&items, "SELECT COUNT(*) FROM history_item WHERE history_id = ?", id)
	})
	if err != nil {
		t.Fatal(err)
	}
	if items != 0 {
		t.Errorf("%d orphaned items after delete", items)
	}
}
