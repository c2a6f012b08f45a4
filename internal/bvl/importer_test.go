package bvl

import (
	"context"
	"testing"

	"psmdb/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func countRows(t *testing.T, st *store.Store, table string) int {
	t.Helper()
	var n int
	err := st.Do(context.Background(), "test.count", func(c *store.Conn) error {
		return c.DB.Get(&n, "SELECT COUNT(*) FROM "+table)
	})
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func sampleDataset() Dataset {
	menge := 1.5
	return Dataset{
		Mittel: []MittelRow{
			{Kennr: "001-00", Mittelname: "Alpha", GeringesRisiko: true, Payload: "{}"},
			{Kennr: "002-00", Mittelname: "Beta", Payload: "{}"},
		},
		Awg: []AwgRow{
			{AwgID: "A1", Kennr: "001-00", Status: `"zugelassen"`},
			{AwgID: "A2", Kennr: "002-00"},
		},
		AwgKultur: []KulturRow{
			{AwgID: "A1", Kultur: "APFEL"},
			{AwgID: "A1", Kultur: "BIRNE", Ausgenommen: true},
		},
		AwgSchadorg: []SchadorgRow{
			{AwgID: "A1", Schadorg: "LAUS"},
		},
		AwgAufwand: []AufwandRow{
			{AwgID: "A1", Bedingung: "bis BBCH 59", Menge: &menge, Einheit: "l/ha"},
		},
		AwgWartezeit: []WartezeitRow{
			{Nr: 1, AwgID: "A1", Kultur: "APFEL", Tage: 35},
		},
		KulturKode:   []KodeRow{{Kode: "APFEL", Bezeichnung: "Apfel"}},
		SchadorgKode: []KodeRow{{Kode: "LAUS", Bezeichnung: "Blattlaus"}},
	}
}

func TestImportDataset(t *testing.T) {
	st := openTestStore(t)
	counts, err := ImportDataset(context.Background(), st, sampleDataset())
	if err != nil {
		t.Fatal(err)
	}

	want := Counts{
		TableMittel:       2,
		TableAwg:          2,
		TableAwgKultur:    2,
		TableAwgSchadorg:  1,
		TableAwgAufwand:   1,
		TableAwgWartezeit: 1,
		TableKulturKode:   1,
		TableSchadorgKode: 1,
	}
	for table, n := range want {
		if counts[table] != n {
			t.Errorf("counts[%s] = %d, want %d", table, counts[table], n)
		}
		if got := countRows(t, st, table); got != n {
			t.Errorf("%s has %d rows, want %d", table, got, n)
		}
	}
}

func TestImportDatasetReplaces(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if _, err := ImportDataset(ctx, st, sampleDataset()); err != nil {
		t.Fatal(err)
	}

	// Second import with a smaller dataset and no lookups: regulatory
	// tables are replaced, lookup tables stay.
	small := Dataset{
		Mittel: []MittelRow{{Kennr: "003-00", Mittelname: "Gamma", Payload: "{}"}},
		Awg:    []AwgRow{{AwgID: "B1", Kennr: "003-00"}},
	}
	if _, err := ImportDataset(ctx, st, small); err != nil {
		t.Fatal(err)
	}

	if got := countRows(t, st, TableMittel); got != 1 {
		t.Errorf("bvl_mittel has %d rows after replace, want 1", got)
	}
	if got := countRows(t, st, TableAwgKultur); got != 0 {
		t.Errorf("bvl_awg_kultur has %d rows after replace, want 0", got)
	}
	if got := countRows(t, st, TableKulturKode); got != 1 {
		t.Errorf("lookup table replaced despite nil slice: %d rows", got)
	}
}

func TestImportDatasetAtomic(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if _, err := ImportDataset(ctx, st, sampleDataset()); err != nil {
		t.Fatal(err)
	}

	// The dangling use-case violates the foreign key; the whole import
	// must roll back and the previous data survive.
	bad := Dataset{
		Mittel: []MittelRow{{Kennr: "010-00", Mittelname: "New", Payload: "{}"}},
		Awg:    []AwgRow{{AwgID: "X1", Kennr: "missing"}},
	}
	if _, err := ImportDataset(ctx, st, bad); err == nil {
		t.Fatal("expected foreign key violation")
	}

	if got := countRows(t, st, TableMittel); got != 2 {
		t.Errorf("bvl_mittel has %d rows after failed import, want 2", got)
	}
	if got := countRows(t, st, TableAwgWartezeit); got != 1 {
		t.Errorf("bvl_awg_wartezeit has %d rows after failed import, want 1", got)
	}
}

func TestExclusionFlagKey(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	ds := Dataset{
		Mittel: []MittelRow{{Kennr: "001-00", Payload: "{}"}},
		Awg:    []AwgRow{{AwgID: "A1", Kennr: "001-00"}},
		AwgKultur: []KulturRow{
			{AwgID: "A1", Kultur: "APFEL", Ausgenommen: false},
			{AwgID: "A1", Kultur: "APFEL", Ausgenommen: true},
		},
	}
	if _, err := ImportDataset(ctx, st, ds); err != nil {
		t.Fatalf("covered+excluded pair must be two distinct rows: %v", err)
	}
	if got := countRows(t, st, TableAwgKultur); got != 2 {
		t.Errorf("got %d rows, want 2", got)
	}

	ds.AwgKultur[1].Ausgenommen = false
	if _, err := ImportDataset(ctx, st, ds); err == nil {
		t.Error("identical pair with the same flag must violate the primary key")
	}
}

func TestImportDatasetCascadeDelete(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if _, err := ImportDataset(ctx, st, sampleDataset()); err != nil {
		t.Fatal(err)
	}

	err := st.Do(ctx, "test.delete", func(c *store.Conn) error {
		_, err := c.DB.Exec("DELETE FROM bvl_mittel WHERE kennr = ?", "001-00")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, table := range []string{TableAwgKultur, TableAwgSchadorg, TableAwgAufwand, TableAwgWartezeit} {
		if got := countRows(t, st, table); got != 0 {
			t.Errorf("%s has %d rows after product delete, want 0", table, got)
		}
	}
	if got := countRows(t, st, TableAwg); got != 1 {
		t.Errorf("bvl_awg has %d rows, want 1 (the other product's use-case)", got)
	}
}

func TestImportDatasetHydration(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	ds := Dataset{
		Mittel: []MittelRow{{
			Kennr:   "001-00",
			Payload: `{"MITTELNAME":"Aus Payload","GERINGES_RISIKO":"J"}`,
		}},
	}
	if _, err := ImportDataset(ctx, st, ds); err != nil {
		t.Fatal(err)
	}

	var name string
	var risk int
	err := st.Do(ctx, "test.read", func(c *store.Conn) error {
		return c.DB.QueryRow(
			"SELECT mittelname, geringes_risiko FROM bvl_mittel WHERE kennr = ?",
			"001-00").Scan(&name, &risk)
	})
	if err != nil {
		t.Fatal(err)
	}
	if name != "Aus Payload" {
		t.Errorf("mittelname = %q, want hydrated value from payload", name)
	}
	if risk != 1 {
		t.Errorf("geringes_risiko = %d, want 1", risk)
	}
}
