package bvl

import (
	"context"
	"testing"

	"psmdb/internal/store"
)

func TestQueryZulassungByMittel(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	ds := DatasetFromCollections(map[string][]map[string]any{
		"mittel": {{"kennr": "001-00", "mittelname": "TestMittel", "geringes_risiko": "J"}},
		"awg":    {{"awg_id": "A1", "kennr": "001-00"}},
	})
	if _, err := ImportDataset(ctx, st, ds); err != nil {
		t.Fatal(err)
	}

	rows, err := QueryZulassung(ctx, st, Filters{Mittel: "001-00"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Kennr != "001-00" || rows[0].Mittelname != "TestMittel" {
		t.Errorf("row = %+v", rows[0])
	}
	if !rows[0].GeringesRisiko {
		t.Error("geringes_risiko \"J\" must surface as true")
	}
}

func TestQueryZulassungExpiry(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	ds := Dataset{
		Mittel: []MittelRow{
			{Kennr: "001-00", Mittelname: "Expired", ZulEnde: "2020-01-31", Payload: "{}"},
			{Kennr: "002-00", Mittelname: "Current", ZulEnde: "2999-12-31", Payload: "{}"},
			{Kennr: "003-00", Mittelname: "OpenEnd", Payload: "{}"},
			{Kennr: "004-00", Mittelname: "Extended", ZulEnde: "2020-01-31", Payload: "{}"},
		},
		Awg: []AwgRow{
			{AwgID: "A1", Kennr: "001-00"},
			{AwgID: "A2", Kennr: "002-00"},
			{AwgID: "A3", Kennr: "003-00"},
			// Use-case level end overrides the expired product end.
			{AwgID: "A4", Kennr: "004-00", ZulEnde: "2999-06-30"},
		},
	}
	if _, err := ImportDataset(ctx, st, ds); err != nil {
		t.Fatal(err)
	}

	rows, err := QueryZulassung(ctx, st, Filters{})
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, r := range rows {
		got[r.AwgID] = true
	}
	if got["A1"] {
		t.Error("expired use-case A1 returned without include-expired")
	}
	for _, id := range []string{"A2", "A3", "A4"} {
		if !got[id] {
			t.Errorf("use-case %s missing from default result", id)
		}
	}

	rows, err = QueryZulassung(ctx, st, Filters{IncludeExpired: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Errorf("include-expired returned %d rows, want 4", len(rows))
	}
}

func TestQueryZulassungKulturFilter(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	ds := Dataset{
		Mittel: []MittelRow{{Kennr: "001-00", Mittelname: "Alpha", Payload: "{}"}},
		Awg: []AwgRow{
			{AwgID: "A1", Kennr: "001-00"},
			{AwgID: "A2", Kennr: "001-00"},
		},
		AwgKultur: []KulturRow{
			{AwgID: "A1", Kultur: "APFEL"},
			// Excluded association must not satisfy the filter.
			{AwgID: "A2", Kultur: "APFEL", Ausgenommen: true},
		},
	}
	if _, err := ImportDataset(ctx, st, ds); err != nil {
		t.Fatal(err)
	}

	rows, err := QueryZulassung(ctx, st, Filters{Kultur: "APFEL"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].AwgID != "A1" {
		t.Errorf("rows = %+v, want only A1", rows)
	}
}

func TestQueryZulassungTextSearch(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	ds := Dataset{
		Mittel: []MittelRow{
			{Kennr: "001-00", Mittelname: "Funghex Pro", Payload: "{}"},
			{Kennr: "002-00", Mittelname: "Other", Payload: "{}"},
		},
		Awg: []AwgRow{
			{AwgID: "A1", Kennr: "001-00"},
			{AwgID: "A2", Kennr: "002-00"},
		},
		AwgKultur:  []KulturRow{{AwgID: "A2", Kultur: "APFEL"}},
		KulturKode: []KodeRow{{Kode: "APFEL", Bezeichnung: "Kernobst Apfel"}},
	}
	if _, err := ImportDataset(ctx, st, ds); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		text string
		want string
	}{
		{"funghex", "A1"},  // product name, case-insensitive
		{"001-0", "A1"},    // registration number
		{"kernobst", "A2"}, // crop lookup label
		{"APFEL", "A2"},    // crop code
	}
	for _, tt := range tests {
		rows, err := QueryZulassung(ctx, st, Filters{Text: tt.text})
		if err != nil {
			t.Fatalf("text %q: %v", tt.text, err)
		}
		if len(rows) != 1 || rows[0].AwgID != tt.want {
			t.Errorf("text %q returned %+v, want only %s", tt.text, rows, tt.want)
		}
	}
}

func TestQueryZulassungChildren(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	menge := 0.75
	ds := Dataset{
		Mittel: []MittelRow{{Kennr: "001-00", Mittelname: "Alpha", Payload: "{}"}},
		Awg:    []AwgRow{{AwgID: "A1", Kennr: "001-00"}},
		AwgKultur: []KulturRow{
			{AwgID: "A1", Kultur: "APFEL", Sort: 1},
			{AwgID: "A1", Kultur: "BIRNE", Ausgenommen: true, Sort: 2},
		},
		AwgSchadorg:  []SchadorgRow{{AwgID: "A1", Schadorg: "LAUS"}},
		AwgAufwand:   []AufwandRow{{AwgID: "A1", Bedingung: "bis BBCH 59", Menge: &menge, Einheit: "l/ha"}},
		AwgWartezeit: []WartezeitRow{{Nr: 1, AwgID: "A1", Kultur: "APFEL", Tage: 35}},
		KulturKode:   []KodeRow{{Kode: "APFEL", Bezeichnung: "Apfel"}},
	}
	if _, err := ImportDataset(ctx, st, ds); err != nil {
		t.Fatal(err)
	}

	rows, err := QueryZulassung(ctx, st, Filters{Mittel: "001-00"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	z := rows[0]

	if len(z.Kulturen) != 2 {
		t.Fatalf("Kulturen = %+v, want 2 entries", z.Kulturen)
	}
	if z.Kulturen[0].Bezeichnung != "Apfel" {
		t.Errorf("crop label = %q, want lookup value", z.Kulturen[0].Bezeichnung)
	}
	if z.Kulturen[1].Bezeichnung != "BIRNE" {
		t.Errorf("unlabeled crop = %q, want the code itself", z.Kulturen[1].Bezeichnung)
	}
	if !z.Kulturen[1].Ausgenommen {
		t.Error("excluded crop lost its flag")
	}
	if len(z.Schadorg) != 1 || z.Schadorg[0].Kode != "LAUS" {
		t.Errorf("Schadorg = %+v", z.Schadorg)
	}
	if len(z.Aufwand) != 1 || z.Aufwand[0].Menge == nil || *z.Aufwand[0].Menge != 0.75 {
		t.Errorf("Aufwand = %+v", z.Aufwand)
	}
	if len(z.Wartezeit) != 1 || z.Wartezeit[0].Tage != 35 {
		t.Errorf("Wartezeit = %+v", z.Wartezeit)
	}
}

// Rows whose plain name column is empty must still resolve their name from
// the verbatim payload, both in search results and autocomplete.
func TestQueryPayloadFallback(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	err := st.Do(ctx, "test.seed", func(c *store.Conn) error {
		if _, err := c.DB.Exec(
			`INSERT INTO bvl_mittel (kennr, mittelname, payload) VALUES (?, '', ?)`,
			"009-00", `{"MITTELNAME":"Versteckt"}`); err != nil {
			return err
		}
		_, err := c.DB.Exec(
			`INSERT INTO bvl_awg (awg_id, kennr) VALUES (?, ?)`, "A9", "009-00")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	rows, err := QueryZulassung(ctx, st, Filters{Mittel: "009-00"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Mittelname != "Versteckt" {
		t.Errorf("rows = %+v, want name resolved from payload", rows)
	}

	rows, err = QueryZulassung(ctx, st, Filters{Text: "versteckt"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Errorf("text search over payload candidates returned %d rows", len(rows))
	}

	refs, err := ListMittel(ctx, st, "verst", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0].Name != "Versteckt" {
		t.Errorf("ListMittel = %+v", refs)
	}
}

func TestListMittel(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	ds := Dataset{
		Mittel: []MittelRow{
			{Kennr: "002-00", Mittelname: "Beta", Payload: "{}"},
			{Kennr: "001-00", Mittelname: "Alpha", Payload: "{}"},
			{Kennr: "003-00", Mittelname: "Gamma", Payload: "{}"},
		},
	}
	if _, err := ImportDataset(ctx, st, ds); err != nil {
		t.Fatal(err)
	}

	refs, err := ListMittel(ctx, st, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 3 || refs[0].Name != "Alpha" || refs[2].Name != "Gamma" {
		t.Errorf("unfiltered list = %+v, want name order", refs)
	}

	refs, err = ListMittel(ctx, st, "gam", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0].Kennr != "003-00" {
		t.Errorf("search = %+v", refs)
	}

	refs, err = ListMittel(ctx, st, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Errorf("limit ignored: %d entries", len(refs))
	}
}

func TestListCultures(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	ds := Dataset{
		Mittel: []MittelRow{{Kennr: "001-00", Payload: "{}"}},
		Awg: []AwgRow{
			{AwgID: "A1", Kennr: "001-00"},
			{AwgID: "A2", Kennr: "001-00"},
		},
		AwgKultur: []KulturRow{
			{AwgID: "A1", Kultur: "APFEL"},
			{AwgID: "A2", Kultur: "APFEL"},
			{AwgID: "A1", Kultur: "BIRNE"},
			// Excluded-only codes do not appear in the list.
			{AwgID: "A1", Kultur: "KIRSCHE", Ausgenommen: true},
		},
		KulturKode: []KodeRow{{Kode: "APFEL", Bezeichnung: "Apfel"}},
	}
	if _, err := ImportDataset(ctx, st, ds); err != nil {
		t.Fatal(err)
	}

	codes, err := ListCultures(ctx, st, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(codes) != 2 {
		t.Fatalf("codes = %+v, want 2", codes)
	}
	if codes[0].Kode != "APFEL" || codes[0].Count != 2 {
		t.Errorf("codes[0] = %+v, want APFEL with count 2", codes[0])
	}
	if codes[1].Kode != "BIRNE" || codes[1].Bezeichnung != "BIRNE" {
		t.Errorf("codes[1] = %+v, want unlabeled BIRNE", codes[1])
	}
}
