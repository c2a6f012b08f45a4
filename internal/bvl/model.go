// Package bvl holds the offline copy of the plant-protection-product
// approval dataset: its row shapes, the schema-adaptive query builder that
// copes with the dataset's unstable column layout, and the all-or-nothing
// importers that replace it.
package bvl

// Regulatory table names. The foreign-instance importer keys on the shared
// prefix.
const (
	TablePrefix = "bvl_"

	TableMittel       = "bvl_mittel"
	TableAwg          = "bvl_awg"
	TableAwgKultur    = "bvl_awg_kultur"
	TableAwgSchadorg  = "bvl_awg_schadorg"
	TableAwgAufwand   = "bvl_awg_aufwand"
	TableAwgWartezeit = "bvl_awg_wartezeit"
	TableKulturKode   = "bvl_kultur_kode"
	TableSchadorgKode = "bvl_schadorg_kode"
)

// SyncCollections are the remote collections fetched by a sync attempt, in
// the fixed fetch order.
var SyncCollections = []string{
	"mittel",
	"awg",
	"awg_kultur",
	"awg_schadorg",
	"awg_aufwand",
	"awg_wartezeit",
}

// MittelRow is one product: a regulatory entity keyed by its registration
// number. Payload carries the verbatim source record for forward-compatible
// field recovery.
type MittelRow struct {
	Kennr           string `db:"kennr" json:"kennr"`
	Mittelname      string `db:"mittelname" json:"mittelname"`
	FormulierungArt string `db:"formulierung_art" json:"formulierungArt"`
	ZulErstmaligAm  string `db:"zul_erstmalig_am" json:"zulErstmaligAm"`
	ZulEnde         string `db:"zul_ende" json:"zulEnde"`
	GeringesRisiko  bool   `db:"geringes_risiko" json:"geringesRisiko"`
	Payload         string `db:"payload" json:"-"`
}

// AwgRow is one regulated use-case of a product. ZulEnde, when set,
// overrides the product-level approval end.
type AwgRow struct {
	AwgID   string `db:"awg_id" json:"awgId"`
	Kennr   string `db:"kennr" json:"kennr"`
	Status  string `db:"status" json:"status"`
	ZulEnde string `db:"zul_ende" json:"zulEnde"`
}

// KulturRow associates a crop code with a use-case. Ausgenommen marks the
// combination as explicitly not covered; it is part of the key because the
// same code can appear once covered and once excluded.
type KulturRow struct {
	AwgID       string `db:"awg_id" json:"awgId"`
	Kultur      string `db:"kultur" json:"kultur"`
	Ausgenommen bool   `db:"ausgenommen" json:"ausgenommen"`
	Sort        int    `db:"sort" json:"sort"`
}

// SchadorgRow associates a pest code with a use-case.
type SchadorgRow struct {
	AwgID       string `db:"awg_id" json:"awgId"`
	Schadorg    string `db:"schadorg" json:"schadorg"`
	Ausgenommen bool   `db:"ausgenommen" json:"ausgenommen"`
	Sort        int    `db:"sort" json:"sort"`
}

// AufwandRow is one dosage/water-volume rule under a named condition.
// Several rules per use-case under different conditions are expected.
type AufwandRow struct {
	AwgID     string   `db:"awg_id" json:"awgId"`
	Bedingung string   `db:"bedingung" json:"bedingung"`
	Sort      int      `db:"sort" json:"sort"`
	Menge     *float64 `db:"menge" json:"menge"`
	Einheit   string   `db:"einheit" json:"einheit"`
	WasserVon *float64 `db:"wasser_von" json:"wasserVon"`
	WasserBis *float64 `db:"wasser_bis" json:"wasserBis"`
}

// WartezeitRow is a days-before-harvest restriction for a use-case and crop.
type WartezeitRow struct {
	Nr            int    `db:"wartezeit_nr" json:"nr"`
	AwgID         string `db:"awg_id" json:"awgId"`
	Kultur        string `db:"kultur" json:"kultur"`
	Tage          int    `db:"tage" json:"tage"`
	BemerkungKode string `db:"bemerkung_kode" json:"bemerkungKode"`
	Bemerkung     string `db:"bemerkung" json:"bemerkung"`
}

// KodeRow is one code-to-label dictionary entry.
type KodeRow struct {
	Kode        string `db:"kode" json:"kode"`
	Bezeichnung string `db:"bezeichnung" json:"bezeichnung"`
}

// Dataset is a full replacement payload for the regulatory tables. The two
// lookup slices are replaced only when non-nil.
type Dataset struct {
	Mittel       []MittelRow
	Awg          []AwgRow
	AwgKultur    []KulturRow
	AwgSchadorg  []SchadorgRow
	AwgAufwand   []AufwandRow
	AwgWartezeit []WartezeitRow
	KulturKode   []KodeRow
	SchadorgKode []KodeRow
}

// Counts maps table name to the number of rows written by an import.
type Counts map[string]int
