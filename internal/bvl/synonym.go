package bvl

import (
	"strings"

	"psmdb/internal/store"
)

// FieldSpec describes how a logical field maps onto whichever physical
// columns the live schema happens to have. Resolution order: first existing,
// non-empty candidate column; then the first non-empty JSON path extracted
// from the payload column; then the fallback.
type FieldSpec struct {
	Name          string
	Columns       []string
	JSONPaths     []string
	PayloadColumn string // defaults to "payload"

	// FallbackColumn is used verbatim when present in the table (typically
	// the primary key); otherwise FallbackLiteral, a trusted SQL literal,
	// closes the chain. Empty means NULL.
	FallbackColumn  string
	FallbackLiteral string
}

// The dataset's known column spellings per logical field. These lists are
// the single source of truth for both read-time projection and write-time
// hydration, so a record's resolved value is stable regardless of which
// physical columns are populated.
var (
	FieldMittelName = FieldSpec{
		Name:           "mittelname",
		Columns:        []string{"mittelname", "mittel_name", "name"},
		JSONPaths:      []string{"mittelname", "MITTELNAME", "mittel_name"},
		FallbackColumn: "kennr",
	}
	FieldFormulierung = FieldSpec{
		Name:            "formulierung_art",
		Columns:         []string{"formulierung_art", "formulierung"},
		JSONPaths:       []string{"formulierung_art", "FORMULIERUNG_ART"},
		FallbackLiteral: "''",
	}
	FieldMittelZulEnde = FieldSpec{
		Name:      "zul_ende",
		Columns:   []string{"zul_ende", "zulassungsende"},
		JSONPaths: []string{"zul_ende", "ZUL_ENDE"},
	}
	FieldGeringesRisiko = FieldSpec{
		Name:      "geringes_risiko",
		Columns:   []string{"geringes_risiko"},
		JSONPaths: []string{"geringes_risiko", "GERINGES_RISIKO"},
	}
)

// TableFields is the capability descriptor of one live table: which columns
// exist right now. It is computed once per query or import and passed
// explicitly, so resolution never probes the schema mid-statement.
type TableFields struct {
	Table string
	cols  map[string]bool
}

// NewTableFields builds a descriptor from an already-known column list.
func NewTableFields(table string, cols []string) TableFields {
	m := make(map[string]bool, len(cols))
	for _, c := range cols {
		m[c] = true
	}
	return TableFields{Table: table, cols: m}
}

// FieldsOf reads the descriptor for table through the introspection cache.
func FieldsOf(c *store.Conn, table string) (TableFields, error) {
	cols, err := c.Columns(table)
	if err != nil {
		return TableFields{}, err
	}
	return NewTableFields(table, cols), nil
}

// Has reports whether the table currently has the column.
func (tf TableFields) Has(col string) bool { return tf.cols[col] }

// quoteIdent quotes a SQLite identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (spec FieldSpec) payloadCol() string {
	if spec.PayloadColumn != "" {
		return spec.PayloadColumn
	}
	return "payload"
}

// candidateExprs lists the raw SQL expressions for every candidate that
// exists in the live table, columns first, JSON paths second.
func (spec FieldSpec) candidateExprs(tf TableFields, alias string) []string {
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}
	var exprs []string
	for _, col := range spec.Columns {
		if tf.Has(col) {
			exprs = append(exprs, prefix+quoteIdent(col))
		}
	}
	if payload := spec.payloadCol(); tf.Has(payload) {
		for _, path := range spec.JSONPaths {
			exprs = append(exprs,
				"json_extract("+prefix+quoteIdent(payload)+", '$."+path+"')")
		}
	}
	return exprs
}

// ResolveExpr emits the SQL expression that resolves the field against the
// live table: the first non-empty candidate after trimming, else the
// fallback. alias prefixes column references ("" for none).
func (spec FieldSpec) ResolveExpr(tf TableFields, alias string) string {
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}

	var parts []string
	for _, expr := range spec.candidateExprs(tf, alias) {
		parts = append(parts, "NULLIF(TRIM("+expr+"), '')")
	}

	fallback := spec.FallbackLiteral
	if fallback == "" {
		fallback = "NULL"
	}
	if spec.FallbackColumn != "" && tf.Has(spec.FallbackColumn) {
		fallback = prefix + quoteIdent(spec.FallbackColumn)
	}
	parts = append(parts, fallback)

	if len(parts) == 1 {
		return parts[0]
	}
	return "COALESCE(" + strings.Join(parts, ", ") + ")"
}

// TruthyExpr emits a SQL expression evaluating the field as 0/1 with the
// same acceptance rules as Truthy.
func (spec FieldSpec) TruthyExpr(tf TableFields, alias string) string {
	exprs := spec.candidateExprs(tf, alias)
	if len(exprs) == 0 {
		return "0"
	}
	chain := exprs[0]
	if len(exprs) > 1 {
		chain = "COALESCE(" + strings.Join(exprs, ", ") + ")"
	}
	return "(CASE" +
		" WHEN LOWER(TRIM(COALESCE(" + chain + ", ''))) IN ('1', 'true', 'ja', 'j', 'yes', 'y') THEN 1" +
		" WHEN CAST(COALESCE(" + chain + ", '0') AS REAL) > 0 THEN 1" +
		" ELSE 0 END)"
}

// Truthy is the flexible boolean parser applied to source values: numbers
// above zero, boolean true and the strings 1/true/ja/j/yes/y (case and
// whitespace insensitive) are true; everything else, including absent
// values, is false.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int:
		return x > 0
	case int64:
		return x > 0
	case float64:
		return x > 0
	case []byte:
		return truthyString(string(x))
	case string:
		return truthyString(x)
	default:
		return false
	}
}

func truthyString(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "ja", "j", "yes", "y":
		return true
	}
	return false
}

// HydrateStatements returns the UPDATE statements that write resolved values
// back into the plain product columns, so consumers that bypass the resolver
// still read correct data. Only columns the live table actually has are
// touched; rows with an explicit value keep it.
func HydrateStatements(tf TableFields) []string {
	if tf.Table != TableMittel {
		return nil
	}
	var stmts []string
	hydrate := func(col string, spec FieldSpec) {
		if !tf.Has(col) {
			return
		}
		stmts = append(stmts,
			"UPDATE "+TableMittel+" SET "+quoteIdent(col)+" = "+spec.ResolveExpr(tf, "")+
				" WHERE TRIM(COALESCE("+quoteIdent(col)+", '')) = ''")
	}
	hydrate("mittelname", FieldMittelName)
	hydrate("formulierung_art", FieldFormulierung)
	hydrate("zul_ende", FieldMittelZulEnde)

	if tf.Has("geringes_risiko") && tf.Has(FieldGeringesRisiko.payloadCol()) {
		// The flag column is NOT NULL, so it must not shadow the payload
		// candidates: test the JSON paths alone.
		spec := FieldGeringesRisiko
		spec.Columns = nil
		stmts = append(stmts,
			"UPDATE "+TableMittel+" SET geringes_risiko = "+spec.TruthyExpr(tf, "")+
				" WHERE geringes_risiko = 0")
	}
	return stmts
}
