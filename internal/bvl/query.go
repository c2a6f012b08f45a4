package bvl

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"psmdb/internal/store"
)

// Filters narrow a QueryZulassung call. Zero values mean "no restriction";
// expired approvals are excluded unless IncludeExpired is set.
type Filters struct {
	Kultur         string
	Schadorg       string
	Text           string
	Mittel         string
	IncludeExpired bool
}

// CodeRef is a crop or pest code on a result row, prettified with its lookup
// label when one exists (the code doubles as its own label otherwise).
type CodeRef struct {
	Kode        string `db:"kode" json:"kode"`
	Bezeichnung string `db:"bezeichnung" json:"bezeichnung"`
	Ausgenommen bool   `db:"ausgenommen" json:"ausgenommen"`
	Sort        int    `db:"sort" json:"sort"`
}

// Zulassung is one enriched product+use-case result row.
type Zulassung struct {
	AwgID           string         `json:"awgId"`
	Kennr           string         `json:"kennr"`
	Mittelname      string         `json:"mittelname"`
	FormulierungArt string         `json:"formulierungArt"`
	ZulEnde         string         `json:"zulEnde"`
	Status          string         `json:"status"`
	GeringesRisiko  bool           `json:"geringesRisiko"`
	Kulturen        []CodeRef      `json:"kulturen"`
	Schadorg        []CodeRef      `json:"schadorg"`
	Aufwand         []AufwandRow   `json:"aufwand"`
	Wartezeit       []WartezeitRow `json:"wartezeit"`
}

// MittelRef is one autocomplete entry: registration number plus resolved name.
type MittelRef struct {
	Kennr string `db:"kennr" json:"kennr"`
	Name  string `db:"name" json:"name"`
}

// CodeCount is one lookup list entry, optionally with its usage count.
type CodeCount struct {
	Kode        string `db:"kode" json:"kode"`
	Bezeichnung string `db:"bezeichnung" json:"bezeichnung"`
	Count       int    `db:"cnt" json:"count,omitempty"`
}

// QueryZulassung searches the use-case table joined with its products and
// returns enriched rows with nested rate, waiting-period, culture and pest
// lists. All fragments derive from the live schema; user input only ever
// binds as parameters.
func QueryZulassung(ctx context.Context, st *store.Store, f Filters) ([]Zulassung, error) {
	var results []Zulassung
	err := st.Do(ctx, "bvl.query", func(c *store.Conn) error {
		tfM, err := FieldsOf(c, TableMittel)
		if err != nil {
			return err
		}
		tfA, err := FieldsOf(c, TableAwg)
		if err != nil {
			return err
		}

		nameExpr := FieldMittelName.ResolveExpr(tfM, "m")
		formExpr := FieldFormulierung.ResolveExpr(tfM, "m")
		riskExpr := FieldGeringesRisiko.TruthyExpr(tfM, "m")

		// Application-level approval end overrides the product-level one.
		endExpr := FieldMittelZulEnde.ResolveExpr(tfM, "m")
		if tfA.Has("zul_ende") {
			endExpr = "COALESCE(NULLIF(TRIM(a.zul_ende), ''), " + endExpr + ")"
		}

		var where []string
		var args []any

		if f.Mittel != "" {
			where = append(where, "m.kennr = ?")
			args = append(args, f.Mittel)
		}
		if f.Kultur != "" {
			where = append(where,
				"EXISTS (SELECT 1 FROM bvl_awg_kultur k WHERE k.awg_id = a.awg_id AND k.kultur = ? AND k.ausgenommen = 0)")
			args = append(args, f.Kultur)
		}
		if f.Schadorg != "" {
			where = append(where,
				"EXISTS (SELECT 1 FROM bvl_awg_schadorg sg WHERE sg.awg_id = a.awg_id AND sg.schadorg = ? AND sg.ausgenommen = 0)")
			args = append(args, f.Schadorg)
		}
		if term := strings.ToLower(strings.TrimSpace(f.Text)); term != "" {
			pred, predArgs := textPredicate(tfM, term)
			where = append(where, pred)
			args = append(args, predArgs...)
		}
		if !f.IncludeExpired {
			// Unset or unparseable end dates never count as expired.
			where = append(where, "("+endExpr+" IS NULL"+
				" OR TRIM("+endExpr+") = ''"+
				" OR date("+endExpr+") IS NULL"+
				" OR date("+endExpr+") >= date('now'))")
		}

		query := "SELECT a.awg_id, a.kennr, COALESCE(a.status, '') AS status, " +
			nameExpr + " AS mittelname, " +
			formExpr + " AS formulierung_art, " +
			"COALESCE(" + endExpr + ", '') AS zul_ende, " +
			riskExpr + " AS geringes_risiko " +
			"FROM bvl_awg a JOIN bvl_mittel m ON m.kennr = a.kennr"
		if len(where) > 0 {
			query += " WHERE " + strings.Join(where, " AND ")
		}
		query += " ORDER BY mittelname COLLATE NOCASE, a.awg_id"

		rows, err := c.DB.Query(query, args...)
		if err != nil {
			return fmt.Errorf("query zulassung: %w", err)
		}
		for rows.Next() {
			var z Zulassung
			var risk int64
			if err := rows.Scan(&z.AwgID, &z.Kennr, &z.Status,
				&z.Mittelname, &z.FormulierungArt, &z.ZulEnde, &risk); err != nil {
				rows.Close()
				return err
			}
			z.GeringesRisiko = risk > 0
			results = append(results, z)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		return attachChildren(c, results)
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// textPredicate ORs case-insensitive contains matches over every live name
// candidate, the registration number, and the culture/pest codes and lookup
// labels referenced by the row.
func textPredicate(tfM TableFields, term string) (string, []any) {
	var parts []string
	var args []any

	for _, expr := range FieldMittelName.candidateExprs(tfM, "m") {
		parts = append(parts, "instr(LOWER(COALESCE("+expr+", '')), ?) > 0")
		args = append(args, term)
	}
	parts = append(parts, "instr(LOWER(m.kennr), ?) > 0")
	args = append(args, term)

	parts = append(parts,
		`EXISTS (SELECT 1 FROM bvl_awg_kultur k
		  LEFT JOIN bvl_kultur_kode kk ON kk.kode = k.kultur
		  WHERE k.awg_id = a.awg_id
		    AND (instr(LOWER(k.kultur), ?) > 0 OR instr(LOWER(COALESCE(kk.bezeichnung, '')), ?) > 0))`)
	args = append(args, term, term)
	parts = append(parts,
		`EXISTS (SELECT 1 FROM bvl_awg_schadorg so
		  LEFT JOIN bvl_schadorg_kode sk ON sk.kode = so.schadorg
		  WHERE so.awg_id = a.awg_id
		    AND (instr(LOWER(so.schadorg), ?) > 0 OR instr(LOWER(COALESCE(sk.bezeichnung, '')), ?) > 0))`)
	args = append(args, term, term)

	return "(" + strings.Join(parts, " OR ") + ")", args
}

// attachChildren loads the nested lists for every result row in four
// batched queries.
func attachChildren(c *store.Conn, results []Zulassung) error {
	if len(results) == 0 {
		return nil
	}
	ids := make([]string, len(results))
	byID := make(map[string]*Zulassung, len(results))
	for i := range results {
		ids[i] = results[i].AwgID
		byID[results[i].AwgID] = &results[i]
	}

	type codeRow struct {
		AwgID string `db:"awg_id"`
		CodeRef
	}

	query, args, err := sqlx.In(`SELECT k.awg_id AS awg_id, k.kultur AS kode,
		COALESCE(kk.bezeichnung, k.kultur) AS bezeichnung, k.ausgenommen AS ausgenommen, k.sort AS sort
		FROM bvl_awg_kultur k LEFT JOIN bvl_kultur_kode kk ON kk.kode = k.kultur
		WHERE k.awg_id IN (?) ORDER BY k.awg_id, k.sort, k.kultur`, ids)
	if err != nil {
		return err
	}
	var kulturen []codeRow
	if err := c.DB.Select(&kulturen, query, args...); err != nil {
		return err
	}
	for _, r := range kulturen {
		z := byID[r.AwgID]
		z.Kulturen = append(z.Kulturen, r.CodeRef)
	}

	query, args, err = sqlx.In(`SELECT so.awg_id AS awg_id, so.schadorg AS kode,
		COALESCE(sk.bezeichnung, so.schadorg) AS bezeichnung, so.ausgenommen AS ausgenommen, so.sort AS sort
		FROM bvl_awg_schadorg so LEFT JOIN bvl_schadorg_kode sk ON sk.kode = so.schadorg
		WHERE so.awg_id IN (?) ORDER BY so.awg_id, so.sort, so.schadorg`, ids)
	if err != nil {
		return err
	}
	var schadorg []codeRow
	if err := c.DB.Select(&schadorg, query, args...); err != nil {
		return err
	}
	for _, r := range schadorg {
		z := byID[r.AwgID]
		z.Schadorg = append(z.Schadorg, r.CodeRef)
	}

	query, args, err = sqlx.In(`SELECT awg_id, COALESCE(bedingung, '') AS bedingung, sort,
		menge, COALESCE(einheit, '') AS einheit, wasser_von, wasser_bis
		FROM bvl_awg_aufwand WHERE awg_id IN (?) ORDER BY awg_id, bedingung, sort`, ids)
	if err != nil {
		return err
	}
	var aufwand []AufwandRow
	if err := c.DB.Select(&aufwand, query, args...); err != nil {
		return err
	}
	for _, r := range aufwand {
		z := byID[r.AwgID]
		z.Aufwand = append(z.Aufwand, r)
	}

	query, args, err = sqlx.In(`SELECT wartezeit_nr, awg_id, COALESCE(kultur, '') AS kultur,
		tage, COALESCE(bemerkung_kode, '') AS bemerkung_kode, COALESCE(bemerkung, '') AS bemerkung
		FROM bvl_awg_wartezeit WHERE awg_id IN (?) ORDER BY awg_id, wartezeit_nr`, ids)
	if err != nil {
		return err
	}
	var wartezeit []WartezeitRow
	if err := c.DB.Select(&wartezeit, query, args...); err != nil {
		return err
	}
	for _, r := range wartezeit {
		z := byID[r.AwgID]
		z.Wartezeit = append(z.Wartezeit, r)
	}
	return nil
}

// ListMittel returns autocomplete entries, filtered by a contains match over
// the name candidates and registration number when search is non-empty.
func ListMittel(ctx context.Context, st *store.Store, search string, limit int) ([]MittelRef, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []MittelRef
	err := st.Do(ctx, "bvl.list_mittel", func(c *store.Conn) error {
		tf, err := FieldsOf(c, TableMittel)
		if err != nil {
			return err
		}
		nameExpr := FieldMittelName.ResolveExpr(tf, "m")

		query := "SELECT m.kennr AS kennr, " + nameExpr + " AS name FROM bvl_mittel m"
		var args []any
		if term := strings.ToLower(strings.TrimSpace(search)); term != "" {
			var parts []string
			for _, expr := range FieldMittelName.candidateExprs(tf, "m") {
				parts = append(parts, "instr(LOWER(COALESCE("+expr+", '')), ?) > 0")
				args = append(args, term)
			}
			parts = append(parts, "instr(LOWER(m.kennr), ?) > 0")
			args = append(args, term)
			query += " WHERE (" + strings.Join(parts, " OR ") + ")"
		}
		query += " ORDER BY name COLLATE NOCASE, kennr LIMIT ?"
		args = append(args, limit)

		return c.DB.Select(&out, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("list mittel: %w", err)
	}
	return out, nil
}

// ListCultures lists the distinct crop codes referenced by any use-case
// (excluded associations aside), labeled from the lookup table.
func ListCultures(ctx context.Context, st *store.Store, withCount bool) ([]CodeCount, error) {
	return listCodes(ctx, st, TableAwgKultur, "kultur", TableKulturKode, withCount)
}

// ListSchadorg lists the distinct pest codes the same way.
func ListSchadorg(ctx context.Context, st *store.Store, withCount bool) ([]CodeCount, error) {
	return listCodes(ctx, st, TableAwgSchadorg, "schadorg", TableSchadorgKode, withCount)
}

func listCodes(ctx context.Context, st *store.Store, table, codeCol, lookupTable string, withCount bool) ([]CodeCount, error) {
	var out []CodeCount
	err := st.Do(ctx, "bvl.list_codes", func(c *store.Conn) error {
		sel := "j." + quoteIdent(codeCol) + " AS kode, COALESCE(l.bezeichnung, j." + quoteIdent(codeCol) + ") AS bezeichnung"
		if withCount {
			sel += ", COUNT(DISTINCT j.awg_id) AS cnt"
		} else {
			sel += ", 0 AS cnt"
		}
		query := "SELECT " + sel +
			" FROM " + quoteIdent(table) + " j" +
			" LEFT JOIN " + quoteIdent(lookupTable) + " l ON l.kode = j." + quoteIdent(codeCol) +
			" WHERE j.ausgenommen = 0" +
			" GROUP BY j." + quoteIdent(codeCol) + ", l.bezeichnung" +
			" ORDER BY bezeichnung COLLATE NOCASE, kode"
		return c.DB.Select(&out, query)
	})
	if err != nil {
		return nil, fmt.Errorf("list %s codes: %w", codeCol, err)
	}
	return out, nil
}
