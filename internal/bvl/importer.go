package bvl

import (
	"context"
	"database/sql"
	"fmt"

	"psmdb/internal/store"
)

// replaceOrder lists the regulatory tables child-before-parent, so deletes
// never trip referential integrity mid-transaction.
var replaceOrder = []string{
	TableAwgWartezeit,
	TableAwgAufwand,
	TableAwgSchadorg,
	TableAwgKultur,
	TableAwg,
	TableMittel,
}

// ImportDataset replaces the full contents of the regulatory tables (and the
// lookup tables, when supplied) inside one transaction. Either every row of
// every supplied table lands, or nothing changes; the triggering error is
// surfaced unchanged. On success the column cache is invalidated and
// per-table row counts returned.
func ImportDataset(ctx context.Context, st *store.Store, ds Dataset) (Counts, error) {
	counts := Counts{}
	err := st.Do(ctx, "bvl.import", func(c *store.Conn) error {
		// Capability descriptor before the transaction pins the connection.
		tf, err := FieldsOf(c, TableMittel)
		if err != nil {
			return err
		}

		tx, err := c.DB.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, table := range replaceOrder {
			if _, err := tx.Exec("DELETE FROM " + quoteIdent(table)); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if ds.KulturKode != nil {
			if _, err := tx.Exec("DELETE FROM " + TableKulturKode); err != nil {
				return err
			}
		}
		if ds.SchadorgKode != nil {
			if _, err := tx.Exec("DELETE FROM " + TableSchadorgKode); err != nil {
				return err
			}
		}

		if counts[TableMittel], err = insertMittel(tx, ds.Mittel); err != nil {
			return err
		}
		if counts[TableAwg], err = insertAwg(tx, ds.Awg); err != nil {
			return err
		}
		if counts[TableAwgKultur], err = insertKultur(tx, ds.AwgKultur); err != nil {
			return err
		}
		if counts[TableAwgSchadorg], err = insertSchadorg(tx, ds.AwgSchadorg); err != nil {
			return err
		}
		if counts[TableAwgAufwand], err = insertAufwand(tx, ds.AwgAufwand); err != nil {
			return err
		}
		if counts[TableAwgWartezeit], err = insertWartezeit(tx, ds.AwgWartezeit); err != nil {
			return err
		}
		if ds.KulturKode != nil {
			if counts[TableKulturKode], err = insertKode(tx, TableKulturKode, ds.KulturKode); err != nil {
				return err
			}
		}
		if ds.SchadorgKode != nil {
			if counts[TableSchadorgKode], err = insertKode(tx, TableSchadorgKode, ds.SchadorgKode); err != nil {
				return err
			}
		}

		for _, stmt := range HydrateStatements(tf) {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("hydrate %s: %w", TableMittel, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		c.InvalidateColumns()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func insertMittel(tx *sql.Tx, rows []MittelRow) (int, error) {
	stmt, err := tx.Prepare(`INSERT INTO bvl_mittel
		(kennr, mittelname, formulierung_art, zul_erstmalig_am, zul_ende, geringes_risiko, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.Kennr, r.Mittelname, r.FormulierungArt,
			r.ZulErstmaligAm, r.ZulEnde, boolInt(r.GeringesRisiko), r.Payload); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

func insertAwg(tx *sql.Tx, rows []AwgRow) (int, error) {
	stmt, err := tx.Prepare(
		"INSERT INTO bvl_awg (awg_id, kennr, status, zul_ende) VALUES (?, ?, ?, ?)")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.AwgID, r.Kennr, r.Status, r.ZulEnde); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

func insertKultur(tx *sql.Tx, rows []KulturRow) (int, error) {
	stmt, err := tx.Prepare(
		"INSERT INTO bvl_awg_kultur (awg_id, kultur, ausgenommen, sort) VALUES (?, ?, ?, ?)")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.AwgID, r.Kultur, boolInt(r.Ausgenommen), r.Sort); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

func insertSchadorg(tx *sql.Tx, rows []SchadorgRow) (int, error) {
	stmt, err := tx.Prepare(
		"INSERT INTO bvl_awg_schadorg (awg_id, schadorg, ausgenommen, sort) VALUES (?, ?, ?, ?)")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.AwgID, r.Schadorg, boolInt(r.Ausgenommen), r.Sort); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

func insertAufwand(tx *sql.Tx, rows []AufwandRow) (int, error) {
	stmt, err := tx.Prepare(`INSERT INTO bvl_awg_aufwand
		(awg_id, bedingung, sort, menge, einheit, wasser_von, wasser_bis)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.AwgID, r.Bedingung, r.Sort,
			r.Menge, r.Einheit, r.WasserVon, r.WasserBis); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

func insertWartezeit(tx *sql.Tx, rows []WartezeitRow) (int, error) {
	stmt, err := tx.Prepare(`INSERT INTO bvl_awg_wartezeit
		(wartezeit_nr, awg_id, kultur, tage, bemerkung_kode, bemerkung)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.Nr, r.AwgID, r.Kultur, r.Tage,
			r.BemerkungKode, r.Bemerkung); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

func insertKode(tx *sql.Tx, table string, rows []KodeRow) (int, error) {
	stmt, err := tx.Prepare(
		"INSERT INTO " + quoteIdent(table) + " (kode, bezeichnung) VALUES (?, ?)")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.Kode, r.Bezeichnung); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
