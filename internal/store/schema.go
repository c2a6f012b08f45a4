package store

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the newest schema this build understands. The persisted
// PRAGMA user_version gates which migration steps still need to run.
const SchemaVersion = 4

type migration struct {
	version int
	stmts   []string
}

// Every step must be safe to re-run against a database already at or past its
// version: create-if-absent forms, or drop-and-recreate of the full object set.
var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS bvl_meta (
  key TEXT PRIMARY KEY,
  value TEXT
)`,
			`CREATE TABLE IF NOT EXISTS bvl_sync_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts TEXT NOT NULL,
  success INTEGER NOT NULL,
  message TEXT NOT NULL DEFAULT '',
  hash TEXT
)`,
			`CREATE TABLE IF NOT EXISTS medium (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  data TEXT NOT NULL DEFAULT '{}',
  updated_at TEXT NOT NULL DEFAULT ''
)`,
			`CREATE TABLE IF NOT EXISTS history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  created_at TEXT NOT NULL,
  header TEXT NOT NULL DEFAULT '{}'
)`,
			`CREATE TABLE IF NOT EXISTS history_item (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  history_id INTEGER NOT NULL REFERENCES history(id) ON DELETE CASCADE,
  data TEXT NOT NULL DEFAULT '{}'
)`,
			`CREATE INDEX IF NOT EXISTS idx_history_item_history ON history_item(history_id)`,
		},
	},
	{
		// First regulatory shape. Superseded by v3; kept so that any
		// database stopped at this version migrates forward cleanly.
		version: 2,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS bvl_mittel (
  kennr TEXT PRIMARY KEY,
  name TEXT,
  formulierung TEXT,
  zul_ende TEXT
)`,
			`CREATE TABLE IF NOT EXISTS bvl_awg (
  awg_id TEXT PRIMARY KEY,
  kennr TEXT NOT NULL REFERENCES bvl_mittel(kennr) ON DELETE CASCADE,
  status TEXT
)`,
			`CREATE TABLE IF NOT EXISTS bvl_awg_kultur (
  awg_id TEXT NOT NULL REFERENCES bvl_awg(awg_id) ON DELETE CASCADE,
  kultur TEXT NOT NULL,
  PRIMARY KEY (awg_id, kultur)
)`,
			`CREATE TABLE IF NOT EXISTS bvl_awg_schadorg (
  awg_id TEXT NOT NULL REFERENCES bvl_awg(awg_id) ON DELETE CASCADE,
  schadorg TEXT NOT NULL,
  PRIMARY KEY (awg_id, schadorg)
)`,
		},
	},
	{
		// Current regulatory shape: verbatim source payload, exclusion flag
		// in the join-table keys, rates and waiting periods. The dataset is
		// re-syncable, so the controlled set is dropped and recreated.
		version: 3,
		stmts: []string{
			`DROP TABLE IF EXISTS bvl_awg_wartezeit`,
			`DROP TABLE IF EXISTS bvl_awg_aufwand`,
			`DROP TABLE IF EXISTS bvl_awg_schadorg`,
			`DROP TABLE IF EXISTS bvl_awg_kultur`,
			`DROP TABLE IF EXISTS bvl_awg`,
			`DROP TABLE IF EXISTS bvl_mittel`,
			`DROP TABLE IF EXISTS bvl_kultur_kode`,
			`DROP TABLE IF EXISTS bvl_schadorg_kode`,
			`CREATE TABLE bvl_mittel (
  kennr TEXT PRIMARY KEY,
  mittelname TEXT,
  formulierung_art TEXT,
  zul_erstmalig_am TEXT,
  zul_ende TEXT,
  geringes_risiko INTEGER NOT NULL DEFAULT 0,
  payload TEXT
)`,
			`CREATE TABLE bvl_awg (
  awg_id TEXT PRIMARY KEY,
  kennr TEXT NOT NULL REFERENCES bvl_mittel(kennr) ON DELETE CASCADE,
  status TEXT,
  zul_ende TEXT
)`,
			`CREATE TABLE bvl_awg_kultur (
  awg_id TEXT NOT NULL REFERENCES bvl_awg(awg_id) ON DELETE CASCADE,
  kultur TEXT NOT NULL,
  ausgenommen INTEGER NOT NULL DEFAULT 0,
  sort INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (awg_id, kultur, ausgenommen)
)`,
			`CREATE TABLE bvl_awg_schadorg (
  awg_id TEXT NOT NULL REFERENCES bvl_awg(awg_id) ON DELETE CASCADE,
  schadorg TEXT NOT NULL,
  ausgenommen INTEGER NOT NULL DEFAULT 0,
  sort INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (awg_id, schadorg, ausgenommen)
)`,
			`CREATE TABLE bvl_awg_aufwand (
  awg_id TEXT NOT NULL REFERENCES bvl_awg(awg_id) ON DELETE CASCADE,
  bedingung TEXT NOT NULL DEFAULT '',
  sort INTEGER NOT NULL DEFAULT 0,
  menge REAL,
  einheit TEXT,
  wasser_von REAL,
  wasser_bis REAL,
  PRIMARY KEY (awg_id, bedingung, sort)
)`,
			`CREATE TABLE bvl_awg_wartezeit (
  wartezeit_nr INTEGER NOT NULL,
  awg_id TEXT NOT NULL REFERENCES bvl_awg(awg_id) ON DELETE CASCADE,
  kultur TEXT,
  tage INTEGER NOT NULL DEFAULT 0,
  bemerkung_kode TEXT,
  bemerkung TEXT,
  PRIMARY KEY (wartezeit_nr, awg_id)
)`,
			`CREATE TABLE bvl_kultur_kode (
  kode TEXT PRIMARY KEY,
  bezeichnung TEXT
)`,
			`CREATE TABLE bvl_schadorg_kode (
  kode TEXT PRIMARY KEY,
  bezeichnung TEXT
)`,
		},
	},
	{
		// Search indexes plus a one-time hydration of the synonym columns
		// from the verbatim payload, so plain-column reads see resolved
		// values even for rows written before v3. The expressions are
		// frozen copies of the resolution order used at query time.
		version: 4,
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_bvl_mittel_name ON bvl_mittel(mittelname)`,
			`CREATE INDEX IF NOT EXISTS idx_bvl_awg_kennr ON bvl_awg(kennr)`,
			`CREATE INDEX IF NOT EXISTS idx_bvl_awg_kultur_kultur ON bvl_awg_kultur(kultur)`,
			`CREATE INDEX IF NOT EXISTS idx_bvl_awg_schadorg_schadorg ON bvl_awg_schadorg(schadorg)`,
			`UPDATE bvl_mittel SET mittelname = COALESCE(
   NULLIF(TRIM(mittelname), ''),
   NULLIF(TRIM(json_extract(payload, '$.mittelname')), ''),
   NULLIF(TRIM(json_extract(payload, '$.MITTELNAME')), ''),
   NULLIF(TRIM(json_extract(payload, '$.mittel_name')), ''),
   kennr
 ) WHERE payload IS NOT NULL AND TRIM(COALESCE(mittelname, '')) = ''`,
			`UPDATE bvl_mittel SET formulierung_art = COALESCE(
   NULLIF(TRIM(formulierung_art), ''),
   NULLIF(TRIM(json_extract(payload, '$.formulierung_art')), ''),
   NULLIF(TRIM(json_extract(payload, '$.FORMULIERUNG_ART')), ''),
   ''
 ) WHERE payload IS NOT NULL AND TRIM(COALESCE(formulierung_art, '')) = ''`,
			`UPDATE bvl_mittel SET zul_ende = COALESCE(
   NULLIF(TRIM(zul_ende), ''),
   NULLIF(TRIM(json_extract(payload, '$.zul_ende')), ''),
   NULLIF(TRIM(json_extract(payload, '$.ZUL_ENDE')), '')
 ) WHERE payload IS NOT NULL AND TRIM(COALESCE(zul_ende, '')) = ''`,
			`UPDATE bvl_mittel SET geringes_risiko = 1
 WHERE payload IS NOT NULL AND geringes_risiko = 0
   AND LOWER(TRIM(COALESCE(
     json_extract(payload, '$.geringes_risiko'),
     json_extract(payload, '$.GERINGES_RISIKO'),
     ''))) IN ('1', 'true', 'ja', 'j', 'yes', 'y')`,
		},
	},
}

// Migrate brings db to SchemaVersion. Each pending step runs in its own
// transaction and persists the new version before committing; a failing step
// rolls back, leaves the version unchanged and aborts the run.
func Migrate(db *sql.DB) error {
	current, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, SchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		for i, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("apply migration %d (statement %d): %w", m.version, i+1, err)
			}
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
		current = m.version
	}
	return nil
}

type rowQueryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

func schemaVersion(q rowQueryer) (int, error) {
	var v int
	if err := q.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
