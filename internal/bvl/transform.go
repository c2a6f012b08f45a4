package bvl

import (
	"encoding/json"
	"strconv"
	"strings"
)

// DatasetFromCollections converts the raw remote collections (or a dataset
// file of the same shape) into the target row shapes: field renames, flag
// and number coercions, verbatim payload capture. Numeric parse failures
// default to 0, including an absent waiting-period day count.
func DatasetFromCollections(collections map[string][]map[string]any) Dataset {
	var ds Dataset

	for _, rec := range collections["mittel"] {
		kennr := fieldString(rec, "kennr", "KENNR")
		if kennr == "" {
			continue
		}
		payload, _ := json.Marshal(rec)
		ds.Mittel = append(ds.Mittel, MittelRow{
			Kennr:           kennr,
			Mittelname:      fieldString(rec, "mittelname", "MITTELNAME", "mittel_name", "name"),
			FormulierungArt: fieldString(rec, "formulierung_art", "FORMULIERUNG_ART", "formulierung"),
			ZulErstmaligAm:  fieldString(rec, "zul_erstmalig_am", "ZUL_ERSTMALIG_AM"),
			ZulEnde:         fieldString(rec, "zul_ende", "ZUL_ENDE"),
			GeringesRisiko:  Truthy(fieldValue(rec, "geringes_risiko", "GERINGES_RISIKO")),
			Payload:         string(payload),
		})
	}

	for _, rec := range collections["awg"] {
		awgID := fieldString(rec, "awg_id", "AWG_ID")
		if awgID == "" {
			continue
		}
		ds.Awg = append(ds.Awg, AwgRow{
			AwgID:   awgID,
			Kennr:   fieldString(rec, "kennr", "KENNR"),
			Status:  fieldJSON(rec, "status", "STATUS"),
			ZulEnde: fieldString(rec, "zul_ende", "ZUL_ENDE"),
		})
	}

	for _, rec := range collections["awg_kultur"] {
		ds.AwgKultur = append(ds.AwgKultur, KulturRow{
			AwgID:       fieldString(rec, "awg_id", "AWG_ID"),
			Kultur:      fieldString(rec, "kultur", "kultur_kode", "KULTUR"),
			Ausgenommen: Truthy(fieldValue(rec, "ausgenommen", "AUSGENOMMEN")),
			Sort:        fieldInt(rec, "sort", "sortier_nr", "SORTIER_NR"),
		})
	}

	for _, rec := range collections["awg_schadorg"] {
		ds.AwgSchadorg = append(ds.AwgSchadorg, SchadorgRow{
			AwgID:       fieldString(rec, "awg_id", "AWG_ID"),
			Schadorg:    fieldString(rec, "schadorg", "schadorg_kode", "SCHADORG"),
			Ausgenommen: Truthy(fieldValue(rec, "ausgenommen", "AUSGENOMMEN")),
			Sort:        fieldInt(rec, "sort", "sortier_nr", "SORTIER_NR"),
		})
	}

	for _, rec := range collections["awg_aufwand"] {
		ds.AwgAufwand = append(ds.AwgAufwand, AufwandRow{
			AwgID:     fieldString(rec, "awg_id", "AWG_ID"),
			Bedingung: fieldString(rec, "bedingung", "aufwandbedingung", "AUFWANDBEDINGUNG"),
			Sort:      fieldInt(rec, "sort", "sortier_nr", "SORTIER_NR"),
			Menge:     fieldFloat(rec, "menge", "mittel_menge", "MENGE"),
			Einheit:   fieldString(rec, "einheit", "mittel_einheit", "EINHEIT"),
			WasserVon: fieldFloat(rec, "wasser_von", "WASSER_VON"),
			WasserBis: fieldFloat(rec, "wasser_bis", "WASSER_BIS"),
		})
	}

	for _, rec := range collections["awg_wartezeit"] {
		ds.AwgWartezeit = append(ds.AwgWartezeit, WartezeitRow{
			Nr:            fieldInt(rec, "wartezeit_nr", "nr", "WARTEZEIT_NR"),
			AwgID:         fieldString(rec, "awg_id", "AWG_ID"),
			Kultur:        fieldString(rec, "kultur", "KULTUR"),
			Tage:          fieldInt(rec, "tage", "TAGE"),
			BemerkungKode: fieldString(rec, "bemerkung_kode", "BEMERKUNG_KODE"),
			Bemerkung:     fieldString(rec, "bemerkung", "BEMERKUNG"),
		})
	}

	if recs, ok := collections["kultur_kode"]; ok {
		ds.KulturKode = kodeRows(recs)
	}
	if recs, ok := collections["schadorg_kode"]; ok {
		ds.SchadorgKode = kodeRows(recs)
	}

	return ds
}

func kodeRows(recs []map[string]any) []KodeRow {
	rows := make([]KodeRow, 0, len(recs))
	for _, rec := range recs {
		kode := fieldString(rec, "kode", "KODE")
		if kode == "" {
			continue
		}
		rows = append(rows, KodeRow{
			Kode:        kode,
			Bezeichnung: fieldString(rec, "bezeichnung", "BEZEICHNUNG"),
		})
	}
	return rows
}

// fieldValue returns the first present key's value.
func fieldValue(rec map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := rec[k]; ok {
			return v
		}
	}
	return nil
}

// fieldString returns the first key whose value renders non-empty.
func fieldString(rec map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringOf(rec[k]); s != "" {
			return s
		}
	}
	return ""
}

// fieldJSON returns the value as a string, marshaling composite values
// (objects, arrays) verbatim.
func fieldJSON(rec map[string]any, keys ...string) string {
	v := fieldValue(rec, keys...)
	switch v.(type) {
	case nil:
		return ""
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return stringOf(v)
	}
}

func fieldInt(rec map[string]any, keys ...string) int {
	switch x := fieldValue(rec, keys...).(type) {
	case float64:
		return int(x)
	case int:
		return x
	case int64:
		return int(x)
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func fieldFloat(rec map[string]any, keys ...string) *float64 {
	switch x := fieldValue(rec, keys...).(type) {
	case float64:
		return &x
	case int:
		f := float64(x)
		return &f
	case int64:
		f := float64(x)
		return &f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(x, ",", ".")), 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

func stringOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
