// Package syncer reconciles the local regulatory dataset copy with the
// remote publication API using content-hash change detection.
package syncer

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"psmdb/internal/bvl"
	"psmdb/internal/bvlapi"
	"psmdb/internal/store"
)

// Status values reported in Result and in the sync log message.
const (
	StatusNoChange = "no-change"
	StatusImported = "imported"
)

// Progress reports one collection fetch beginning. Index is zero-based.
type Progress struct {
	Endpoint string
	Index    int
	Total    int
}

// Result summarizes a completed sync run.
type Result struct {
	Status string     `json:"status"`
	Hash   string     `json:"hash"`
	Counts bvl.Counts `json:"counts,omitempty"`
}

// Driver runs sync rounds. At most one round is in flight: starting a new
// one cancels its predecessor and takes its place.
type Driver struct {
	st     *store.Store
	client *bvlapi.Client
	log    *slog.Logger

	onProgress func(Progress)

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    int
}

// New builds a Driver. onProgress may be nil.
func New(st *store.Store, client *bvlapi.Client, log *slog.Logger, onProgress func(Progress)) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{st: st, client: client, log: log, onProgress: onProgress}
}

// Run fetches every dataset collection, hashes the combined payload and
// imports it only when the hash differs from the previous successful sync.
// Both outcomes append a sync log row; failures append one too, with the
// classified error as the message.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.cancel = cancel
	d.gen++
	gen := d.gen
	d.mu.Unlock()
	defer func() {
		cancel()
		d.mu.Lock()
		if d.gen == gen {
			d.cancel = nil
		}
		d.mu.Unlock()
	}()

	res, err := d.run(ctx)
	if err != nil {
		// The audit row must land even when this attempt was canceled.
		logErr := d.st.AppendSyncLog(context.WithoutCancel(ctx), store.SyncLogEntry{
			Success: false,
			Message: err.Error(),
		})
		if logErr != nil {
			d.log.Warn("append sync log failed", "err", logErr)
		}
		return Result{}, err
	}
	return res, nil
}

func (d *Driver) run(ctx context.Context) (Result, error) {
	collections := make(map[string][]map[string]any, len(bvl.SyncCollections))
	var generation string
	total := len(bvl.SyncCollections)
	for i, name := range bvl.SyncCollections {
		if d.onProgress != nil {
			d.onProgress(Progress{Endpoint: name, Index: i, Total: total})
		}
		items, gen, err := d.client.FetchCollection(ctx, name)
		if err != nil {
			return Result{}, err
		}
		collections[name] = items
		if gen != "" {
			generation = gen
		}
	}

	hash, err := datasetHash(collections)
	if err != nil {
		return Result{}, fmt.Errorf("hash dataset: %w", err)
	}

	prev, err := d.st.GetMeta(ctx, store.MetaLastSyncHash)
	if err != nil {
		return Result{}, err
	}
	if prev == hash {
		d.log.Info("sync: dataset unchanged", "hash", hash)
		if err := d.st.AppendSyncLog(ctx, store.SyncLogEntry{
			Success: true,
			Message: StatusNoChange,
			Hash:    sql.NullString{String: hash, Valid: true},
		}); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusNoChange, Hash: hash}, nil
	}

	ds := bvl.DatasetFromCollections(collections)
	counts, err := bvl.ImportDataset(ctx, d.st, ds)
	if err != nil {
		return Result{}, err
	}

	if err := d.recordSuccess(ctx, hash, generation, counts); err != nil {
		return Result{}, err
	}
	d.log.Info("sync: dataset imported", "hash", hash, "counts", counts)
	return Result{Status: StatusImported, Hash: hash, Counts: counts}, nil
}

func (d *Driver) recordSuccess(ctx context.Context, hash, generation string, counts bvl.Counts) error {
	now := nowRFC3339()
	if err := d.st.SetMeta(ctx, store.MetaLastSyncHash, hash); err != nil {
		return err
	}
	if err := d.st.SetMeta(ctx, store.MetaLastSyncAt, now); err != nil {
		return err
	}
	b, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	if err := d.st.SetMeta(ctx, store.MetaLastSyncCounts, string(b)); err != nil {
		return err
	}
	if generation != "" {
		if err := d.st.SetMeta(ctx, store.MetaAPIGeneration, generation); err != nil {
			return err
		}
	}
	return d.st.AppendSyncLog(ctx, store.SyncLogEntry{
		Success: true,
		Message: StatusImported,
		Hash:    sql.NullString{String: hash, Valid: true},
	})
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339) }

// datasetHash serializes the collections in their fixed fetch order and
// hashes the bytes. json.Marshal emits map keys sorted, so equal record
// contents always hash equal regardless of arrival order within a record.
func datasetHash(collections map[string][]map[string]any) (string, error) {
	type entry struct {
		Name  string           `json:"name"`
		Items []map[string]any `json:"items"`
	}
	ordered := make([]entry, 0, len(bvl.SyncCollections))
	for _, name := range bvl.SyncCollections {
		ordered = append(ordered, entry{Name: name, Items: collections[name]})
	}
	b, err := json.Marshal(ordered)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
