// Package cache holds the in-memory record cache the scan engine resolves
// barcodes against, with deferred bulk fetch of missing records.
package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"stockscan/internal/core/id"
	"stockscan/internal/domain/records"
	"stockscan/pkg/logger"
)

// Fetcher loads records the cache does not hold yet. Keys are barcodes or
// stringified record ids; the fetcher returns whatever it recognized, in any
// order, and silently skips unknown keys.
type Fetcher interface {
	FetchByKeys(ctx context.Context, keys []string) ([]records.Record, error)
}

// RecordCache indexes known records by (model, id) and by barcode. Unresolved
// lookups queue their key; FetchMissing resolves the whole queue in one
// backend round trip, deduplicated across concurrent scans.
type RecordCache struct {
	fetcher Fetcher

	mu        sync.RWMutex
	byID      map[records.Model]map[id.ID]records.Record
	byBarcode map[string][]records.Record

	// missing queues keys awaiting a fetch; attempted remembers keys the
	// backend did not recognize, so they are not refetched every scan.
	missing   map[string]struct{}
	attempted map[string]struct{}

	group singleflight.Group
}

// New builds an empty cache over a fetcher. A nil fetcher is allowed for
// tests and fully-primed caches; FetchMissing is then a no-op.
func New(fetcher Fetcher) *RecordCache {
	return &RecordCache{
		fetcher:   fetcher,
		byID:      make(map[records.Model]map[id.ID]records.Record),
		byBarcode: make(map[string][]records.Record),
		missing:   make(map[string]struct{}),
		attempted: make(map[string]struct{}),
	}
}

// Prime inserts records into the cache, replacing same-model same-id entries.
func (c *RecordCache) Prime(recs ...records.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range recs {
		c.insert(rec)
	}
}

// insert adds one record under both indexes. Caller holds the write lock.
func (c *RecordCache) insert(rec records.Record) {
	model := rec.RecordModel()
	byID := c.byID[model]
	if byID == nil {
		byID = make(map[id.ID]records.Record)
		c.byID[model] = byID
	}
	if prev, ok := byID[rec.RecordID()]; ok {
		c.dropBarcode(prev)
	}
	byID[rec.RecordID()] = rec

	if bc := rec.RecordBarcode(); bc != "" {
		c.byBarcode[bc] = append(c.byBarcode[bc], rec)
	}
}

func (c *RecordCache) dropBarcode(rec records.Record) {
	bc := rec.RecordBarcode()
	if bc == "" {
		return
	}
	entries := c.byBarcode[bc]
	for i, e := range entries {
		if e.RecordModel() == rec.RecordModel() && e.RecordID() == rec.RecordID() {
			c.byBarcode[bc] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// ByBarcode returns cached records carrying the barcode. With a model, only
// that model's records are returned; without one, all models in resolution
// priority order. Filters constrain matches per model.
func (c *RecordCache) ByBarcode(barcode string, model records.Model, filters records.Filters) []records.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := c.byBarcode[barcode]
	if len(entries) == 0 {
		return nil
	}

	var out []records.Record
	if model != "" {
		for _, rec := range entries {
			if rec.RecordModel() == model && filters.Match(rec) {
				out = append(out, rec)
			}
		}
		return out
	}
	for _, m := range records.AllBarcodeModels {
		for _, rec := range entries {
			if rec.RecordModel() == m && filters.Match(rec) {
				out = append(out, rec)
			}
		}
	}
	return out
}

// Get returns a cached record by model and id.
func (c *RecordCache) Get(model records.Model, rid id.ID) (records.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.byID[model][rid]
	return rec, ok
}

// QueueMiss marks a key for the next FetchMissing. Keys the backend already
// failed to recognize are not requeued.
func (c *RecordCache) QueueMiss(key string) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, tried := c.attempted[key]; tried {
		return
	}
	c.missing[key] = struct{}{}
}

// FetchMissing resolves every queued key through the fetcher and merges the
// results. Concurrent callers share one backend round trip.
func (c *RecordCache) FetchMissing(ctx context.Context) error {
	if c.fetcher == nil {
		return nil
	}

	ch := c.group.DoChan("fetch-missing", func() (any, error) {
		return nil, c.fetchQueued(ctx)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (c *RecordCache) fetchQueued(ctx context.Context) error {
	c.mu.Lock()
	if len(c.missing) == 0 {
		c.mu.Unlock()
		return nil
	}
	keys := make([]string, 0, len(c.missing))
	for k := range c.missing {
		keys = append(keys, k)
		c.attempted[k] = struct{}{}
	}
	c.missing = make(map[string]struct{})
	c.mu.Unlock()

	recs, err := c.fetcher.FetchByKeys(ctx, keys)
	if err != nil {
		// Failed keys stay attempted; a later Invalidate re-enables them.
		return err
	}
	logger.Debug(ctx, "fetched missing records", "requested", len(keys), "found", len(recs))

	c.mu.Lock()
	for _, rec := range recs {
		c.insert(rec)
	}
	c.mu.Unlock()
	return nil
}

// Invalidate clears the negative-lookup memory so previously unknown keys are
// fetched again, for use after backend-side record creation.
func (c *RecordCache) Invalidate() {
	c.mu.Lock()
	c.attempted = make(map[string]struct{})
	c.mu.Unlock()
}

// Stats reports cache sizes for diagnostics endpoints.
type Stats struct {
	Records  int `json:"records"`
	Barcodes int `json:"barcodes"`
	Queued   int `json:"queued"`
}

// GetStats returns current cache statistics.
func (c *RecordCache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for _, byID := range c.byID {
		total += len(byID)
	}
	return Stats{Records: total, Barcodes: len(c.byBarcode), Queued: len(c.missing)}
}
