package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockscan/internal/core/id"
	"stockscan/internal/domain/records"
)

type stubFetcher struct {
	byKey map[string]records.Record
	calls [][]string
	err   error
}

func (f *stubFetcher) FetchByKeys(ctx context.Context, keys []string) ([]records.Record, error) {
	f.calls = append(f.calls, keys)
	if f.err != nil {
		return nil, f.err
	}
	var out []records.Record
	for _, k := range keys {
		if rec, ok := f.byKey[k]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func product(name, barcode string) *records.Product {
	return &records.Product{Base: records.Base{ID: id.New(), Name: name, Barcode: barcode}}
}

func TestRecordCache_PrimeAndGet(t *testing.T) {
	c := New(nil)
	p := product("Bolt M8", "BOLT8")
	c.Prime(p)

	got, ok := c.Get(records.ModelProduct, p.ID)
	require.True(t, ok)
	assert.Equal(t, p, got)

	_, ok = c.Get(records.ModelLot, p.ID)
	assert.False(t, ok)
}

func TestRecordCache_PrimeReplacesSameRecord(t *testing.T) {
	c := New(nil)
	p := product("Bolt M8", "BOLT8")
	c.Prime(p)

	renamed := &records.Product{Base: records.Base{ID: p.ID, Name: "Bolt M8 zinc", Barcode: "BOLT8"}}
	c.Prime(renamed)

	recs := c.ByBarcode("BOLT8", records.ModelProduct, nil)
	require.Len(t, recs, 1)
	assert.Equal(t, "Bolt M8 zinc", recs[0].(*records.Product).Name)
}

func TestRecordCache_ByBarcodePriorityOrder(t *testing.T) {
	c := New(nil)
	loc := &records.Location{Base: records.Base{ID: id.New(), Name: "Shelf", Barcode: "SHARED"}}
	p := product("Unlucky", "SHARED")
	c.Prime(p, loc)

	recs := c.ByBarcode("SHARED", "", nil)
	require.Len(t, recs, 2)
	assert.Equal(t, records.ModelLocation, recs[0].RecordModel())
	assert.Equal(t, records.ModelProduct, recs[1].RecordModel())
}

func TestRecordCache_ByBarcodeFilters(t *testing.T) {
	c := New(nil)
	productID := id.New()
	lot := &records.Lot{
		Base:      records.Base{ID: id.New(), Name: "LOT-1", Barcode: "LOT-1"},
		ProductID: productID,
	}
	c.Prime(lot)

	match := records.Filters{records.ModelLot: {"product_id": productID.String()}}
	assert.Len(t, c.ByBarcode("LOT-1", records.ModelLot, match), 1)

	miss := records.Filters{records.ModelLot: {"product_id": id.New().String()}}
	assert.Empty(t, c.ByBarcode("LOT-1", records.ModelLot, miss))
}

func TestRecordCache_FetchMissing(t *testing.T) {
	p := product("Bolt M8", "BOLT8")
	fetcher := &stubFetcher{byKey: map[string]records.Record{"BOLT8": p}}
	c := New(fetcher)
	ctx := context.Background()

	assert.Empty(t, c.ByBarcode("BOLT8", records.ModelProduct, nil))

	c.QueueMiss("BOLT8")
	require.NoError(t, c.FetchMissing(ctx))
	require.Len(t, fetcher.calls, 1)

	recs := c.ByBarcode("BOLT8", records.ModelProduct, nil)
	require.Len(t, recs, 1)
	assert.Equal(t, p.ID, recs[0].RecordID())
}

func TestRecordCache_UnknownKeyNotRefetched(t *testing.T) {
	fetcher := &stubFetcher{byKey: map[string]records.Record{}}
	c := New(fetcher)
	ctx := context.Background()

	c.QueueMiss("nothing")
	require.NoError(t, c.FetchMissing(ctx))
	require.Len(t, fetcher.calls, 1)

	// The backend did not recognize the key; scanning it again must not
	// trigger another round trip.
	c.QueueMiss("nothing")
	require.NoError(t, c.FetchMissing(ctx))
	assert.Len(t, fetcher.calls, 1)

	// Invalidate re-enables the fetch, for after backend-side creation.
	c.Invalidate()
	c.QueueMiss("nothing")
	require.NoError(t, c.FetchMissing(ctx))
	assert.Len(t, fetcher.calls, 2)
}

func TestRecordCache_FetchErrorPropagates(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("backend down")}
	c := New(fetcher)

	c.QueueMiss("BOLT8")
	err := c.FetchMissing(context.Background())
	require.Error(t, err)
}

func TestRecordCache_EmptyQueueIsNoOp(t *testing.T) {
	fetcher := &stubFetcher{}
	c := New(fetcher)

	require.NoError(t, c.FetchMissing(context.Background()))
	assert.Empty(t, fetcher.calls)
}

func TestRecordCache_GetStats(t *testing.T) {
	c := New(nil)
	c.Prime(product("A", "A1"), product("B", "B1"))
	c.QueueMiss("C1")

	stats := c.GetStats()
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, 2, stats.Barcodes)
	assert.Equal(t, 1, stats.Queued)
}
