package scan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockscan/internal/core/id"
	"stockscan/internal/core/types"
	"stockscan/internal/domain/nomenclature"
	"stockscan/internal/domain/records"
)

// fakeSource is an in-memory RecordSource for tests. FetchMissing is a no-op;
// records are visible immediately after Add.
type fakeSource struct {
	recs   []records.Record
	missed []string
}

func (f *fakeSource) Add(recs ...records.Record) {
	f.recs = append(f.recs, recs...)
}

func (f *fakeSource) ByBarcode(barcode string, model records.Model, filters records.Filters) []records.Record {
	modelList := []records.Model{model}
	if model == "" {
		modelList = records.AllBarcodeModels
	}
	var out []records.Record
	for _, m := range modelList {
		for _, r := range f.recs {
			if r.RecordModel() == m && r.RecordBarcode() == barcode && filters.Match(r) {
				out = append(out, r)
			}
		}
	}
	return out
}

func (f *fakeSource) Get(model records.Model, rid id.ID) (records.Record, bool) {
	for _, r := range f.recs {
		if r.RecordModel() == model && r.RecordID() == rid {
			return r, true
		}
	}
	return nil, false
}

func (f *fakeSource) QueueMiss(key string) { f.missed = append(f.missed, key) }

func (f *fakeSource) FetchMissing(ctx context.Context) error { return nil }

// --- record builders ---

func newProduct(name, barcode string, tracking records.Tracking) *records.Product {
	return &records.Product{
		Base:     records.Base{ID: id.New(), Name: name, Barcode: barcode},
		Tracking: tracking,
	}
}

func newUoM(name, category string, factor float64) *records.UoM {
	return &records.UoM{
		Base:     records.Base{ID: id.New(), Name: name},
		Category: category,
		Factor:   types.NewQuantityFromFloat64(factor).Decimal(),
	}
}

func newLot(name string, productID id.ID) *records.Lot {
	return &records.Lot{
		Base:      records.Base{ID: id.New(), Name: name, Barcode: name},
		ProductID: productID,
	}
}

func newLocation(name, barcode, parentPath string) *records.Location {
	loc := &records.Location{Base: records.Base{ID: id.New(), Name: name, Barcode: barcode}}
	if parentPath == "" {
		parentPath = loc.ID.String()
	}
	loc.ParentPath = parentPath
	return loc
}

func newPackage(name, barcode string) *records.Package {
	return &records.Package{Base: records.Base{ID: id.New(), Name: name, Barcode: barcode}}
}

func newPackaging(barcode string, productID id.ID, qty int64) *records.Packaging {
	return &records.Packaging{
		Base:      records.Base{ID: id.New(), Name: barcode, Barcode: barcode},
		ProductID: productID,
		Qty:       types.NewQuantityFromInt64(qty),
	}
}

// ---

func TestResolver_ActionKeyword(t *testing.T) {
	src := &fakeSource{}
	r := NewResolver(nil, src, false, false)

	ran := false
	r.RegisterAction("DONE", func(ctx context.Context) error {
		ran = true
		return nil
	})

	bd := r.ParseBarcode(context.Background(), "DONE", nil)
	require.NotNil(t, bd.Action)
	assert.True(t, bd.Match)
	assert.Equal(t, "DONE", bd.ActionName)

	require.NoError(t, bd.Action(context.Background()))
	assert.True(t, ran)
}

func TestResolver_ProductFromCache(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Bolt M8", "4006381333931", records.TrackingNone)
	src.Add(product)
	r := NewResolver(nil, src, false, false)

	bd := r.ParseBarcode(context.Background(), "4006381333931", nil)
	assert.True(t, bd.Match)
	require.NotNil(t, bd.Product)
	assert.Equal(t, product.ID, bd.Product.ID)
}

func TestResolver_UnknownBarcodeQueuesMiss(t *testing.T) {
	src := &fakeSource{}
	r := NewResolver(nil, src, false, false)

	bd := r.ParseBarcode(context.Background(), "no-such-thing", nil)
	assert.False(t, bd.Match)
	assert.Nil(t, bd.Product)
	assert.Contains(t, src.missed, "no-such-thing")
}

func TestResolver_GTINLeadingZeros(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Widget", "123457", records.TrackingNone)
	src.Add(product)
	nom := &nomenclature.Nomenclature{IsGS1: true}
	r := NewResolver(nom, src, false, false)

	// GTIN-14 zero padding must still find the EAN-registered product.
	bd := r.ParseBarcode(context.Background(), "(01)00000000123457", nil)
	assert.True(t, bd.Match)
	require.NotNil(t, bd.Product)
	assert.Equal(t, product.ID, bd.Product.ID)
}

func TestResolver_ExistingLot(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Serum", "SER01", records.TrackingLot)
	lot := newLot("LOT-77", product.ID)
	src.Add(product, lot)

	nom := &nomenclature.Nomenclature{
		Rules: []nomenclature.Rule{
			{Name: "lots", Type: nomenclature.SegmentLot, Pattern: "LOT-.."},
		},
	}
	r := NewResolver(nom, src, true, false)

	bd := r.ParseBarcode(context.Background(), "LOT-77", nil)
	assert.True(t, bd.Match)
	require.NotNil(t, bd.Lot)
	assert.Equal(t, lot.ID, bd.Lot.ID)
	assert.Empty(t, bd.LotName)
}

func TestResolver_NewLotName(t *testing.T) {
	src := &fakeSource{}
	nom := &nomenclature.Nomenclature{
		Rules: []nomenclature.Rule{
			{Name: "lots", Type: nomenclature.SegmentLot, Pattern: "LOT-.."},
		},
	}
	r := NewResolver(nom, src, true, false)

	bd := r.ParseBarcode(context.Background(), "LOT-999", nil)
	assert.True(t, bd.Match)
	assert.Nil(t, bd.Lot)
	assert.Equal(t, "LOT-999", bd.LotName)
}

func TestResolver_WeightBarcodeKeepsBaseCode(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Cheese", "2112345000007", records.TrackingNone)
	src.Add(product)

	nom := &nomenclature.Nomenclature{
		Rules: []nomenclature.Rule{
			{Name: "scale", Type: nomenclature.SegmentWeight, Pattern: "21.....{NNDDD}"},
		},
	}
	r := NewResolver(nom, src, false, false)

	bd := r.ParseBarcode(context.Background(), "2112345015007", nil)
	assert.True(t, bd.Match)
	require.NotNil(t, bd.Weight)
	assert.Equal(t, types.NewQuantityFromFloat64(1.5), bd.Weight.Value)
	require.NotNil(t, bd.Product)
	assert.Equal(t, product.ID, bd.Product.ID)
}

func TestResolver_CompositeGS1(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Vial", "123457", records.TrackingLot)
	lot := newLot("lot-abc", product.ID)
	src.Add(product, lot)

	nom := &nomenclature.Nomenclature{IsGS1: true}
	r := NewResolver(nom, src, true, false)

	bd := r.ParseBarcode(context.Background(), "(01)00000000123457(10)lot-abc(30)6", nil)
	assert.True(t, bd.Match)
	require.NotNil(t, bd.Product)
	assert.Equal(t, product.ID, bd.Product.ID)
	require.NotNil(t, bd.Lot)
	assert.Equal(t, lot.ID, bd.Lot.ID)
	assert.True(t, bd.QuantitySet)
	assert.Equal(t, types.NewQuantityFromInt64(6), bd.Quantity)
}

func TestResolver_CompositeSkipsLotForUntracked(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Bulk sand", "123457", records.TrackingNone)
	src.Add(product)

	nom := &nomenclature.Nomenclature{IsGS1: true}
	r := NewResolver(nom, src, true, false)

	bd := r.ParseBarcode(context.Background(), "(01)00000000123457(10)whatever", nil)
	assert.True(t, bd.Match)
	require.NotNil(t, bd.Product)
	assert.Nil(t, bd.Lot)
	assert.Empty(t, bd.LotName)
}

func TestResolver_AmbiguousBarcodeWarns(t *testing.T) {
	src := &fakeSource{}
	src.Add(
		newLocation("Shelf A", "SHARED", ""),
		newProduct("Unlucky", "SHARED", records.TrackingNone),
	)
	r := NewResolver(nil, src, false, false)

	bd := r.ParseBarcode(context.Background(), "SHARED", nil)
	assert.True(t, bd.Match)
	assert.NotNil(t, bd.Location)
	assert.NotNil(t, bd.Product)
	assert.Contains(t, bd.Error, "matches several records")
}

func TestResolver_ExpandPackaging(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Beer", "BEER1", records.TrackingNone)
	box := newPackaging("BOX6", product.ID, 6)
	src.Add(product, box)
	r := NewResolver(nil, src, false, false)

	bd := r.ParseBarcode(context.Background(), "BOX6", nil)
	require.NotNil(t, bd.Packaging)

	require.NoError(t, r.ExpandPackaging(context.Background(), bd))
	require.NotNil(t, bd.Product)
	assert.Equal(t, product.ID, bd.Product.ID)
	assert.True(t, bd.QuantitySet)
	assert.Equal(t, types.NewQuantityFromInt64(6), bd.Quantity)
}

func TestResolver_ExpandPackagingMultipliesCount(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Beer", "BEER1", records.TrackingNone)
	box := newPackaging("BOX6", product.ID, 6)
	src.Add(product, box)
	r := NewResolver(nil, src, false, false)

	bd := &BarcodeData{
		Barcode:     "BOX6",
		Packaging:   box,
		Quantity:    types.NewQuantityFromInt64(3),
		QuantitySet: true,
	}
	require.NoError(t, r.ExpandPackaging(context.Background(), bd))
	assert.Equal(t, types.NewQuantityFromInt64(18), bd.Quantity)
}

func TestResolver_QuantityRuleUoM(t *testing.T) {
	src := &fakeSource{}
	pcs := newUoM("pcs", "unit", 1)
	src.Add(pcs)

	uomID := pcs.ID
	nom := &nomenclature.Nomenclature{
		Rules: []nomenclature.Rule{
			{Name: "counts", Type: nomenclature.SegmentQuantity, Pattern: "27{NNN}", UoMID: &uomID},
		},
	}
	r := NewResolver(nom, src, false, true)

	bd := r.ParseBarcode(context.Background(), "27012", nil)
	assert.True(t, bd.QuantitySet)
	assert.Equal(t, types.NewQuantityFromInt64(12), bd.Quantity)
	require.NotNil(t, bd.UoM)
	assert.Equal(t, pcs.ID, bd.UoM.ID)
}
