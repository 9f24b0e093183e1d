package scan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockscan/internal/core/apperror"
	"stockscan/internal/core/id"
	"stockscan/internal/core/types"
	"stockscan/internal/domain/nomenclature"
	"stockscan/internal/domain/records"
)

func newTestEngine(t *testing.T, cfg Config, nom *nomenclature.Nomenclature, src *fakeSource, lines []*Line, opts ...Option) *Engine {
	t.Helper()
	state := NewOperationState(lines, DefaultGroupKey)
	e, err := NewEngine(cfg, nom, src, state, opts...)
	require.NoError(t, err)
	return e
}

func demandLine(product *records.Product, demand int64) *Line {
	return &Line{Product: product, QtyDemand: types.NewQuantityFromInt64(demand)}
}

func appCode(t *testing.T, err error) string {
	t.Helper()
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok, "expected AppError, got %v", err)
	return appErr.Code
}

func TestEngine_ScanIncrementsDemandLine(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Bolt M8", "BOLT8", records.TrackingNone)
	src.Add(product)

	e := newTestEngine(t, Config{OperationType: "delivery"}, nil, src,
		[]*Line{demandLine(product, 2)})

	require.NoError(t, e.ProcessBarcode(context.Background(), "BOLT8"))

	lines := e.State().Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, types.One, lines[0].QtyDone)
	require.NotNil(t, e.SelectedLine())
	assert.Equal(t, lines[0].VirtualID, e.SelectedLine().VirtualID)
	assert.Len(t, e.DirtyLines(), 1)
}

func TestEngine_OverflowSplitsSelectedLine(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Bolt M8", "BOLT8", records.TrackingNone)
	src.Add(product)

	e := newTestEngine(t, Config{OperationType: "delivery"}, nil, src,
		[]*Line{demandLine(product, 2)})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, e.ProcessBarcode(ctx, "BOLT8"))
	}

	// Demand satisfied after two scans; the third splits into a new line.
	lines := e.State().Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, types.NewQuantityFromInt64(2), lines[0].QtyDone)
	assert.Equal(t, types.One, lines[1].QtyDone)
	assert.True(t, lines[1].QtyDemand.IsZero())
	assert.Nil(t, lines[1].ID)

	total := lines[0].QtyDone + lines[1].QtyDone
	assert.Equal(t, types.NewQuantityFromInt64(3), total)
}

func TestEngine_ReceiptOverflowStaysOnLine(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Bolt M8", "BOLT8", records.TrackingNone)
	src.Add(product)

	e := newTestEngine(t, Config{OperationType: "receipt"}, nil, src,
		[]*Line{demandLine(product, 2)})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, e.ProcessBarcode(ctx, "BOLT8"))
	}

	lines := e.State().Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, types.NewQuantityFromInt64(3), lines[0].QtyDone)
}

func TestEngine_SerialFlow(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Camera", "CAM01", records.TrackingSerial)
	src.Add(product)

	e := newTestEngine(t, Config{OperationType: "receipt"}, nil, src, nil)
	ctx := context.Background()

	// First scan creates a zero-quantity line awaiting its serial.
	require.NoError(t, e.ProcessBarcode(ctx, "CAM01"))
	lines := e.State().Lines()
	require.Len(t, lines, 1)
	assert.True(t, lines[0].QtyDone.IsZero())
	require.NotNil(t, e.SelectedLine())

	// An unrecognized scan against the selected tracked line becomes the serial.
	require.NoError(t, e.ProcessBarcode(ctx, "SN-0001"))
	require.Len(t, e.State().Lines(), 1)
	assert.Equal(t, types.One, lines[0].QtyDone)
	assert.Equal(t, "SN-0001", lines[0].LotName)
}

func TestEngine_DuplicateSerialRejected(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Camera", "CAM01", records.TrackingSerial)
	src.Add(product)

	e := newTestEngine(t, Config{OperationType: "receipt"}, nil, src, nil)
	ctx := context.Background()

	require.NoError(t, e.ProcessBarcode(ctx, "CAM01"))
	require.NoError(t, e.ProcessBarcode(ctx, "SN-0001"))

	err := e.ProcessBarcode(ctx, "SN-0001")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeDuplicateSerial, appCode(t, err))

	// State untouched by the rejection.
	lines := e.State().Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, types.One, lines[0].QtyDone)
}

func TestEngine_SerialQtyClampedToOne(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Camera", "123457", records.TrackingSerial)
	src.Add(product)

	nom := &nomenclature.Nomenclature{IsGS1: true}
	e := newTestEngine(t, Config{OperationType: "receipt"}, nom, src, nil)

	require.NoError(t, e.ProcessBarcode(context.Background(), "(01)00000000123457(30)5(21)SN-9"))

	lines := e.State().Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, types.One, lines[0].QtyDone)
	assert.Equal(t, "SN-9", lines[0].LotName)
}

func TestEngine_ExplicitZeroQuantityIsNoOp(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Bolt M8", "123457", records.TrackingNone)
	src.Add(product)

	nom := &nomenclature.Nomenclature{IsGS1: true}
	e := newTestEngine(t, Config{OperationType: "receipt"}, nom, src, nil)

	require.NoError(t, e.ProcessBarcode(context.Background(), "(01)00000000123457(30)0"))
	assert.Empty(t, e.State().Lines())
	assert.Empty(t, e.DirtyLines())
}

func TestEngine_LotClaimDoesNotDoubleCount(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Serum", "SER01", records.TrackingLot)
	lot := newLot("LOT-77", product.ID)
	src.Add(product, lot)

	e := newTestEngine(t, Config{OperationType: "count", UseExistingLots: true}, nil, src, nil)
	ctx := context.Background()

	// Counting increments even without a lot.
	require.NoError(t, e.ProcessBarcode(ctx, "SER01"))
	lines := e.State().Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, types.One, lines[0].QtyDone)
	assert.False(t, lines[0].hasLot())

	// The lot scan claims the counted unit instead of adding another.
	require.NoError(t, e.ProcessBarcode(ctx, "LOT-77"))
	require.Len(t, e.State().Lines(), 1)
	assert.Equal(t, types.One, lines[0].QtyDone)
	require.NotNil(t, lines[0].Lot)
	assert.Equal(t, lot.ID, lines[0].Lot.ID)
}

func TestEngine_LotScanDerivesProduct(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Serum", "SER01", records.TrackingLot)
	lot := newLot("LOT-77", product.ID)
	src.Add(product, lot)

	e := newTestEngine(t, Config{OperationType: "receipt", UseExistingLots: true}, nil, src, nil)

	require.NoError(t, e.ProcessBarcode(context.Background(), "LOT-77"))

	lines := e.State().Lines()
	require.Len(t, lines, 1)
	require.NotNil(t, lines[0].Product)
	assert.Equal(t, product.ID, lines[0].Product.ID)
	assert.Equal(t, types.One, lines[0].QtyDone)
}

func TestEngine_LocationScanStopsAndClearsSelection(t *testing.T) {
	src := &fakeSource{}
	bolt := newProduct("Bolt M8", "BOLT8", records.TrackingNone)
	washer := newProduct("Washer M8", "WASH8", records.TrackingNone)
	shelf := newLocation("Shelf A", "SHELF-A", "")
	src.Add(bolt, washer, shelf)

	e := newTestEngine(t, Config{OperationType: "receipt"}, nil, src, nil)
	ctx := context.Background()

	require.NoError(t, e.ProcessBarcode(ctx, "BOLT8"))
	require.NotNil(t, e.SelectedLine())

	require.NoError(t, e.ProcessBarcode(ctx, "SHELF-A"))
	assert.Nil(t, e.SelectedLine())

	// The remembered location flows into lines created afterwards.
	require.NoError(t, e.ProcessBarcode(ctx, "WASH8"))
	var withLoc *Line
	for _, l := range e.State().Lines() {
		if l.Product.ID == washer.ID {
			withLoc = l
		}
	}
	require.NotNil(t, withLoc)
	require.NotNil(t, withLoc.Location)
	assert.Equal(t, shelf.ID, withLoc.Location.ID)
}

func TestEngine_ScanPrefersLineAtScannedLocation(t *testing.T) {
	src := &fakeSource{}
	bolt := newProduct("Bolt M8", "BOLT8", records.TrackingNone)
	shelfA := newLocation("Shelf A", "SHELF-A", "")
	shelfB := newLocation("Shelf B", "SHELF-B", "")
	src.Add(bolt, shelfA, shelfB)

	lineA := demandLine(bolt, 2)
	lineA.Location = shelfA
	lineB := demandLine(bolt, 2)
	lineB.Location = shelfB

	e := newTestEngine(t, Config{OperationType: "receipt"}, nil, src, []*Line{lineA, lineB})
	ctx := context.Background()

	require.NoError(t, e.ProcessBarcode(ctx, "SHELF-B"))
	require.NoError(t, e.ProcessBarcode(ctx, "BOLT8"))

	var doneA, doneB types.Quantity
	for _, l := range e.State().Lines() {
		switch {
		case l.Location != nil && l.Location.ID == shelfA.ID:
			doneA = l.QtyDone
		case l.Location != nil && l.Location.ID == shelfB.ID:
			doneB = l.QtyDone
		}
	}
	// The incomplete line at the scanned location fills first even though the
	// other candidate comes earlier in the operation.
	assert.True(t, doneA.IsZero())
	assert.Equal(t, types.One, doneB)
}

func TestEngine_BarePackageScanOnlySetsWorkingPackage(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Bolt M8", "BOLT8", records.TrackingNone)
	pallet := newPackage("Pallet 1", "PAL-1")
	src.Add(product, pallet)

	e := newTestEngine(t, Config{OperationType: "receipt", MultiPackage: true}, nil, src, nil)
	ctx := context.Background()

	require.NoError(t, e.ProcessBarcode(ctx, "PAL-1"))
	assert.Empty(t, e.State().Lines())

	require.NoError(t, e.ProcessBarcode(ctx, "BOLT8"))
	lines := e.State().Lines()
	require.Len(t, lines, 1)
	require.NotNil(t, lines[0].Package)
	assert.Equal(t, pallet.ID, lines[0].Package.ID)
}

func TestEngine_UnrecognizedBarcode(t *testing.T) {
	src := &fakeSource{}
	e := newTestEngine(t, Config{OperationType: "receipt"}, nil, src, nil)

	err := e.ProcessBarcode(context.Background(), "garbage")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeUnrecognizedBarcode, appCode(t, err))

	history := e.History()
	require.Len(t, history, 1)
	assert.Equal(t, "garbage", history[0].Barcode)
	assert.False(t, history[0].Match)
}

func TestEngine_PackagingExpandsQuantity(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Beer", "BEER1", records.TrackingNone)
	box := newPackaging("BOX6", product.ID, 6)
	src.Add(product, box)

	e := newTestEngine(t, Config{OperationType: "receipt"}, nil, src, nil)

	require.NoError(t, e.ProcessBarcode(context.Background(), "BOX6"))

	lines := e.State().Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, types.NewQuantityFromInt64(6), lines[0].QtyDone)
}

func TestEngine_PackagingSerialFansOutPerUnit(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Camera", "CAM01", records.TrackingSerial)
	box := newPackaging("BOX3", product.ID, 3)
	src.Add(product, box)

	e := newTestEngine(t, Config{OperationType: "receipt"}, nil, src, nil)

	require.NoError(t, e.ProcessBarcode(context.Background(), "BOX3"))

	lines := e.State().Lines()
	require.Len(t, lines, 3)
	for _, l := range lines {
		assert.Equal(t, types.One, l.QtyDone)
		assert.False(t, l.hasLot())
	}
}

func TestEngine_WeightScanInProductUnit(t *testing.T) {
	src := &fakeSource{}
	kg := newUoM("kg", "weight", 1)
	g := newUoM("g", "weight", 0.001)
	product := newProduct("Cheese", "2112345000007", records.TrackingNone)
	product.UoMID = g.ID
	src.Add(kg, g, product)

	kgID := kg.ID
	nom := &nomenclature.Nomenclature{
		Rules: []nomenclature.Rule{
			{Name: "scale", Type: nomenclature.SegmentWeight, Pattern: "21.....{NNDDD}", UoMID: &kgID},
		},
	}
	e := newTestEngine(t, Config{OperationType: "receipt", UoMEnabled: true}, nom, src, nil)

	require.NoError(t, e.ProcessBarcode(context.Background(), "2112345015007"))

	// 1.5 kg is 1500 in the product's own unit (grams).
	lines := e.State().Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, types.NewQuantityFromInt64(1500), lines[0].QtyDone)
	require.NotNil(t, lines[0].UoM)
	assert.Equal(t, g.ID, lines[0].UoM.ID)
}

func TestEngine_GateRejectsScan(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Forbidden", "NOPE1", records.TrackingNone)
	src.Add(product)

	e := newTestEngine(t, Config{
		OperationType: "receipt",
		GateExpr:      `product_name != "Forbidden"`,
	}, nil, src, nil)

	err := e.ProcessBarcode(context.Background(), "NOPE1")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeGateRejected, appCode(t, err))
	assert.Empty(t, e.State().Lines())
}

func TestEngine_CompositeURNProcessedOnce(t *testing.T) {
	src := &fakeSource{}
	src.Add(
		newProduct("Tagged A", "urn:epc:tag:item-1", records.TrackingNone),
		newProduct("Tagged B", "urn:epc:tag:item-2", records.TrackingNone),
	)

	e := newTestEngine(t, Config{OperationType: "receipt"}, nil, src, nil)
	ctx := context.Background()

	raw := "urn:epc:tag:item-1 urn:epc:tag:item-2"
	require.NoError(t, e.ProcessBarcode(ctx, raw))
	require.Len(t, e.State().Lines(), 2)

	// Re-reading the same tags must not double-count.
	require.NoError(t, e.ProcessBarcode(ctx, raw))
	lines := e.State().Lines()
	require.Len(t, lines, 2)
	for _, l := range lines {
		assert.Equal(t, types.One, l.QtyDone)
	}
}

func TestEngine_CompanyScopeFiltersProducts(t *testing.T) {
	companyA, companyB := id.New(), id.New()

	own := newProduct("Bolt M8", "BOLT8", records.TrackingNone)
	own.CompanyID = &companyA
	foreign := newProduct("Bolt M8 import", "BOLT8-IMP", records.TrackingNone)
	foreign.CompanyID = &companyB
	shared := newProduct("Washer M8", "WASH8", records.TrackingNone)

	src := &fakeSource{}
	src.Add(own, foreign, shared)

	e := newTestEngine(t, Config{OperationType: "receipt", CompanyID: &companyA}, nil, src, nil)
	ctx := context.Background()

	require.NoError(t, e.ProcessBarcode(ctx, "BOLT8"))
	require.NoError(t, e.ProcessBarcode(ctx, "WASH8"))
	assert.Len(t, e.State().Lines(), 2)

	// Another company's product stays invisible.
	err := e.ProcessBarcode(ctx, "BOLT8-IMP")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeUnrecognizedBarcode, appCode(t, err))
	assert.Len(t, e.State().Lines(), 2)
}

func TestEngine_ConsumedURNDroppedWhenScannedAlone(t *testing.T) {
	src := &fakeSource{}
	src.Add(
		newProduct("Tagged A", "urn:epc:tag:item-1", records.TrackingNone),
		newProduct("Tagged B", "urn:epc:tag:item-2", records.TrackingNone),
	)

	e := newTestEngine(t, Config{OperationType: "receipt"}, nil, src, nil)
	ctx := context.Background()

	require.NoError(t, e.ProcessBarcode(ctx, "urn:epc:tag:item-1 urn:epc:tag:item-2"))
	require.Len(t, e.State().Lines(), 2)

	// One tag of the batch re-read on its own is already consumed.
	require.NoError(t, e.ProcessBarcode(ctx, "urn:epc:tag:item-1"))
	lines := e.State().Lines()
	require.Len(t, lines, 2)
	for _, l := range lines {
		assert.Equal(t, types.One, l.QtyDone)
	}
}

func TestEngine_ActionBarcodeIsTerminal(t *testing.T) {
	src := &fakeSource{}
	e := newTestEngine(t, Config{OperationType: "receipt"}, nil, src, nil)

	ran := false
	e.RegisterAction("VALIDATE", func(ctx context.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, e.ProcessBarcode(context.Background(), "VALIDATE"))
	assert.True(t, ran)
	assert.Empty(t, e.State().Lines())
}

func TestEngine_RetryWithoutLotFilter(t *testing.T) {
	src := &fakeSource{}
	productA := newProduct("Serum A", "SERA", records.TrackingLot)
	productB := newProduct("Serum B", "SERB", records.TrackingLot)
	lotB := newLot("LOT-B1", productB.ID)
	src.Add(productA, productB, lotB)

	e := newTestEngine(t, Config{OperationType: "receipt", UseExistingLots: true}, nil, src, nil)
	ctx := context.Background()

	// Select a line of product A, then scan a lot belonging to product B. The
	// product filter misses, the unfiltered retry finds the lot.
	require.NoError(t, e.ProcessBarcode(ctx, "SERA"))
	require.NoError(t, e.ProcessBarcode(ctx, "LOT-B1"))

	var bLine *Line
	for _, l := range e.State().Lines() {
		if l.Product != nil && l.Product.ID == productB.ID {
			bLine = l
		}
	}
	require.NotNil(t, bLine)
	require.NotNil(t, bLine.Lot)
	assert.Equal(t, lotB.ID, bLine.Lot.ID)
}

func TestEngine_ConfirmSaveAssignsIDs(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Bolt M8", "BOLT8", records.TrackingNone)
	src.Add(product)

	e := newTestEngine(t, Config{OperationType: "receipt"}, nil, src, nil)
	require.NoError(t, e.ProcessBarcode(context.Background(), "BOLT8"))

	dirty := e.DirtyLines()
	require.Len(t, dirty, 1)
	require.Nil(t, dirty[0].ID)

	serverID := id.New()
	e.ConfirmSave(map[id.ID]id.ID{dirty[0].VirtualID: serverID})

	assert.Empty(t, e.DirtyLines())
	require.NotNil(t, dirty[0].ID)
	assert.Equal(t, serverID, *dirty[0].ID)
}

func TestEngine_HistoryIsBounded(t *testing.T) {
	src := &fakeSource{}
	product := newProduct("Bolt M8", "BOLT8", records.TrackingNone)
	src.Add(product)

	e := newTestEngine(t, Config{OperationType: "receipt", HistoryCap: 3}, nil, src, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, e.ProcessBarcode(ctx, "BOLT8"))
	}

	history := e.History()
	assert.Len(t, history, 3)
}
