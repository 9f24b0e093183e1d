package scan

import (
	"context"
	"regexp"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"stockscan/internal/core/apperror"
	"stockscan/internal/core/id"
	"stockscan/internal/core/types"
	"stockscan/internal/domain/nomenclature"
	"stockscan/internal/domain/records"
	"stockscan/pkg/logger"
)

var tracer = otel.Tracer("stockscan/internal/domain/scan")

const defaultHistoryCap = 50

// PrefillFunc supplies an owner and package for a line that is being assigned
// a new lot name, keyed by product, lot id or name, and location. Either
// result may be nil.
type PrefillFunc func(ctx context.Context, product *records.Product, lotKey string, loc *records.Location) (*records.Owner, *records.Package, error)

// AuditSink receives every scan attempt for durable diagnostics.
type AuditSink interface {
	Record(ctx context.Context, attempt Attempt)
}

// Config carries the per-operation settings of an engine.
type Config struct {
	// OperationType selects the line policy: receipt, delivery or count.
	OperationType string

	// MultiPackage enables package scanning; it also changes the wording of
	// the no-product failure.
	MultiPackage bool

	// UseExistingLots resolves lot segments against known lots first.
	UseExistingLots bool

	// UoMEnabled resolves units of measure on quantity rules.
	UoMEnabled bool

	// CompanyID scopes product resolution to the operator's company.
	// Records without a company stay visible.
	CompanyID *id.ID

	// GateExpr is an optional CEL expression admitting scans.
	GateExpr string

	// Separator overrides the multi-barcode split regex.
	Separator *regexp.Regexp

	// HistoryCap bounds the in-memory attempt history.
	HistoryCap int
}

// lastScanned is the cross-scan inference memory: the engine falls back to it
// when a scan carries a lot or quantity but no product of its own.
type lastScanned struct {
	product        *records.Product
	sourceLocation *records.Location
	packageID      *id.ID
}

// Engine is the line matcher: it drives one barcode through resolution and
// applies the result to the operation state. A single mutex serializes scans;
// composite payloads are processed strictly in order under one acquisition.
type Engine struct {
	mu sync.Mutex

	cfg      Config
	resolver *Resolver
	cache    RecordSource
	state    *OperationState
	policy   LinePolicy
	gate     *Gate
	norm     *normalizer
	events   *emitter

	prefill PrefillFunc
	audit   AuditSink

	// history keeps recent attempts, most recent first.
	history []Attempt

	last lastScanned
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithPrefill installs the owner/package prefill helper.
func WithPrefill(fn PrefillFunc) Option {
	return func(e *Engine) { e.prefill = fn }
}

// WithAudit installs the durable attempt sink.
func WithAudit(sink AuditSink) Option {
	return func(e *Engine) { e.audit = sink }
}

// NewEngine assembles an engine over a nomenclature, a record source and the
// loaded operation state.
func NewEngine(cfg Config, nom *nomenclature.Nomenclature, cache RecordSource, state *OperationState, opts ...Option) (*Engine, error) {
	gate, err := NewGate(cfg.GateExpr)
	if err != nil {
		return nil, err
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = defaultHistoryCap
	}
	e := &Engine{
		cfg:      cfg,
		resolver: NewResolver(nom, cache, cfg.UseExistingLots, cfg.UoMEnabled),
		cache:    cache,
		state:    state,
		policy:   PolicyFor(cfg.OperationType),
		gate:     gate,
		norm:     newNormalizer(cfg.Separator),
		events:   newEmitter(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// RegisterAction binds a command barcode to a callback.
func (e *Engine) RegisterAction(keyword string, fn Action) {
	e.resolver.RegisterAction(keyword, fn)
}

// Events returns the notification stream consumed by the UI layer.
func (e *Engine) Events() <-chan Event { return e.events.events() }

// State returns the operation state for read access. Callers must not mutate
// lines while scans are running.
func (e *Engine) State() *OperationState { return e.state }

// Policy returns the active line policy.
func (e *Engine) Policy() LinePolicy { return e.policy }

// History returns a copy of the recent attempts, most recent first.
func (e *Engine) History() []Attempt {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Attempt(nil), e.history...)
}

// PageLines returns the flat display ordering under the scan mutex.
func (e *Engine) PageLines() []*Line {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.PageLines()
}

// GroupedLines returns the derived grouped view under the scan mutex.
func (e *Engine) GroupedLines() ([]*GroupedLine, []*Line) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.GroupedLines(e.policy)
}

// SelectedLine returns the selected line under the scan mutex.
func (e *Engine) SelectedLine() *Line {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.SelectedLine()
}

// Select marks a line as selected.
func (e *Engine) Select(virtualID id.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Select(virtualID)
	e.events.emit(Event{Kind: EventUpdate})
}

// DirtyLines returns the lines pending persistence.
func (e *Engine) DirtyLines() []*Line {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.DirtyLines()
}

// ConfirmSave clears the dirty set and records backend-assigned ids.
func (e *Engine) ConfirmSave(assigned map[id.ID]id.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.ClearDirty(assigned)
	e.events.emit(Event{Kind: EventUpdate})
}

// ProcessBarcode resolves one raw scanner payload and applies it to the
// operation state. A composite payload (multiple URNs or separator-joined
// barcodes) is processed piece by piece under a single mutex acquisition; a
// duplicate composite submitted while the first is still running is dropped.
func (e *Engine) ProcessBarcode(ctx context.Context, raw string) error {
	ctx, span := tracer.Start(ctx, "scan.ProcessBarcode")
	defer span.End()
	span.SetAttributes(attribute.Int("scan.raw_len", len(raw)))

	pieces := e.norm.Split(raw)
	if len(pieces) == 1 {
		e.mu.Lock()
		defer e.mu.Unlock()
		if IsURN(pieces[0]) && e.norm.urnConsumed(pieces[0]) {
			logger.Debug(ctx, "consumed urn dropped", "barcode", pieces[0])
			return nil
		}
		err := e.processSingle(ctx, pieces[0], IsURN(pieces[0]))
		if err != nil {
			e.reject(err)
		}
		return err
	}

	if !e.norm.tryAcquire(raw) {
		logger.Debug(ctx, "duplicate composite scan dropped", "barcode", raw)
		return nil
	}
	defer e.norm.release(raw)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.events.emit(Event{Kind: EventCountToProcess, Count: len(pieces)})
	for i, bc := range pieces {
		if IsURN(bc) && e.norm.urnConsumed(bc) {
			e.events.emit(Event{Kind: EventCountProcessed, Count: i + 1})
			continue
		}
		if err := e.processSingle(ctx, bc, IsURN(bc)); err != nil {
			// One bad piece must not abort the batch.
			e.reject(err)
		}
		e.events.emit(Event{Kind: EventCountProcessed, Count: i + 1})
	}
	return nil
}

// reject surfaces a scan failure to the UI without touching state.
func (e *Engine) reject(err error) {
	level := NotifyDanger
	msg := err.Error()
	if appErr, ok := apperror.AsAppError(err); ok {
		msg = appErr.Message
		switch appErr.Code {
		case apperror.CodeUnrecognizedBarcode, apperror.CodeNoProduct, apperror.CodeAmbiguousBarcode:
			level = NotifyWarning
		}
	}
	e.events.emit(Event{Kind: EventSound, Sound: "error"})
	e.events.emit(Event{Kind: EventNotify, Level: level, Message: msg})
}

// processSingle runs one barcode through the whole pipeline. Caller holds the
// scan mutex.
func (e *Engine) processSingle(ctx context.Context, barcode string, fromURN bool) error {
	ctx, span := tracer.Start(ctx, "scan.processSingle")
	defer span.End()

	filters, lotFiltered := e.scanFilters()
	bd := e.resolver.ParseBarcode(ctx, barcode, filters)
	if !bd.Match && lotFiltered {
		// The product filter may have excluded a genuine lot match; one
		// retry without it trades precision for recall.
		bd = e.resolver.ParseBarcode(ctx, barcode, filters.Without(records.ModelLot))
	}
	bd.FromURN = fromURN
	e.recordAttempt(ctx, bd)

	if bd.Action != nil {
		// Actions are exclusive and terminal.
		return bd.Action(ctx)
	}

	if err := e.resolver.ExpandPackaging(ctx, bd); err != nil {
		return apperror.NewInternal(err)
	}

	if err := e.gate.Admit(ctx, bd); err != nil {
		return err
	}

	if bd.Error != "" {
		e.events.emit(Event{Kind: EventNotify, Level: NotifyWarning, Message: bd.Error})
	}

	if bd.Product != nil {
		e.last.product = bd.Product
	}

	// A lot without a product pins the product through the lot.
	if bd.Lot != nil && bd.Product == nil {
		if rec, ok := e.cache.Get(records.ModelProduct, bd.Lot.ProductID); ok {
			bd.Product = rec.(*records.Product)
			e.last.product = bd.Product
		}
	}

	if bd.Location != nil {
		e.last.sourceLocation = bd.Location
		e.last.packageID = nil
		e.state.ClearSelection()
		if e.policy.StopAfterLocationScan() {
			bd.Stopped = true
		}
	}
	if bd.Stopped {
		e.events.emit(Event{Kind: EventUpdate})
		return nil
	}

	if bd.Package != nil {
		pid := bd.Package.ID
		e.last.packageID = &pid
		if bd.Product == nil && !bd.QuantitySet && bd.Lot == nil && bd.LotName == "" {
			// A bare package scan only sets the working package.
			e.events.emit(Event{Kind: EventUpdate})
			return nil
		}
	}

	if bd.Weight != nil && bd.Product != nil {
		e.applyWeight(bd)
	}

	inferred := e.inferProduct(barcode, bd)

	if bd.Product == nil && bd.Match && e.resolver.nom != nil && e.resolver.nom.IsGS1 {
		// A lot prefix pattern can collide with a plain product barcode;
		// retry the cache ignoring the parser's segment typing.
		direct := &BarcodeData{Barcode: barcode}
		e.resolver.resolveFromCache(ctx, barcode, direct, filters)
		if direct.Product != nil {
			bd.Product = direct.Product
			e.last.product = bd.Product
		}
	}

	if bd.Product == nil {
		if !bd.Match {
			return apperror.NewUnrecognizedBarcode(barcode)
		}
		return apperror.NewNoProduct(barcode, e.cfg.MultiPackage)
	}

	// A lot accidentally matched by the same barcode but belonging to another
	// product is dropped entirely.
	if bd.Lot != nil && bd.Lot.ProductID != bd.Product.ID {
		bd.Lot = nil
	}

	hasLot := bd.Lot != nil || bd.LotName != ""
	qty, qtyDefaulted := e.defaultQuantity(bd, hasLot)

	if bd.Product.IsSerial() && hasLot && qty > types.One {
		e.reject(apperror.NewSerialQtyMismatch(lotKey(bd)))
		qty = types.One
	}

	if err := e.checkSerialUnique(bd, hasLot); err != nil {
		return err
	}

	// An explicit zero quantity without a lot is a no-op; a defaulted zero on
	// a tracked product still selects or creates the line awaiting its serial.
	if bd.QuantitySet && qty.IsZero() && !hasLot {
		e.events.emit(Event{Kind: EventUpdate})
		return nil
	}

	target := inferred
	if target == nil {
		target = e.findLine(bd)
	}

	line, err := e.mutate(ctx, bd, target, qty, qtyDefaulted, hasLot)
	if err != nil {
		return err
	}

	if line != nil {
		e.state.Select(line.VirtualID)
		e.state.MarkDirty(line.VirtualID)
	}
	if fromURN {
		e.norm.consumeURN(barcode)
	}
	e.events.emit(Event{Kind: EventFlash})
	e.events.emit(Event{Kind: EventUpdate})
	return nil
}

// scanFilters narrows resolution to the operator's company scope and, when a
// tracked line is selected, to that line's product. The second result reports
// whether a lot filter was applied.
func (e *Engine) scanFilters() (records.Filters, bool) {
	filters := records.Filters{}
	if e.cfg.CompanyID != nil {
		filters[records.ModelProduct] = map[string]string{"company_id": e.cfg.CompanyID.String()}
	}

	lotFiltered := false
	selected := e.state.SelectedLine()
	if selected != nil && selected.Product != nil && selected.Product.IsTracked() {
		filters[records.ModelLot] = map[string]string{"product_id": selected.Product.ID.String()}
		lotFiltered = true
	}
	if len(filters) == 0 {
		return nil, false
	}
	return filters, lotFiltered
}

// recordAttempt keeps the bounded history and feeds the audit sink.
func (e *Engine) recordAttempt(ctx context.Context, bd *BarcodeData) {
	attempt := Attempt{
		Barcode: bd.Barcode,
		Match:   bd.Match,
		Error:   bd.Error,
		At:      time.Now(),
	}
	e.history = append([]Attempt{attempt}, e.history...)
	if len(e.history) > e.cfg.HistoryCap {
		e.history = e.history[:e.cfg.HistoryCap]
	}
	if e.audit != nil {
		e.audit.Record(ctx, attempt)
	}
}

// applyWeight converts a scanned weight into a quantity in the product's own
// unit, not the unit the scale reported in.
func (e *Engine) applyWeight(bd *BarcodeData) {
	productUoM := e.resolver.productUoM(bd.Product)
	qty := bd.Weight.Value
	if bd.Weight.UoM != nil && productUoM != nil {
		if conv, ok := bd.Weight.UoM.Convert(qty, productUoM); ok {
			qty = conv
		}
	}
	bd.Quantity = qty
	bd.QuantitySet = true
	bd.UoM = productUoM
}

// inferProduct borrows a product from the selected or most recently touched
// line when the scan carried only a lot or quantity. When the scan matched
// nothing at all, the raw value becomes an ad-hoc new serial/lot for that
// product. The returned line, if any, bypasses findLine.
func (e *Engine) inferProduct(barcode string, bd *BarcodeData) *Line {
	if bd.Product != nil {
		return nil
	}
	explicit := bd.QuantitySet || bd.Lot != nil || bd.LotName != ""
	if !explicit && bd.Match {
		return nil
	}

	cand := e.state.SelectedLine()
	if cand == nil || cand.Product == nil || !cand.Product.IsTracked() {
		cand = e.state.LastScannedLine()
	}
	if cand == nil || cand.Product == nil || !cand.Product.IsTracked() {
		return nil
	}

	if !bd.Match {
		// Unrecognized scan against a tracked line: treat it as a new
		// serial/lot name for that product.
		bd.Product = cand.Product
		bd.LotName = barcode
		bd.Match = true
		return cand
	}
	if explicit {
		bd.Product = cand.Product
		return cand
	}
	return nil
}

// defaultQuantity determines the increment when no explicit quantity was
// scanned. The bool result reports that the default was applied, which lets
// the mutator turn a lot claim on an already-counted line into a zero
// increment.
func (e *Engine) defaultQuantity(bd *BarcodeData, hasLot bool) (types.Quantity, bool) {
	if bd.QuantitySet {
		return bd.Quantity, false
	}
	if !bd.Product.IsTracked() || hasLot || e.policy.IncrementsOnScan() {
		return types.One, true
	}
	return 0, true
}

// checkSerialUnique rejects a serial already counted on any line of the same
// product. State is untouched on rejection.
func (e *Engine) checkSerialUnique(bd *BarcodeData, hasLot bool) error {
	if !bd.Product.IsSerial() || !hasLot {
		return nil
	}
	for _, l := range e.state.Lines() {
		if l.Product == nil || l.Product.ID != bd.Product.ID {
			continue
		}
		if l.hasLot() && l.sameLot(bd.Lot, bd.LotName) && e.policy.QtyDone(l).IsPositive() {
			return apperror.NewDuplicateSerial(bd.Product.Name, lotKey(bd))
		}
	}
	return nil
}

func lotKey(bd *BarcodeData) string {
	if bd.Lot != nil {
		return bd.Lot.Name
	}
	return bd.LotName
}

// findLine picks the existing line a scan should merge into, or nil to force
// a new line. Preference order: an incomplete line at the exact scanned
// location wins immediately; then the selected line; then a line at the
// remembered source location; then, among complete candidates, the selected
// line or a member of its group.
func (e *Engine) findLine(bd *BarcodeData) *Line {
	scanLoc := e.last.sourceLocation
	selected := e.state.SelectedLine()

	var selectedGroup *GroupedLine
	if selected != nil {
		groups, _ := e.state.GroupedLines(e.policy)
		for _, g := range groups {
			if g.contains(selected.VirtualID) {
				selectedGroup = g
				break
			}
		}
	}

	const worst = 5
	var best *Line
	bestRank := worst

	for _, l := range e.state.Lines() {
		if !e.eligible(l, bd, selected) {
			continue
		}

		inLoc := scanLoc != nil && l.Location != nil && l.Location.ID == scanLoc.ID
		outside := scanLoc != nil && !e.policy.TakeFromLocation(l, scanLoc)
		if outside {
			if e.policy.RequiresLocationConfirm() {
				continue
			}
		}

		done, demand := e.policy.QtyDone(l), e.policy.QtyDemand(l)
		incomplete := demand.IsZero() || done < demand

		if inLoc && incomplete {
			return l
		}

		rank := 4
		switch {
		case selected != nil && l.VirtualID == selected.VirtualID:
			rank = 1
		case inLoc:
			rank = 2
		case !incomplete && (selectedGroup != nil && selectedGroup.contains(l.VirtualID)):
			rank = 3
		}
		if outside {
			rank = 4
		}
		if rank < bestRank {
			best, bestRank = l, rank
		}
	}
	return best
}

// eligible applies the hard candidate constraints: same product, same package
// when one was scanned, lot compatibility, serial capacity, and completeness
// unless the candidate is the operator's explicit selection.
func (e *Engine) eligible(l *Line, bd *BarcodeData, selected *Line) bool {
	if l.Product == nil || l.Product.ID != bd.Product.ID {
		return false
	}
	if bd.Package != nil {
		if l.Package == nil || l.Package.ID != bd.Package.ID {
			return false
		}
	}

	scanHasLot := bd.Lot != nil || bd.LotName != ""
	if scanHasLot && l.hasLot() && !l.sameLot(bd.Lot, bd.LotName) {
		return false
	}

	done := e.policy.QtyDone(l)
	if bd.Product.IsSerial() {
		// A serial line already counted and pinned cannot absorb more.
		if done.IsPositive() && l.hasLot() {
			return false
		}
		// Several already-counted units cannot retroactively share one serial.
		if scanHasLot && done > types.One {
			return false
		}
	}

	demand := e.policy.QtyDemand(l)
	fullyServed := demand.IsPositive() && done >= demand
	if fullyServed && (selected == nil || l.VirtualID != selected.VirtualID) {
		return false
	}
	return true
}

// mutate applies the scan to the target line, splitting overflow into a new
// line, or creates lines when no target matched.
func (e *Engine) mutate(ctx context.Context, bd *BarcodeData, target *Line, qty types.Quantity, qtyDefaulted, hasLot bool) (*Line, error) {
	if target != nil {
		return e.mutateExisting(ctx, bd, target, qty, qtyDefaulted, hasLot)
	}
	return e.createLines(ctx, bd, qty)
}

func (e *Engine) mutateExisting(ctx context.Context, bd *BarcodeData, target *Line, qty types.Quantity, qtyDefaulted, hasLot bool) (*Line, error) {
	if bd.UoM != nil && target.UoM != nil && !bd.Product.IsSerial() {
		if conv, ok := bd.UoM.Convert(qty, target.UoM); ok {
			qty = conv
		}
	}

	// An existing untracked count being claimed by a freshly scanned lot is
	// not an addition.
	if qtyDefaulted && hasLot && e.policy.QtyDone(target).IsPositive() && !target.hasLot() {
		qty = 0
	}

	done, demand := e.policy.QtyDone(target), e.policy.QtyDemand(target)
	var excess types.Quantity
	if !bd.Product.IsTracked() && demand.IsPositive() && done+qty > demand &&
		e.policy.ShouldSplitOnExceed(target) {
		excess = done + qty - demand
		qty = demand - done
	}

	e.updateLine(ctx, target, bd, done+qty, hasLot)
	e.state.MarkDirty(target.VirtualID)

	if excess.IsPositive() {
		split := *target
		split.VirtualID = id.Nil()
		split.ID = nil
		split.QtyDone = 0
		split.QtyDemand = 0
		e.policy.SetQtyDone(&split, excess)
		return e.state.Add(&split), nil
	}
	return target, nil
}

// updateLine writes the scan's fields onto a line.
func (e *Engine) updateLine(ctx context.Context, l *Line, bd *BarcodeData, done types.Quantity, hasLot bool) {
	e.policy.SetQtyDone(l, done)
	if bd.Lot != nil {
		l.Lot = bd.Lot
		l.LotName = bd.Lot.Name
	} else if bd.LotName != "" && !l.hasLot() {
		l.LotName = bd.LotName
	}
	if bd.Package != nil {
		l.Package = bd.Package
	}
	if bd.LocationDest != nil {
		l.LocationDest = bd.LocationDest
	}
	if hasLot && bd.Lot == nil {
		e.applyPrefill(ctx, l, bd)
	}
}

// applyPrefill adopts an externally supplied owner/package for a new lot name,
// unless the scan already provided one.
func (e *Engine) applyPrefill(ctx context.Context, l *Line, bd *BarcodeData) {
	if e.prefill == nil || (l.Owner != nil && l.Package != nil) {
		return
	}
	owner, pkg, err := e.prefill(ctx, bd.Product, lotKey(bd), l.Location)
	if err != nil {
		logger.Warn(ctx, "lot prefill failed", "lot", lotKey(bd), "error", err)
		return
	}
	if l.Owner == nil {
		l.Owner = owner
	}
	if l.Package == nil && bd.Package == nil && pkg != nil {
		l.Package = pkg
	}
}

func (e *Engine) createLines(ctx context.Context, bd *BarcodeData, qty types.Quantity) (*Line, error) {
	uom := bd.UoM
	if uom == nil {
		uom = e.resolver.productUoM(bd.Product)
	}

	newLine := func() *Line {
		l := &Line{
			Product:      bd.Product,
			UoM:          uom,
			Location:     e.last.sourceLocation,
			LocationDest: bd.LocationDest,
			Lot:          bd.Lot,
			LotName:      lotKey(bd),
			Package:      bd.Package,
		}
		if bd.Location != nil {
			l.Location = bd.Location
		}
		if l.Package == nil && e.last.packageID != nil {
			if rec, ok := e.cache.Get(records.ModelPackage, *e.last.packageID); ok {
				l.Package = rec.(*records.Package)
			}
		}
		return l
	}

	// A packaging scan of a serial-tracked product fans out into one line per
	// unit; each serial is assigned later, one by one.
	if bd.Packaging != nil && bd.Product.IsSerial() && e.policy.PerUnitSerialLines() {
		n := qty.Int64Scaled() / types.QuantityScale
		if n < 1 {
			n = 1
		}
		var last *Line
		for i := int64(0); i < n; i++ {
			l := newLine()
			l.Lot = nil
			l.LotName = ""
			e.policy.SetQtyDone(l, types.One)
			last = e.state.Add(l)
		}
		return last, nil
	}

	l := newLine()
	e.policy.SetQtyDone(l, qty)
	if l.hasLot() && bd.Lot == nil {
		e.applyPrefill(ctx, l, bd)
	}
	return e.state.Add(l), nil
}
