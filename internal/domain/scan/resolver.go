package scan

import (
	"context"
	"fmt"
	"strings"

	"stockscan/internal/core/id"
	"stockscan/internal/core/types"
	"stockscan/internal/domain/nomenclature"
	"stockscan/internal/domain/records"
	"stockscan/pkg/logger"
)

// RecordSource is the record cache the resolver matches barcodes against.
// Lookups are served from memory; unresolved barcodes are queued and fetched
// in bulk through FetchMissing.
type RecordSource interface {
	// ByBarcode returns every cached record carrying the barcode, restricted
	// to one model when given, honoring the per-model filters.
	ByBarcode(barcode string, model records.Model, filters records.Filters) []records.Record

	// Get returns a cached record by model and id.
	Get(model records.Model, rid id.ID) (records.Record, bool)

	// QueueMiss marks a barcode (or id) as needing a backend fetch.
	QueueMiss(barcode string)

	// FetchMissing resolves all queued misses into the cache. It returns once
	// every queued record has been fetched and merged.
	FetchMissing(ctx context.Context) error
}

// Resolver turns a single normalized barcode into a BarcodeData record.
type Resolver struct {
	nom   *nomenclature.Nomenclature
	cache RecordSource

	actions map[string]Action

	// useExistingLots resolves lot segments against known lots before
	// treating the value as a new lot name.
	useExistingLots bool

	// uomEnabled resolves the unit of measure associated with quantity rules.
	uomEnabled bool
}

// NewResolver builds a resolver over a nomenclature and a record source.
func NewResolver(nom *nomenclature.Nomenclature, cache RecordSource, useExistingLots, uomEnabled bool) *Resolver {
	return &Resolver{
		nom:             nom,
		cache:           cache,
		actions:         make(map[string]Action),
		useExistingLots: useExistingLots,
		uomEnabled:      uomEnabled,
	}
}

// RegisterAction binds a zero-argument command to an exact barcode keyword.
func (r *Resolver) RegisterAction(keyword string, fn Action) {
	r.actions[keyword] = fn
}

// ParseBarcode resolves one barcode, in priority order: command keyword,
// structured nomenclature parse, then direct cache lookup. A parser failure is
// logged and degrades to the cache fallback; it never aborts the scan.
func (r *Resolver) ParseBarcode(ctx context.Context, barcode string, filters records.Filters) *BarcodeData {
	result := &BarcodeData{Barcode: barcode}

	if fn, ok := r.actions[barcode]; ok {
		result.Action = fn
		result.ActionName = barcode
		result.Match = true
		return result
	}

	effective := barcode

	var segments []nomenclature.Segment
	if r.nom != nil {
		var err error
		segments, err = r.nom.Parse(barcode)
		if err != nil {
			logger.Debug(ctx, "barcode parse failed, falling back to cache lookup",
				"barcode", barcode, "error", err)
			segments = nil
		}
	}

	switch {
	case len(segments) > 1:
		r.resolveComposite(ctx, segments, result, filters)
		if result.Match {
			return result
		}

	case len(segments) == 1:
		seg := segments[0]
		switch seg.Type {
		case nomenclature.SegmentWeight:
			// Weight-embedded barcodes carry the product identity in the
			// zeroed base code; keep resolving with it.
			result.Weight = &Weight{Value: seg.Quantity, UoM: r.segmentUoM(seg)}
			result.Match = true
			if seg.BaseCode != "" {
				effective = seg.BaseCode
			}

		case nomenclature.SegmentProduct:
			if seg.Value != barcode {
				// Alias or UPC-A/EAN-13 conversion: the normalized code
				// drives all subsequent lookups, including commands.
				effective = seg.Value
				if fn, ok := r.actions[effective]; ok {
					result.Action = fn
					result.ActionName = effective
					result.Match = true
					return result
				}
			}
			r.resolveSegment(ctx, seg, result, filters)
			if result.Match {
				return result
			}

		default:
			r.resolveSegment(ctx, seg, result, filters)
			if result.Match {
				return result
			}
		}
	}

	r.resolveFromCache(ctx, effective, result, filters)
	return result
}

// resolveComposite merges the per-segment resolutions of a GS1 composite scan.
func (r *Resolver) resolveComposite(ctx context.Context, segments []nomenclature.Segment, result *BarcodeData, filters records.Filters) {
	for _, seg := range segments {
		// A lot segment is meaningless once the product resolved untracked.
		if seg.Type == nomenclature.SegmentLot &&
			result.Product != nil && !result.Product.IsTracked() {
			continue
		}
		// Lot resolution filters by the already-resolved product.
		preset := result.Product
		part := &BarcodeData{Barcode: result.Barcode, Product: preset}
		r.resolveSegment(ctx, seg, part, filters)
		if part.Product == preset {
			part.Product = nil
		}
		r.resolveSegmentInto(seg, part, result)
	}
}

// resolveSegmentInto folds one segment's partial result into the aggregate.
func (r *Resolver) resolveSegmentInto(seg nomenclature.Segment, part, result *BarcodeData) {
	// merge keeps the first resolution of each field.
	if seg.Type == nomenclature.SegmentProduct && part.Product != nil {
		result.Product = part.Product
		result.Packaging = part.Packaging
		result.Match = true
		return
	}
	result.merge(part)
}

// resolveSegment applies the per-type resolution table.
func (r *Resolver) resolveSegment(ctx context.Context, seg nomenclature.Segment, result *BarcodeData, filters records.Filters) {
	switch seg.Type {
	case nomenclature.SegmentLocation, nomenclature.SegmentLocationDest:
		if rec, ok := r.lookup(ctx, seg.Value, records.ModelLocation, filters); ok {
			loc := rec.(*records.Location)
			if seg.Type == nomenclature.SegmentLocation {
				result.Location = loc
			} else {
				result.LocationDest = loc
			}
			result.Match = true
		}

	case nomenclature.SegmentLot:
		if r.useExistingLots {
			lotFilters := filters
			if result.Product != nil {
				lotFilters = filters.Clone()
				if lotFilters == nil {
					lotFilters = records.Filters{}
				}
				if lotFilters[records.ModelLot] == nil {
					lotFilters[records.ModelLot] = map[string]string{}
				}
				lotFilters[records.ModelLot]["product_id"] = result.Product.ID.String()
			}
			if rec, ok := r.lookup(ctx, seg.Value, records.ModelLot, lotFilters); ok {
				result.Lot = rec.(*records.Lot)
				result.Match = true
				return
			}
		}
		// Unknown value: a new lot to create on save.
		result.LotName = seg.Value
		result.Match = true

	case nomenclature.SegmentPackage:
		if rec, ok := r.lookup(ctx, seg.Value, records.ModelPackage, filters); ok {
			result.Package = rec.(*records.Package)
		} else {
			result.PackageName = seg.Value
		}
		result.Match = true

	case nomenclature.SegmentPackageType:
		if rec, ok := r.lookup(ctx, seg.Value, records.ModelPackageType, filters); ok {
			result.PackageType = rec.(*records.PackageType)
			result.Match = true
		} else {
			result.Error = fmt.Sprintf("Package type %q is unknown", seg.Value)
		}

	case nomenclature.SegmentProduct:
		r.resolveProduct(ctx, seg.Value, result, filters)

	case nomenclature.SegmentQuantity:
		result.Quantity = seg.Quantity
		result.QuantitySet = true
		result.UoM = r.segmentUoM(seg)
		result.Match = true

	case nomenclature.SegmentWeight:
		result.Weight = &Weight{Value: seg.Quantity, UoM: r.segmentUoM(seg)}
		result.Match = true
	}
}

// resolveProduct matches a product barcode, falling back to packaging (which
// derives the owning product later in the pipeline).
func (r *Resolver) resolveProduct(ctx context.Context, value string, result *BarcodeData, filters records.Filters) {
	for _, candidate := range gtinVariants(value) {
		if rec, ok := r.lookup(ctx, candidate, records.ModelProduct, filters); ok {
			result.Product = rec.(*records.Product)
			result.Match = true
			return
		}
	}
	for _, candidate := range gtinVariants(value) {
		if rec, ok := r.lookup(ctx, candidate, records.ModelPackaging, filters); ok {
			result.Packaging = rec.(*records.Packaging)
			result.Match = true
			return
		}
	}
}

// gtinVariants yields the lookup forms of a numeric code: as scanned and with
// leading zeros trimmed (GTIN-14 padding of EAN-13/UPC-A codes).
func gtinVariants(value string) []string {
	variants := []string{value}
	trimmed := strings.TrimLeft(value, "0")
	if trimmed != value && trimmed != "" && isAllDigits(value) {
		variants = append(variants, trimmed)
	}
	return variants
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

// segmentUoM resolves the unit associated with a quantity/weight rule.
func (r *Resolver) segmentUoM(seg nomenclature.Segment) *records.UoM {
	if !r.uomEnabled || seg.Rule == nil || seg.Rule.UoMID == nil {
		return nil
	}
	if rec, ok := r.cache.Get(records.ModelUoM, *seg.Rule.UoMID); ok {
		return rec.(*records.UoM)
	}
	return nil
}

// lookup serves a single-model barcode lookup, triggering a backend fetch of
// queued misses when nothing is cached yet.
func (r *Resolver) lookup(ctx context.Context, barcode string, model records.Model, filters records.Filters) (records.Record, bool) {
	if recs := r.cache.ByBarcode(barcode, model, filters); len(recs) > 0 {
		return recs[0], true
	}
	r.cache.QueueMiss(barcode)
	if err := r.cache.FetchMissing(ctx); err != nil {
		logger.Warn(ctx, "record fetch failed", "barcode", barcode, "error", err)
		return nil, false
	}
	if recs := r.cache.ByBarcode(barcode, model, filters); len(recs) > 0 {
		return recs[0], true
	}
	return nil, false
}

// resolveFromCache is the final fallback: match the effective barcode against
// every configured model. Several models claiming one barcode is a warning,
// not an error; the richest interpretation wins.
func (r *Resolver) resolveFromCache(ctx context.Context, barcode string, result *BarcodeData, filters records.Filters) {
	recs := r.cache.ByBarcode(barcode, "", filters)
	if len(recs) == 0 {
		r.cache.QueueMiss(barcode)
		if err := r.cache.FetchMissing(ctx); err != nil {
			logger.Warn(ctx, "record fetch failed", "barcode", barcode, "error", err)
		}
		recs = r.cache.ByBarcode(barcode, "", filters)
	}
	if len(recs) == 0 {
		return
	}

	var modelsSeen []string
	for _, rec := range recs {
		applied := r.applyRecord(rec, result)
		if applied {
			modelsSeen = append(modelsSeen, string(rec.RecordModel()))
		}
	}
	if len(modelsSeen) > 1 {
		result.Error = fmt.Sprintf(
			"Barcode %q matches several records (%s); using the first interpretation",
			barcode, strings.Join(modelsSeen, ", "))
	}
}

// applyRecord folds one cached record into the result, first-wins per field.
func (r *Resolver) applyRecord(rec records.Record, result *BarcodeData) bool {
	switch rec := rec.(type) {
	case *records.Location:
		if result.Location != nil {
			return false
		}
		result.Location = rec
	case *records.Package:
		if result.Package != nil {
			return false
		}
		result.Package = rec
	case *records.PackageType:
		if result.PackageType != nil {
			return false
		}
		result.PackageType = rec
	case *records.Product:
		if result.Product != nil {
			return false
		}
		result.Product = rec
	case *records.Packaging:
		if result.Packaging != nil {
			return false
		}
		result.Packaging = rec
	case *records.Lot:
		if result.Lot != nil {
			return false
		}
		result.Lot = rec
	default:
		return false
	}
	result.Match = true
	return true
}

// ExpandPackaging derives product, quantity and unit from a matched packaging.
// The packaging quantity multiplies the scanned count (default 1); when the
// scanned unit is incompatible with the product's unit category, the packaging
// quantity is used verbatim and the scanned quantity is discarded.
func (r *Resolver) ExpandPackaging(ctx context.Context, bd *BarcodeData) error {
	if bd.Packaging == nil {
		return nil
	}
	rec, ok := r.cache.Get(records.ModelProduct, bd.Packaging.ProductID)
	if !ok {
		r.cache.QueueMiss(bd.Packaging.ProductID.String())
		if err := r.cache.FetchMissing(ctx); err != nil {
			return err
		}
		rec, ok = r.cache.Get(records.ModelProduct, bd.Packaging.ProductID)
		if !ok {
			return fmt.Errorf("packaging %s references unknown product %s",
				bd.Packaging.ID, bd.Packaging.ProductID)
		}
	}
	product := rec.(*records.Product)
	productUoM := r.productUoM(product)

	count := types.One
	if bd.QuantitySet {
		count = bd.Quantity
	}

	qty := bd.Packaging.Qty.Mul(count)
	if bd.UoM != nil && productUoM != nil && !bd.UoM.Compatible(productUoM) {
		// Incompatible scanned unit: trust the packaging declaration alone.
		qty = bd.Packaging.Qty
	}

	bd.Product = product
	bd.Quantity = qty
	bd.QuantitySet = true
	bd.UoM = productUoM
	return nil
}

// productUoM returns the product's own unit when cached.
func (r *Resolver) productUoM(p *records.Product) *records.UoM {
	if p == nil || id.IsNil(p.UoMID) {
		return nil
	}
	if rec, ok := r.cache.Get(records.ModelUoM, p.UoMID); ok {
		return rec.(*records.UoM)
	}
	return nil
}
