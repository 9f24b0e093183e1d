// Package scan implements the barcode-scan resolution engine: splitting raw
// scanner payloads, resolving each barcode into typed records through the
// nomenclature and the record cache, and applying the result to the operation
// lines (merge, split on overflow, or create).
package scan

import (
	"context"
	"time"

	"stockscan/internal/core/types"
	"stockscan/internal/domain/records"
)

// Action is a zero-argument command bound to a barcode keyword.
type Action func(ctx context.Context) error

// Weight is a measured weight with the unit it was scanned in.
type Weight struct {
	Value types.Quantity
	UoM   *records.UoM
}

// BarcodeData is the transient result of resolving one scanned barcode.
// It is created per scan, applied to the operation state, then kept only in
// the capped attempt history for diagnostics.
type BarcodeData struct {
	Barcode string

	// Match reports whether anything at all was recognized.
	Match bool

	// Stopped short-circuits the pipeline: the scan is fully handled
	// (a location was set, an action ran).
	Stopped bool

	Product   *records.Product
	Packaging *records.Packaging

	Lot *records.Lot
	// LotName is an unresolved lot/serial: a new number to create.
	LotName string

	Package *records.Package
	// PackageName is an unresolved package: a new one to create on assign.
	PackageName string
	PackageType *records.PackageType

	Location     *records.Location
	LocationDest *records.Location

	Quantity types.Quantity
	// QuantitySet distinguishes an explicit quantity segment (possibly zero)
	// from no quantity at all.
	QuantitySet bool
	UoM         *records.UoM

	Weight *Weight

	Action     Action
	ActionName string

	// Error carries a non-fatal resolution warning (ambiguity).
	Error string

	// FromURN marks scans extracted from a composite RFID/URN payload.
	FromURN bool
}

// merge folds a per-segment resolution into the aggregate of a composite scan.
// Earlier segments win; a later duplicate of an already-set field is dropped.
func (bd *BarcodeData) merge(other *BarcodeData) {
	if other == nil {
		return
	}
	bd.Match = bd.Match || other.Match
	if bd.Product == nil {
		bd.Product = other.Product
	}
	if bd.Packaging == nil {
		bd.Packaging = other.Packaging
	}
	if bd.Lot == nil && bd.LotName == "" {
		bd.Lot = other.Lot
		bd.LotName = other.LotName
	}
	if bd.Package == nil && bd.PackageName == "" {
		bd.Package = other.Package
		bd.PackageName = other.PackageName
	}
	if bd.PackageType == nil {
		bd.PackageType = other.PackageType
	}
	if bd.Location == nil {
		bd.Location = other.Location
	}
	if bd.LocationDest == nil {
		bd.LocationDest = other.LocationDest
	}
	if !bd.QuantitySet && other.QuantitySet {
		bd.Quantity = other.Quantity
		bd.QuantitySet = true
		if bd.UoM == nil {
			bd.UoM = other.UoM
		}
	}
	if bd.Weight == nil {
		bd.Weight = other.Weight
	}
	if bd.Error == "" {
		bd.Error = other.Error
	}
}

// Attempt is one entry of the bounded scan history.
type Attempt struct {
	Barcode string    `json:"barcode"`
	Match   bool      `json:"match"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}
