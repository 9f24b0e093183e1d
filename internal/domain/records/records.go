// Package records holds read-only projections of the warehouse reference data
// the scan engine resolves barcodes against: products, lots, packages, locations,
// units of measure. Records are fetched from the backend store and cached; the
// engine never mutates them.
package records

import (
	"strings"

	"github.com/shopspring/decimal"

	"stockscan/internal/core/id"
	"stockscan/internal/core/types"
)

// Model identifies the kind of record a barcode may resolve to.
type Model string

const (
	ModelProduct     Model = "product"
	ModelPackaging   Model = "product.packaging"
	ModelLot         Model = "lot"
	ModelPackage     Model = "package"
	ModelPackageType Model = "package.type"
	ModelLocation    Model = "location"
	ModelUoM         Model = "uom"
	ModelOwner       Model = "owner"
)

// AllBarcodeModels lists the models consulted by the direct-cache fallback,
// in resolution priority order.
var AllBarcodeModels = []Model{
	ModelLocation,
	ModelPackage,
	ModelPackageType,
	ModelProduct,
	ModelPackaging,
	ModelLot,
}

// Record is implemented by every cached reference record.
type Record interface {
	RecordID() id.ID
	RecordModel() Model
	RecordBarcode() string
}

// Base carries the fields shared by all reference records.
type Base struct {
	ID      id.ID  `db:"id" json:"id"`
	Name    string `db:"name" json:"name"`
	Barcode string `db:"barcode" json:"barcode,omitempty"`
}

func (b Base) RecordID() id.ID       { return b.ID }
func (b Base) RecordBarcode() string { return b.Barcode }

// Tracking defines how a product's units are identified.
type Tracking string

const (
	TrackingNone   Tracking = "none"
	TrackingLot    Tracking = "lot"
	TrackingSerial Tracking = "serial"
)

// Product is an item that can be received, moved, delivered or counted.
type Product struct {
	Base

	Tracking  Tracking `db:"tracking" json:"tracking"`
	UoMID     id.ID    `db:"uom_id" json:"uomId"`
	CompanyID *id.ID   `db:"company_id" json:"companyId,omitempty"`
}

func (p *Product) RecordModel() Model { return ModelProduct }

// IsTracked reports whether units must carry a lot or serial number.
func (p *Product) IsTracked() bool { return p.Tracking != TrackingNone }

// IsSerial reports whether each unit carries its own serial number.
func (p *Product) IsSerial() bool { return p.Tracking == TrackingSerial }

// UoM is a unit of measure. Factor is the number of reference units of the
// category in one unit of this UoM (kg has factor 1 in the weight category,
// g has factor 0.001).
type UoM struct {
	Base

	Category string          `db:"category" json:"category"`
	Factor   decimal.Decimal `db:"factor" json:"factor"`
	Rounding decimal.Decimal `db:"rounding" json:"rounding"`
}

func (u *UoM) RecordModel() Model { return ModelUoM }

// Compatible reports whether quantities can be converted between the two units.
func (u *UoM) Compatible(other *UoM) bool {
	return other != nil && u.Category == other.Category
}

// Convert converts a quantity expressed in u into other.
// Returns false when the categories differ.
func (u *UoM) Convert(q types.Quantity, other *UoM) (types.Quantity, bool) {
	if !u.Compatible(other) {
		return q, false
	}
	if u.Factor.Equal(other.Factor) {
		return q, true
	}
	return q.MulDecimal(u.Factor).DivDecimal(other.Factor), true
}

// Packaging is a sellable multiple of a product (a box of 6, a pallet of 80).
type Packaging struct {
	Base

	ProductID id.ID          `db:"product_id" json:"productId"`
	Qty       types.Quantity `db:"qty" json:"qty"`
}

func (p *Packaging) RecordModel() Model { return ModelPackaging }

// Lot is a lot or serial number record. Name is the number as printed.
type Lot struct {
	Base

	ProductID id.ID `db:"product_id" json:"productId"`
}

func (l *Lot) RecordModel() Model { return ModelLot }

// Package is a physical transport unit (pallet, crate) identified by barcode.
type Package struct {
	Base

	PackageTypeID *id.ID `db:"package_type_id" json:"packageTypeId,omitempty"`
	LocationID    *id.ID `db:"location_id" json:"locationId,omitempty"`
}

func (p *Package) RecordModel() Model { return ModelPackage }

// PackageType classifies packages (europallet, half-pallet, box).
type PackageType struct {
	Base
}

func (p *PackageType) RecordModel() Model { return ModelPackageType }

// Location is a storage place. ParentPath is the slash-separated chain of
// ancestor ids including the location itself, used for containment checks.
type Location struct {
	Base

	ParentPath string `db:"parent_path" json:"parentPath"`
}

func (l *Location) RecordModel() Model { return ModelLocation }

// Contains reports whether other is l itself or stored under it.
func (l *Location) Contains(other *Location) bool {
	if other == nil {
		return false
	}
	if l.ID == other.ID {
		return true
	}
	return strings.HasPrefix(other.ParentPath, l.ParentPath+"/")
}

// Owner is a stock owner (consignment partner).
type Owner struct {
	Base
}

func (o *Owner) RecordModel() Model { return ModelOwner }

// Filters constrains barcode lookups with per-model field equality,
// e.g. restrict lot matches to the currently selected product.
type Filters map[Model]map[string]string

// Clone returns a deep copy; mutating the copy leaves the original intact.
func (f Filters) Clone() Filters {
	if f == nil {
		return nil
	}
	out := make(Filters, len(f))
	for m, fields := range f {
		cp := make(map[string]string, len(fields))
		for k, v := range fields {
			cp[k] = v
		}
		out[m] = cp
	}
	return out
}

// Without returns a copy of the filters with one model's constraints removed.
func (f Filters) Without(model Model) Filters {
	out := f.Clone()
	delete(out, model)
	return out
}

// Match reports whether a record satisfies the filter fields for its model.
// Unknown fields never match, keeping constraint typos from widening lookups.
func (f Filters) Match(rec Record) bool {
	if f == nil {
		return true
	}
	fields, ok := f[rec.RecordModel()]
	if !ok {
		return true
	}
	for field, want := range fields {
		got := fieldValue(rec, field)
		// A record without a company is shared across all of them.
		if field == "company_id" && got == "" {
			continue
		}
		if got != want {
			return false
		}
	}
	return true
}

func fieldValue(rec Record, field string) string {
	switch r := rec.(type) {
	case *Lot:
		if field == "product_id" {
			return r.ProductID.String()
		}
	case *Packaging:
		if field == "product_id" {
			return r.ProductID.String()
		}
	case *Product:
		if field == "company_id" {
			if r.CompanyID == nil {
				return ""
			}
			return r.CompanyID.String()
		}
	}
	return ""
}
