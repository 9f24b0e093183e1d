// Package nomenclature provides the barcode rule sets used to decode structured
// scans. A nomenclature is an ordered list of rules mapping prefix patterns (or
// GS1 application identifiers) to typed segments: product, lot, package,
// location, quantity, weight.
package nomenclature

import (
	"context"

	"stockscan/internal/core/apperror"
	"stockscan/internal/core/id"
	"stockscan/internal/core/types"
)

// SegmentType classifies what a decoded barcode segment refers to.
type SegmentType string

const (
	SegmentProduct      SegmentType = "product"
	SegmentLot          SegmentType = "lot"
	SegmentPackage      SegmentType = "package"
	SegmentPackageType  SegmentType = "package_type"
	SegmentLocation     SegmentType = "location"
	SegmentLocationDest SegmentType = "location_dest"
	SegmentQuantity     SegmentType = "quantity"
	SegmentWeight       SegmentType = "weight"
)

// Encoding restricts which scans a rule may match.
type Encoding string

const (
	EncodingAny    Encoding = "any"
	EncodingEAN13  Encoding = "ean13"
	EncodingEAN8   Encoding = "ean8"
	EncodingUPCA   Encoding = "upca"
	EncodingGS1128 Encoding = "gs1-128"
)

// Rule maps a barcode pattern to a segment type.
//
// Pattern syntax (classic nomenclatures): literal digits, `.` for any
// character, and a single `{NN...DD}` block capturing a numeric value where
// each N is an integer digit and each D a decimal digit. Example:
// `21.....{NNDDD}` decodes weight barcodes with 2 integer and 3 decimal digits.
type Rule struct {
	Name     string      `json:"name"`
	Type     SegmentType `json:"type"`
	Pattern  string      `json:"pattern"`
	Encoding Encoding    `json:"encoding"`

	// UoMID associates quantity/weight rules with a unit of measure.
	UoMID *id.ID `json:"uomId,omitempty"`
}

// Segment is one typed piece decoded from a scan.
type Segment struct {
	Type  SegmentType
	Value string

	// Quantity carries the numeric value of quantity/weight segments.
	Quantity types.Quantity

	// BaseCode is the barcode with the captured value digits zeroed out.
	// Weight-embedded product barcodes resolve their product through it.
	BaseCode string

	Rule *Rule
}

// Nomenclature is a configured, ordered barcode rule set.
type Nomenclature struct {
	Name string `json:"name"`

	// IsGS1 switches decoding to GS1 application identifiers; Rules are
	// ignored except for UoM association on measure AIs.
	IsGS1 bool `json:"isGs1"`

	Rules []Rule `json:"rules"`

	// UPCAToEAN13 enables UPC-A scans to match EAN-13 registered barcodes
	// (and vice versa) by zero-padding.
	UPCAToEAN13 bool `json:"upcaToEan13"`
}

// Validate checks rule patterns eagerly, so malformed configuration fails at
// load time instead of on the first scan.
func (n *Nomenclature) Validate(ctx context.Context) error {
	for i := range n.Rules {
		// GS1 nomenclatures carry pattern-less rules purely for UoM
		// association on measure identifiers.
		if n.Rules[i].Pattern == "" {
			continue
		}
		if _, err := compilePattern(n.Rules[i].Pattern); err != nil {
			return apperror.NewValidation("invalid barcode rule pattern").
				WithDetail("rule", n.Rules[i].Name).
				WithDetail("pattern", n.Rules[i].Pattern).
				WithCause(err)
		}
	}
	return nil
}
