package scan

import (
	"stockscan/internal/core/types"
	"stockscan/internal/domain/records"
)

// LinePolicy captures the per-operation-type behavior the engine delegates:
// how quantities are read and written, when lines split on overflow, and which
// locations a line may be taken from. Receipts, deliveries and counts supply
// their own implementation instead of subclassing the engine.
type LinePolicy interface {
	// QtyDone returns the quantity actually scanned so far.
	QtyDone(*Line) types.Quantity
	// QtyDemand returns the planned quantity; zero means unbounded.
	QtyDemand(*Line) types.Quantity
	// SetQtyDone writes the done quantity back to the line.
	SetQtyDone(*Line, types.Quantity)

	// IncrementsOnScan reports whether scanning a tracked product without a
	// lot still increments the line by one.
	IncrementsOnScan() bool

	// ShouldSplitOnExceed reports whether an increment overflowing the
	// remaining demand splits the excess into a new line.
	ShouldSplitOnExceed(*Line) bool

	// PerUnitSerialLines reports whether a packaging scan of a serial-tracked
	// product fans out into one single-quantity line per unit.
	PerUnitSerialLines() bool

	// TakeFromLocation reports whether the line may be worked on from the
	// given source location.
	TakeFromLocation(line *Line, loc *records.Location) bool

	// RequiresLocationConfirm reports whether working outside the scanned
	// location needs operator confirmation before a candidate outside it is
	// accepted.
	RequiresLocationConfirm() bool

	// StopAfterLocationScan reports whether a location scan ends the pipeline
	// for that barcode (the common case) or resolution continues.
	StopAfterLocationScan() bool
}

// BasePolicy provides the shared quantity plumbing; operation policies embed
// it and override the decision methods.
type BasePolicy struct{}

func (BasePolicy) QtyDone(l *Line) types.Quantity   { return l.QtyDone }
func (BasePolicy) QtyDemand(l *Line) types.Quantity { return l.QtyDemand }
func (BasePolicy) SetQtyDone(l *Line, q types.Quantity) {
	if q.IsNegative() {
		q = 0
	}
	l.QtyDone = q
}
func (BasePolicy) IncrementsOnScan() bool         { return false }
func (BasePolicy) ShouldSplitOnExceed(*Line) bool { return true }
func (BasePolicy) PerUnitSerialLines() bool       { return true }
func (BasePolicy) RequiresLocationConfirm() bool  { return false }
func (BasePolicy) StopAfterLocationScan() bool    { return true }

func (BasePolicy) TakeFromLocation(line *Line, loc *records.Location) bool {
	if loc == nil || line.Location == nil {
		return true
	}
	return loc.Contains(line.Location)
}

// ReceiptPolicy models incoming goods: demand is informative, overflow stays
// on the same line, and any source location is acceptable.
type ReceiptPolicy struct{ BasePolicy }

func (ReceiptPolicy) ShouldSplitOnExceed(*Line) bool { return false }

func (ReceiptPolicy) TakeFromLocation(*Line, *records.Location) bool { return true }

// DeliveryPolicy models outgoing goods: demand bounds each line, overflow
// splits into a new line, and lines must be taken from the scanned location.
type DeliveryPolicy struct{ BasePolicy }

func (DeliveryPolicy) RequiresLocationConfirm() bool { return true }

// CountPolicy models inventory counting: every scan increments, even tracked
// products without a lot, and there is no demand bound.
type CountPolicy struct{ BasePolicy }

func (CountPolicy) IncrementsOnScan() bool         { return true }
func (CountPolicy) ShouldSplitOnExceed(*Line) bool { return false }
func (CountPolicy) QtyDemand(*Line) types.Quantity { return 0 }

// PolicyFor maps an operation type name to its policy.
func PolicyFor(opType string) LinePolicy {
	switch opType {
	case "receipt":
		return ReceiptPolicy{}
	case "delivery":
		return DeliveryPolicy{}
	case "count":
		return CountPolicy{}
	default:
		return DeliveryPolicy{}
	}
}
