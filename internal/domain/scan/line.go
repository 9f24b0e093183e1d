package scan

import (
	"sort"

	"stockscan/internal/core/id"
	"stockscan/internal/core/types"
	"stockscan/internal/domain/records"
)

// Line is one unit of planned or actual movement: a product at a location with
// a done and a demanded quantity, optionally pinned to a lot/serial and package.
//
// VirtualID is the session-local stable handle; ID is assigned by the backend
// once the line is persisted and may be nil until then.
type Line struct {
	VirtualID id.ID  `json:"virtualId"`
	ID        *id.ID `json:"id,omitempty"`

	Product *records.Product `json:"product"`
	UoM     *records.UoM     `json:"uom,omitempty"`

	Location     *records.Location `json:"location,omitempty"`
	LocationDest *records.Location `json:"locationDest,omitempty"`

	Lot     *records.Lot `json:"lot,omitempty"`
	LotName string       `json:"lotName,omitempty"`

	Owner         *records.Owner   `json:"owner,omitempty"`
	Package       *records.Package `json:"package,omitempty"`
	ResultPackage *records.Package `json:"resultPackage,omitempty"`

	QtyDone   types.Quantity `json:"qtyDone"`
	QtyDemand types.Quantity `json:"qtyDemand"`

	// SortIndex strictly increases with each created line, keeping newest
	// lines on top until they complete.
	SortIndex int64 `json:"sortIndex"`
}

// lotLabel returns the display name of whichever lot information is present.
func (l *Line) lotLabel() string {
	if l.Lot != nil {
		return l.Lot.Name
	}
	return l.LotName
}

// hasLot reports whether the line is pinned to a lot/serial, resolved or new.
func (l *Line) hasLot() bool {
	return l.Lot != nil || l.LotName != ""
}

// sameLot reports whether the scanned lot information matches the line's.
func (l *Line) sameLot(lot *records.Lot, lotName string) bool {
	if lot != nil {
		if l.Lot != nil {
			return l.Lot.ID == lot.ID
		}
		return l.LotName == lot.Name
	}
	if lotName != "" {
		return l.lotLabel() == lotName
	}
	return true
}

// GroupedLine is a read-only aggregation of lines sharing a grouping key.
// It is recomputed from lines on each read and never mutated directly.
type GroupedLine struct {
	// Key is the grouping key the constituents share.
	Key string `json:"key"`

	// IDs and VirtualIDs identify the constituents.
	IDs        []id.ID `json:"ids"`
	VirtualIDs []id.ID `json:"virtualIds"`

	// Display is the constituent display fields delegate to: the one with
	// the lowest virtual id (UUIDv7, so the oldest).
	Display *Line `json:"display"`

	Lines []*Line `json:"lines"`

	QtyDone   types.Quantity `json:"qtyDone"`
	QtyDemand types.Quantity `json:"qtyDemand"`
}

// contains reports whether the grouped line has the given constituent.
func (g *GroupedLine) contains(virtualID id.ID) bool {
	for _, vid := range g.VirtualIDs {
		if vid == virtualID {
			return true
		}
	}
	return false
}

// GroupKeyFunc derives the grouping key of a line; lines with equal keys
// collapse into one GroupedLine.
type GroupKeyFunc func(*Line) string

// DefaultGroupKey groups by product and source location.
func DefaultGroupKey(l *Line) string {
	key := l.Product.ID.String()
	if l.Location != nil {
		key += "|" + l.Location.ID.String()
	}
	return key
}

// groupLines collapses lot/serial-tracked lines sharing a key. Groups of one
// are not collapsed. The merged set keeps unpersisted lines first, then stable
// by descending SortIndex (newest on top).
func groupLines(lines []*Line, keyFn GroupKeyFunc, policy LinePolicy) ([]*GroupedLine, []*Line) {
	if keyFn == nil {
		keyFn = DefaultGroupKey
	}

	byKey := make(map[string][]*Line)
	var order []string
	var ungrouped []*Line

	for _, l := range lines {
		if l.Product == nil || !l.Product.IsTracked() {
			ungrouped = append(ungrouped, l)
			continue
		}
		key := keyFn(l)
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], l)
	}

	var groups []*GroupedLine
	for _, key := range order {
		members := byKey[key]
		if len(members) < 2 {
			ungrouped = append(ungrouped, members...)
			continue
		}
		g := &GroupedLine{Key: key, Lines: members}
		display := members[0]
		for _, m := range members {
			g.VirtualIDs = append(g.VirtualIDs, m.VirtualID)
			if m.ID != nil {
				g.IDs = append(g.IDs, *m.ID)
			}
			g.QtyDone += policy.QtyDone(m)
			g.QtyDemand += policy.QtyDemand(m)
			if m.VirtualID.String() < display.VirtualID.String() {
				display = m
			}
		}
		g.Display = display
		groups = append(groups, g)
	}

	sortLines(ungrouped)
	return groups, ungrouped
}

// sortLines orders lines for display: unpersisted before persisted, then by
// descending SortIndex within each class.
func sortLines(lines []*Line) {
	sort.SliceStable(lines, func(i, j int) bool {
		iNew, jNew := lines[i].ID == nil, lines[j].ID == nil
		if iNew != jNew {
			return iNew
		}
		return lines[i].SortIndex > lines[j].SortIndex
	})
}
