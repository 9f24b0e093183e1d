package scan

import (
	"stockscan/internal/core/id"
)

// OperationState owns the mutable collection of lines for one operation
// (receipt, delivery, count) plus the auxiliary indices the matcher needs:
// the selected line, the scan order, and the dirty set pending persistence.
//
// The state is not safe for concurrent use on its own; the engine serializes
// access through its scan mutex.
type OperationState struct {
	// initial is the snapshot taken at load, for diffing against the backend.
	initial []*Line

	lines []*Line
	index map[id.ID]*Line

	// linesToSave collects virtual ids of dirty lines until the next save.
	linesToSave map[id.ID]struct{}

	// scannedVirtualIDs orders touched lines, most recent last.
	scannedVirtualIDs []id.ID

	selected id.ID

	sortSeq int64

	groupKey GroupKeyFunc
}

// NewOperationState builds a state around the loaded lines. The given lines
// become both the immutable snapshot and the working copy.
func NewOperationState(lines []*Line, groupKey GroupKeyFunc) *OperationState {
	s := &OperationState{
		index:       make(map[id.ID]*Line, len(lines)),
		linesToSave: make(map[id.ID]struct{}),
		groupKey:    groupKey,
	}
	for _, l := range lines {
		if id.IsNil(l.VirtualID) {
			l.VirtualID = id.New()
		}
		s.sortSeq++
		l.SortIndex = s.sortSeq
		snapshot := *l
		s.initial = append(s.initial, &snapshot)
		s.lines = append(s.lines, l)
		s.index[l.VirtualID] = l
	}
	return s
}

// Lines returns the working lines in insertion order.
func (s *OperationState) Lines() []*Line { return s.lines }

// InitialLines returns the snapshot taken at load.
func (s *OperationState) InitialLines() []*Line { return s.initial }

// Get returns a line by virtual id.
func (s *OperationState) Get(virtualID id.ID) *Line {
	return s.index[virtualID]
}

// SelectedLine returns the currently selected line or nil.
func (s *OperationState) SelectedLine() *Line {
	if id.IsNil(s.selected) {
		return nil
	}
	return s.index[s.selected]
}

// Select marks a line as the single selected one.
func (s *OperationState) Select(virtualID id.ID) {
	if _, ok := s.index[virtualID]; ok {
		s.selected = virtualID
	}
}

// ClearSelection drops the selection.
func (s *OperationState) ClearSelection() {
	s.selected = id.Nil()
}

// Add appends a new line, assigning its virtual id and sort index.
func (s *OperationState) Add(l *Line) *Line {
	if id.IsNil(l.VirtualID) {
		l.VirtualID = id.New()
	}
	s.sortSeq++
	l.SortIndex = s.sortSeq
	s.lines = append(s.lines, l)
	s.index[l.VirtualID] = l
	s.MarkDirty(l.VirtualID)
	return l
}

// Delete removes a line from the working set.
func (s *OperationState) Delete(virtualID id.ID) {
	if _, ok := s.index[virtualID]; !ok {
		return
	}
	delete(s.index, virtualID)
	delete(s.linesToSave, virtualID)
	for i, l := range s.lines {
		if l.VirtualID == virtualID {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			break
		}
	}
	if s.selected == virtualID {
		s.ClearSelection()
	}
}

// MarkDirty queues a line for the next save and records the scan order.
func (s *OperationState) MarkDirty(virtualID id.ID) {
	if _, ok := s.index[virtualID]; !ok {
		return
	}
	s.linesToSave[virtualID] = struct{}{}

	// Keep the scan order list deduplicated, most recent last.
	for i, vid := range s.scannedVirtualIDs {
		if vid == virtualID {
			s.scannedVirtualIDs = append(s.scannedVirtualIDs[:i], s.scannedVirtualIDs[i+1:]...)
			break
		}
	}
	s.scannedVirtualIDs = append(s.scannedVirtualIDs, virtualID)
}

// DirtyLines returns the lines pending persistence.
func (s *OperationState) DirtyLines() []*Line {
	out := make([]*Line, 0, len(s.linesToSave))
	for _, l := range s.lines {
		if _, ok := s.linesToSave[l.VirtualID]; ok {
			out = append(out, l)
		}
	}
	return out
}

// ClearDirty resets the dirty set after a successful save and records the
// backend-assigned ids.
func (s *OperationState) ClearDirty(assigned map[id.ID]id.ID) {
	for vid, serverID := range assigned {
		if l, ok := s.index[vid]; ok && l.ID == nil {
			sid := serverID
			l.ID = &sid
		}
	}
	s.linesToSave = make(map[id.ID]struct{})
}

// LastScannedLine returns the most recently touched line, or nil.
func (s *OperationState) LastScannedLine() *Line {
	for i := len(s.scannedVirtualIDs) - 1; i >= 0; i-- {
		if l, ok := s.index[s.scannedVirtualIDs[i]]; ok {
			return l
		}
	}
	return nil
}

// ScannedVirtualIDs returns the touch order, most recent last.
func (s *OperationState) ScannedVirtualIDs() []id.ID {
	return append([]id.ID(nil), s.scannedVirtualIDs...)
}

// GroupedLines recomputes the derived grouped view: tracked lines sharing the
// group key collapse into GroupedLines, everything else stays flat.
func (s *OperationState) GroupedLines(policy LinePolicy) ([]*GroupedLine, []*Line) {
	return groupLines(s.lines, s.groupKey, policy)
}

// PageLines returns the flat display ordering of all lines.
func (s *OperationState) PageLines() []*Line {
	out := append([]*Line(nil), s.lines...)
	sortLines(out)
	return out
}
