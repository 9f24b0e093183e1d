package nomenclature

import (
	"fmt"
	"regexp"
	"strings"

	"stockscan/internal/core/types"
)

// fnc1 is the GS1 group separator terminating variable-length elements.
const fnc1 = "\x1d"

// gs1AI describes one application identifier.
type gs1AI struct {
	typ SegmentType

	// fixedLen is the data length for fixed-length AIs, 0 for variable.
	fixedLen int

	// maxLen bounds variable-length data.
	maxLen int

	// decimals derives implied decimal places from the AI's fourth digit.
	decimals bool

	numeric bool
}

// gs1Table covers the identifiers the warehouse flows use. Dates and the many
// trade AIs are skipped on purpose: unknown AIs abort the parse so the scan
// falls back to plain cache resolution.
var gs1Table = map[string]gs1AI{
	// SSCC, GTIN, GTIN of contained items.
	"00": {typ: SegmentPackage, fixedLen: 18, numeric: true},
	"01": {typ: SegmentProduct, fixedLen: 14, numeric: true},
	"02": {typ: SegmentProduct, fixedLen: 14, numeric: true},
	// Batch/lot and serial.
	"10": {typ: SegmentLot, maxLen: 20},
	"21": {typ: SegmentLot, maxLen: 20},
	// Counts.
	"30": {typ: SegmentQuantity, maxLen: 8, numeric: true},
	"37": {typ: SegmentQuantity, maxLen: 8, numeric: true},
	// Measures 310x-315x (net weight kg, length m, width m, depth m, area m2,
	// net volume l), all with the implied decimal in the fourth digit.
	"310": {typ: SegmentWeight, fixedLen: 6, decimals: true, numeric: true},
	"311": {typ: SegmentWeight, fixedLen: 6, decimals: true, numeric: true},
	"312": {typ: SegmentWeight, fixedLen: 6, decimals: true, numeric: true},
	"313": {typ: SegmentWeight, fixedLen: 6, decimals: true, numeric: true},
	"314": {typ: SegmentWeight, fixedLen: 6, decimals: true, numeric: true},
	"315": {typ: SegmentWeight, fixedLen: 6, decimals: true, numeric: true},
	// GLN of a physical location.
	"414": {typ: SegmentLocation, fixedLen: 13, numeric: true},
}

var gs1ParenRe = regexp.MustCompile(`\((\d{2,4})\)`)

// parseGS1 decodes a GS1-128 element string, either in raw form with FNC1
// separators or in the human-readable "(01)...(10)..." form.
func (n *Nomenclature) parseGS1(barcode string) ([]Segment, error) {
	if strings.Contains(barcode, "(") {
		return n.parseGS1Paren(barcode)
	}
	return n.parseGS1Raw(barcode)
}

func (n *Nomenclature) parseGS1Paren(barcode string) ([]Segment, error) {
	locs := gs1ParenRe.FindAllStringSubmatchIndex(barcode, -1)
	if len(locs) == 0 || locs[0][0] != 0 {
		return nil, fmt.Errorf("gs1: no application identifier at start of %q", barcode)
	}
	var segments []Segment
	for i, loc := range locs {
		aiCode := barcode[loc[2]:loc[3]]
		end := len(barcode)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		data := barcode[loc[1]:end]
		seg, err := n.gs1Segment(aiCode, data)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

func (n *Nomenclature) parseGS1Raw(barcode string) ([]Segment, error) {
	rest := strings.TrimPrefix(barcode, fnc1)
	var segments []Segment
	for rest != "" {
		aiCode, spec, ok := lookupAI(rest)
		if !ok {
			return nil, fmt.Errorf("gs1: unknown application identifier in %q", rest)
		}
		rest = rest[len(aiCode):]

		var data string
		if spec.fixedLen > 0 {
			if len(rest) < spec.fixedLen {
				return nil, fmt.Errorf("gs1: truncated data for AI %s", aiCode)
			}
			data, rest = rest[:spec.fixedLen], rest[spec.fixedLen:]
		} else {
			if idx := strings.Index(rest, fnc1); idx >= 0 {
				data, rest = rest[:idx], rest[idx+1:]
			} else {
				data, rest = rest, ""
			}
		}
		rest = strings.TrimPrefix(rest, fnc1)

		seg, err := n.gs1Segment(aiCode, data)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

// lookupAI finds the longest AI prefix (4-digit decimal AIs before 2-digit).
func lookupAI(s string) (string, gs1AI, bool) {
	if len(s) >= 4 {
		if spec, ok := gs1Table[s[:3]]; ok && spec.decimals {
			// Fourth digit is the implied decimal count, part of the AI.
			return s[:4], spec, true
		}
	}
	if len(s) >= 2 {
		if spec, ok := gs1Table[s[:2]]; ok {
			return s[:2], spec, true
		}
	}
	return "", gs1AI{}, false
}

func (n *Nomenclature) gs1Segment(aiCode, data string) (Segment, error) {
	key := aiCode
	if len(aiCode) == 4 {
		key = aiCode[:3]
	}
	spec, ok := gs1Table[key]
	if !ok {
		return Segment{}, fmt.Errorf("gs1: unsupported application identifier %s", aiCode)
	}
	if data == "" {
		return Segment{}, fmt.Errorf("gs1: empty data for AI %s", aiCode)
	}
	if spec.numeric && !isDigits(data) {
		return Segment{}, fmt.Errorf("gs1: non-numeric data %q for AI %s", data, aiCode)
	}

	seg := Segment{Type: spec.typ, Value: data, Rule: n.ruleForGS1(spec.typ)}

	switch spec.typ {
	case SegmentQuantity:
		q, err := types.ParseQuantity(data)
		if err != nil {
			return Segment{}, fmt.Errorf("gs1: AI %s: %w", aiCode, err)
		}
		seg.Quantity = q
	case SegmentWeight:
		decimals := 0
		if spec.decimals && len(aiCode) == 4 {
			decimals = int(aiCode[3] - '0')
		}
		if decimals > len(data) {
			return Segment{}, fmt.Errorf("gs1: AI %s implies more decimals than digits", aiCode)
		}
		value := data
		if decimals > 0 {
			cut := len(data) - decimals
			value = data[:cut] + "." + data[cut:]
		}
		q, err := types.ParseQuantity(value)
		if err != nil {
			return Segment{}, fmt.Errorf("gs1: AI %s: %w", aiCode, err)
		}
		seg.Quantity = q
	}
	return seg, nil
}

// ruleForGS1 links decoded measure segments to a configured rule so the
// resolver can pick up the associated unit of measure.
func (n *Nomenclature) ruleForGS1(typ SegmentType) *Rule {
	for i := range n.Rules {
		if n.Rules[i].Type == typ {
			return &n.Rules[i]
		}
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
