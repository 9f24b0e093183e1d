package nomenclature

import (
	"fmt"
	"regexp"
	"strings"

	"stockscan/internal/core/types"
)

// Parse decodes a scan against the nomenclature. It returns zero or more typed
// segments, or an error when the scan is structurally malformed (callers treat
// that as "no structured parse", not as a fatal condition).
func (n *Nomenclature) Parse(barcode string) ([]Segment, error) {
	if barcode == "" {
		return nil, fmt.Errorf("empty barcode")
	}
	if n.IsGS1 {
		return n.parseGS1(barcode)
	}
	return n.parseClassic(barcode)
}

// parseClassic matches the scan against rules in declaration order; the first
// matching rule wins and yields exactly one segment.
func (n *Nomenclature) parseClassic(barcode string) ([]Segment, error) {
	for i := range n.Rules {
		rule := &n.Rules[i]
		if rule.Pattern == "" {
			continue
		}
		if !encodingAccepts(rule.Encoding, barcode) {
			continue
		}
		pat, err := compilePattern(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.Name, err)
		}
		seg, ok := pat.match(barcode, rule)
		if !ok {
			continue
		}
		if rule.Type == SegmentProduct {
			seg.Value = n.normalizeProductCode(rule, seg.Value)
		}
		return []Segment{seg}, nil
	}
	return nil, nil
}

// normalizeProductCode converts between UPC-A and EAN-13 representations when
// the nomenclature allows it, so aliases registered in either form match.
func (n *Nomenclature) normalizeProductCode(rule *Rule, code string) string {
	if !n.UPCAToEAN13 {
		return code
	}
	switch rule.Encoding {
	case EncodingEAN13:
		if converted, ok := UPCAToEAN13(code); ok {
			return converted
		}
	case EncodingUPCA:
		if converted, ok := EAN13ToUPCA(code); ok {
			return converted
		}
	}
	return code
}

// encodingAccepts pre-filters scans by the rule's declared symbology.
func encodingAccepts(enc Encoding, barcode string) bool {
	switch enc {
	case "", EncodingAny, EncodingGS1128:
		return true
	case EncodingEAN13:
		return IsValidEAN13(barcode) || isDigitsOfLen(barcode, 12)
	case EncodingEAN8:
		return isDigitsOfLen(barcode, 8)
	case EncodingUPCA:
		return isDigitsOfLen(barcode, 12) || IsValidEAN13(barcode)
	default:
		return true
	}
}

// compiledPattern is a classic rule pattern translated to a regexp with an
// optional numeric capture.
type compiledPattern struct {
	re         *regexp.Regexp
	intDigits  int
	decDigits  int
	hasCapture bool
}

var patternCaptureRe = regexp.MustCompile(`\{(N*)(D*)\}`)

func compilePattern(pattern string) (*compiledPattern, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	capture := patternCaptureRe.FindStringSubmatchIndex(pattern)
	if capture == nil {
		re, err := regexp.Compile("^" + escapeLiteral(pattern))
		if err != nil {
			return nil, err
		}
		return &compiledPattern{re: re}, nil
	}
	if len(patternCaptureRe.FindAllString(pattern, -1)) > 1 {
		return nil, fmt.Errorf("pattern %q has more than one capture block", pattern)
	}

	prefix := pattern[:capture[0]]
	suffix := pattern[capture[1]:]
	intDigits := capture[3] - capture[2]
	decDigits := capture[5] - capture[4]
	total := intDigits + decDigits
	if total == 0 {
		return nil, fmt.Errorf("pattern %q captures zero digits", pattern)
	}

	re, err := regexp.Compile(
		"^" + escapeLiteral(prefix) + fmt.Sprintf(`(\d{%d})`, total) + escapeLiteral(suffix),
	)
	if err != nil {
		return nil, err
	}
	return &compiledPattern{
		re:         re,
		intDigits:  intDigits,
		decDigits:  decDigits,
		hasCapture: true,
	}, nil
}

// escapeLiteral quotes regexp metacharacters but keeps `.` as "any character",
// matching the pattern dialect of barcode nomenclatures.
func escapeLiteral(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '.':
			b.WriteRune('.')
		case '\\', '+', '*', '?', '(', ')', '[', ']', '{', '}', '^', '$', '|':
			b.WriteRune('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (p *compiledPattern) match(barcode string, rule *Rule) (Segment, bool) {
	loc := p.re.FindStringSubmatchIndex(barcode)
	if loc == nil {
		return Segment{}, false
	}
	seg := Segment{Type: rule.Type, Value: barcode, Rule: rule}
	if !p.hasCapture {
		return seg, true
	}

	digits := barcode[loc[2]:loc[3]]
	value := digits[:p.intDigits]
	if p.decDigits > 0 {
		value += "." + digits[p.intDigits:]
	}
	q, err := types.ParseQuantity(value)
	if err != nil {
		return Segment{}, false
	}
	seg.Quantity = q

	// Zero the captured digits: the remainder identifies the product.
	seg.BaseCode = barcode[:loc[2]] + strings.Repeat("0", len(digits)) + barcode[loc[3]:]
	return seg, true
}

// --- EAN / UPC helpers ---

func isDigitsOfLen(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// CheckDigit computes the EAN/UPC modulo-10 check digit for the given digits
// (without the check digit itself).
func CheckDigit(digits string) int {
	sum := 0
	// Weights 3 and 1 alternate from the rightmost digit.
	weight := 3
	for i := len(digits) - 1; i >= 0; i-- {
		sum += int(digits[i]-'0') * weight
		if weight == 3 {
			weight = 1
		} else {
			weight = 3
		}
	}
	return (10 - sum%10) % 10
}

// IsValidEAN13 reports whether the scan is a 13-digit code with a valid checksum.
func IsValidEAN13(s string) bool {
	if !isDigitsOfLen(s, 13) {
		return false
	}
	return CheckDigit(s[:12]) == int(s[12]-'0')
}

// IsValidUPCA reports whether the scan is a 12-digit code with a valid checksum.
func IsValidUPCA(s string) bool {
	if !isDigitsOfLen(s, 12) {
		return false
	}
	return CheckDigit(s[:11]) == int(s[11]-'0')
}

// UPCAToEAN13 zero-pads a valid UPC-A scan to its EAN-13 form.
func UPCAToEAN13(s string) (string, bool) {
	if !IsValidUPCA(s) {
		return s, false
	}
	return "0" + s, true
}

// EAN13ToUPCA strips the leading zero from an EAN-13 scan in the UPC range.
func EAN13ToUPCA(s string) (string, bool) {
	if !IsValidEAN13(s) || s[0] != '0' {
		return s, false
	}
	return s[1:], true
}
