package scan

import (
	"regexp"
	"strings"
	"sync"
)

// urnRe matches one URN element of a composite RFID payload:
// `urn:<ns>:<ns>:<ns>` optionally followed by a space-separated quantity.
var urnRe = regexp.MustCompile(`urn:[A-Za-z0-9][A-Za-z0-9-]*:[A-Za-z0-9][A-Za-z0-9-]*:[^\s,;]+(?:\s+\d+)?`)

// DefaultSeparator splits application-configured multi-barcode payloads.
var DefaultSeparator = regexp.MustCompile(`[\n\r\t,;|]+`)

// normalizer splits raw scanner payloads into individual barcodes and guards
// against duplicate processing of the same in-flight composite payload.
type normalizer struct {
	separator *regexp.Regexp

	mu       sync.Mutex
	inFlight map[string]struct{}

	// consumedURNs only grows for the lifetime of the operation instance.
	consumedURNs map[string]struct{}
}

func newNormalizer(separator *regexp.Regexp) *normalizer {
	if separator == nil {
		separator = DefaultSeparator
	}
	return &normalizer{
		separator:    separator,
		inFlight:     make(map[string]struct{}),
		consumedURNs: make(map[string]struct{}),
	}
}

// Split breaks a raw payload into individual barcodes:
//  1. two or more URN patterns -> one element per URN, in original order;
//  2. separator tokens -> the non-empty tokens, when more than one;
//  3. otherwise the raw string unchanged.
func (n *normalizer) Split(raw string) []string {
	if urns := urnRe.FindAllString(raw, -1); len(urns) > 1 {
		return urns
	}
	tokens := n.separator.Split(raw, -1)
	var nonEmpty []string
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			nonEmpty = append(nonEmpty, t)
		}
	}
	if len(nonEmpty) > 1 {
		return nonEmpty
	}
	return []string{raw}
}

// IsURN reports whether the barcode is a single URN element.
func IsURN(barcode string) bool {
	m := urnRe.FindString(barcode)
	return m == barcode
}

// tryAcquire registers a multi-token payload as in flight. A second identical
// payload while the first is still processing is dropped — a slow scanner or a
// double trigger must not double-count a whole batch.
func (n *normalizer) tryAcquire(raw string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, busy := n.inFlight[raw]; busy {
		return false
	}
	n.inFlight[raw] = struct{}{}
	return true
}

func (n *normalizer) release(raw string) {
	n.mu.Lock()
	delete(n.inFlight, raw)
	n.mu.Unlock()
}

// consumeURN records a URN as processed; it returns false if the URN had
// already been consumed in this operation instance.
func (n *normalizer) consumeURN(urn string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, seen := n.consumedURNs[urn]; seen {
		return false
	}
	n.consumedURNs[urn] = struct{}{}
	return true
}

// urnConsumed reports whether a URN has been processed before.
func (n *normalizer) urnConsumed(urn string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, seen := n.consumedURNs[urn]
	return seen
}
