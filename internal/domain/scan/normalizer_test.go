package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit_SingleBarcodePassesThrough(t *testing.T) {
	n := newNormalizer(nil)

	assert.Equal(t, []string{"4006381333931"}, n.Split("4006381333931"))
	assert.Equal(t, []string{"  spaced  "}, n.Split("  spaced  "))
}

func TestSplit_SeparatorTokens(t *testing.T) {
	n := newNormalizer(nil)

	got := n.Split("AAA\nBBB;CCC,,DDD")
	assert.Equal(t, []string{"AAA", "BBB", "CCC", "DDD"}, got)
}

func TestSplit_SingleURNStaysWhole(t *testing.T) {
	n := newNormalizer(nil)

	raw := "urn:epc:tag:sgtin-96-0614141-812345"
	assert.Equal(t, []string{raw}, n.Split(raw))
}

func TestSplit_MultipleURNs(t *testing.T) {
	n := newNormalizer(nil)

	raw := "urn:epc:tag:item-1 urn:epc:tag:item-2 urn:epc:tag:item-3"
	got := n.Split(raw)
	assert.Equal(t, []string{
		"urn:epc:tag:item-1",
		"urn:epc:tag:item-2",
		"urn:epc:tag:item-3",
	}, got)
}

func TestSplit_URNWithQuantitySuffix(t *testing.T) {
	n := newNormalizer(nil)

	got := n.Split("urn:epc:tag:item-1 3 urn:epc:tag:item-2")
	assert.Equal(t, []string{"urn:epc:tag:item-1 3", "urn:epc:tag:item-2"}, got)
}

func TestIsURN(t *testing.T) {
	assert.True(t, IsURN("urn:epc:tag:item-1"))
	assert.True(t, IsURN("urn:epc:tag:item-1 3"))
	assert.False(t, IsURN("4006381333931"))
	assert.False(t, IsURN("prefix urn:epc:tag:item-1"))
}

func TestTryAcquireRelease(t *testing.T) {
	n := newNormalizer(nil)

	assert.True(t, n.tryAcquire("batch"))
	assert.False(t, n.tryAcquire("batch"))
	n.release("batch")
	assert.True(t, n.tryAcquire("batch"))
}

func TestConsumeURN(t *testing.T) {
	n := newNormalizer(nil)

	assert.False(t, n.urnConsumed("urn:a:b:c"))
	assert.True(t, n.consumeURN("urn:a:b:c"))
	assert.True(t, n.urnConsumed("urn:a:b:c"))
	assert.False(t, n.consumeURN("urn:a:b:c"))
}
