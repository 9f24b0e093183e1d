package nomenclature

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockscan/internal/core/types"
)

func TestCheckDigit(t *testing.T) {
	tests := []struct {
		digits string
		want   int
	}{
		{"400638133393", 1}, // EAN-13 body
		{"03600029145", 2},  // UPC-A body
		{"4006381", 2},      // EAN-8 body
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CheckDigit(tt.digits), "digits %s", tt.digits)
	}
}

func TestEANValidation(t *testing.T) {
	assert.True(t, IsValidEAN13("4006381333931"))
	assert.False(t, IsValidEAN13("4006381333932"))
	assert.False(t, IsValidEAN13("400638133393"))

	assert.True(t, IsValidUPCA("036000291452"))
	assert.False(t, IsValidUPCA("036000291453"))
}

func TestUPCAEAN13Conversion(t *testing.T) {
	ean, ok := UPCAToEAN13("036000291452")
	require.True(t, ok)
	assert.Equal(t, "0036000291452", ean)

	upc, ok := EAN13ToUPCA("0036000291452")
	require.True(t, ok)
	assert.Equal(t, "036000291452", upc)

	// Non-UPC-range EAN-13 stays as is.
	_, ok = EAN13ToUPCA("4006381333931")
	assert.False(t, ok)
}

func TestParseClassic_FirstMatchWins(t *testing.T) {
	nom := &Nomenclature{
		Name: "warehouse",
		Rules: []Rule{
			{Name: "locations", Type: SegmentLocation, Pattern: "98...."},
			{Name: "packages", Type: SegmentPackage, Pattern: "99...."},
			{Name: "products", Type: SegmentProduct, Pattern: "2....."},
		},
	}
	require.NoError(t, nom.Validate(context.Background()))

	segs, err := nom.Parse("985512")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, SegmentLocation, segs[0].Type)
	assert.Equal(t, "985512", segs[0].Value)

	segs, err = nom.Parse("991234")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, SegmentPackage, segs[0].Type)

	// No rule matches: nil segments, nil error.
	segs, err = nom.Parse("771234")
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestParseClassic_WeightCapture(t *testing.T) {
	nom := &Nomenclature{
		Rules: []Rule{
			{Name: "scale", Type: SegmentWeight, Pattern: "21.....{NNDDD}"},
		},
	}

	segs, err := nom.Parse("2112345" + "01500" + "7")
	require.NoError(t, err)
	require.Len(t, segs, 1)

	seg := segs[0]
	assert.Equal(t, SegmentWeight, seg.Type)
	assert.Equal(t, types.NewQuantityFromFloat64(1.5), seg.Quantity)
	// Captured digits zeroed so the remainder identifies the product.
	assert.Equal(t, "2112345000007", seg.BaseCode)
}

func TestParseClassic_QuantityIntegerCapture(t *testing.T) {
	nom := &Nomenclature{
		Rules: []Rule{
			{Name: "counts", Type: SegmentQuantity, Pattern: "27{NNN}"},
		},
	}

	segs, err := nom.Parse("27012")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, types.NewQuantityFromInt64(12), segs[0].Quantity)
}

func TestParseClassic_EncodingFilter(t *testing.T) {
	nom := &Nomenclature{
		Rules: []Rule{
			{Name: "retail", Type: SegmentProduct, Pattern: ".............", Encoding: EncodingEAN13},
		},
	}

	// Invalid checksum fails the encoding pre-filter.
	segs, err := nom.Parse("4006381333932")
	require.NoError(t, err)
	assert.Empty(t, segs)

	segs, err = nom.Parse("4006381333931")
	require.NoError(t, err)
	require.Len(t, segs, 1)
}

func TestParseClassic_UPCANormalization(t *testing.T) {
	nom := &Nomenclature{
		UPCAToEAN13: true,
		Rules: []Rule{
			{Name: "retail", Type: SegmentProduct, Pattern: "............", Encoding: EncodingEAN13},
		},
	}

	// A UPC-A scan normalizes to its EAN-13 alias.
	segs, err := nom.Parse("036000291452")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "0036000291452", segs[0].Value)
}

func TestValidate_RejectsBadPattern(t *testing.T) {
	nom := &Nomenclature{
		Rules: []Rule{
			{Name: "bad", Type: SegmentQuantity, Pattern: "27{NN}{DD}"},
		},
	}
	assert.Error(t, nom.Validate(context.Background()))
}

func TestValidate_AllowsPatternlessGS1Rules(t *testing.T) {
	nom := &Nomenclature{
		IsGS1: true,
		Rules: []Rule{
			{Name: "net weight", Type: SegmentWeight},
		},
	}
	assert.NoError(t, nom.Validate(context.Background()))
}

func TestParseGS1_Paren(t *testing.T) {
	nom := &Nomenclature{IsGS1: true}

	segs, err := nom.Parse("(01)00000000123457(10)lot-abc")
	require.NoError(t, err)
	require.Len(t, segs, 2)

	assert.Equal(t, SegmentProduct, segs[0].Type)
	assert.Equal(t, "00000000123457", segs[0].Value)
	assert.Equal(t, SegmentLot, segs[1].Type)
	assert.Equal(t, "lot-abc", segs[1].Value)
}

func TestParseGS1_Raw(t *testing.T) {
	nom := &Nomenclature{IsGS1: true}

	// 01 GTIN (fixed 14) then 10 lot terminated by end of data.
	segs, err := nom.Parse("0100000000123457" + "10LOT42")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "00000000123457", segs[0].Value)
	assert.Equal(t, "LOT42", segs[1].Value)
}

func TestParseGS1_RawWithSeparator(t *testing.T) {
	nom := &Nomenclature{IsGS1: true}

	segs, err := nom.Parse("10LOT42" + fnc1 + "0100000000123457")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, SegmentLot, segs[0].Type)
	assert.Equal(t, SegmentProduct, segs[1].Type)
}

func TestParseGS1_ImpliedDecimals(t *testing.T) {
	nom := &Nomenclature{IsGS1: true}

	// AI 3102: net weight with two implied decimals, 001250 -> 12.5 kg.
	segs, err := nom.Parse("(3102)001250")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, SegmentWeight, segs[0].Type)
	assert.Equal(t, types.NewQuantityFromFloat64(12.5), segs[0].Quantity)
}

func TestParseGS1_DimensionAIs(t *testing.T) {
	nom := &Nomenclature{IsGS1: true}

	// Width, depth and area measures must not abort a composite that also
	// carries the product and lot.
	for _, ai := range []string{"3121", "3131", "3141"} {
		segs, err := nom.Parse("(01)00000000123457(10)lot-7(" + ai + ")000015")
		require.NoError(t, err, "ai %s", ai)
		require.Len(t, segs, 3, "ai %s", ai)
		assert.Equal(t, SegmentProduct, segs[0].Type)
		assert.Equal(t, SegmentLot, segs[1].Type)
		assert.Equal(t, SegmentWeight, segs[2].Type)
		assert.Equal(t, types.NewQuantityFromFloat64(1.5), segs[2].Quantity)
	}
}

func TestParseGS1_Quantity(t *testing.T) {
	nom := &Nomenclature{IsGS1: true}

	segs, err := nom.Parse("(01)00000000123457(30)6")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, types.NewQuantityFromInt64(6), segs[1].Quantity)
}

func TestParseGS1_UnknownAIAborts(t *testing.T) {
	nom := &Nomenclature{IsGS1: true}

	_, err := nom.Parse("(99)whatever")
	assert.Error(t, err)

	_, err = nom.Parse("9912345")
	assert.Error(t, err)
}

func TestParseGS1_RuleUoMAssociation(t *testing.T) {
	nom := &Nomenclature{
		IsGS1: true,
		Rules: []Rule{
			{Name: "kg", Type: SegmentWeight},
		},
	}

	segs, err := nom.Parse("(3101)000500")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.NotNil(t, segs[0].Rule)
	assert.Equal(t, "kg", segs[0].Rule.Name)
}
