package scan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockscan/internal/core/apperror"
	"stockscan/internal/core/types"
	"stockscan/internal/domain/records"
)

func TestNewGate_EmptyExpressionAdmitsAll(t *testing.T) {
	g, err := NewGate("")
	require.NoError(t, err)
	require.Nil(t, g)

	assert.NoError(t, g.Admit(context.Background(), &BarcodeData{Barcode: "anything"}))
}

func TestNewGate_CompileErrors(t *testing.T) {
	_, err := NewGate("no_such_var > 1")
	assert.Error(t, err)

	_, err = NewGate(`"not a bool"`)
	assert.Error(t, err)
}

func TestGate_Admit(t *testing.T) {
	g, err := NewGate(`model == "product" && quantity < 100.0`)
	require.NoError(t, err)

	product := newProduct("Bolt M8", "BOLT8", records.TrackingNone)

	ok := &BarcodeData{
		Barcode:     "BOLT8",
		Product:     product,
		Quantity:    types.NewQuantityFromInt64(5),
		QuantitySet: true,
	}
	assert.NoError(t, g.Admit(context.Background(), ok))

	tooMany := &BarcodeData{
		Barcode:     "BOLT8",
		Product:     product,
		Quantity:    types.NewQuantityFromInt64(500),
		QuantitySet: true,
	}
	err = g.Admit(context.Background(), tooMany)
	require.Error(t, err)
	appErr, isApp := apperror.AsAppError(err)
	require.True(t, isApp)
	assert.Equal(t, apperror.CodeGateRejected, appErr.Code)

	notProduct := &BarcodeData{Barcode: "SHELF-A", Location: newLocation("Shelf A", "SHELF-A", "")}
	assert.Error(t, g.Admit(context.Background(), notProduct))
}

func TestGate_TrackingAndLotVariables(t *testing.T) {
	g, err := NewGate(`tracking == "serial" ? has_lot : true`)
	require.NoError(t, err)

	serial := newProduct("Camera", "CAM01", records.TrackingSerial)

	bare := &BarcodeData{Barcode: "CAM01", Product: serial}
	assert.Error(t, g.Admit(context.Background(), bare))

	withSerial := &BarcodeData{Barcode: "CAM01", Product: serial, LotName: "SN-1"}
	assert.NoError(t, g.Admit(context.Background(), withSerial))
}
