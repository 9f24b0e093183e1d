package dto

import (
	"stockscan/internal/core/types"
	"stockscan/internal/domain/scan"
)

// RuleInput is one nomenclature parsing rule.
type RuleInput struct {
	Name     string  `json:"name" binding:"required"`
	Type     string  `json:"type" binding:"required"`
	Pattern  string  `json:"pattern"`
	Encoding string  `json:"encoding"`
	UoMID    *string `json:"uomId"`
}

// NomenclatureInput configures the barcode parser for a session.
type NomenclatureInput struct {
	Name        string      `json:"name"`
	IsGS1       bool        `json:"isGs1"`
	UPCAToEAN13 bool        `json:"upcaToEan13"`
	Rules       []RuleInput `json:"rules"`
}

// LineInput is one loaded operation line. Records are referenced by id and
// resolved through the cache when the session opens.
type LineInput struct {
	ID             *string        `json:"id"`
	ProductID      string         `json:"productId" binding:"required"`
	UoMID          *string        `json:"uomId"`
	LocationID     *string        `json:"locationId"`
	LocationDestID *string        `json:"locationDestId"`
	LotID          *string        `json:"lotId"`
	LotName        string         `json:"lotName"`
	PackageID      *string        `json:"packageId"`
	OwnerID        *string        `json:"ownerId"`
	QtyDone        types.Quantity `json:"qtyDone"`
	QtyDemand      types.Quantity `json:"qtyDemand"`
}

// CreateSessionRequest opens a scan session over an operation.
type CreateSessionRequest struct {
	OperationType   string             `json:"operationType" binding:"required"`
	MultiPackage    bool               `json:"multiPackage"`
	UseExistingLots bool               `json:"useExistingLots"`
	UoMEnabled      bool               `json:"uomEnabled"`
	GateExpr        string             `json:"gateExpr"`
	Nomenclature    *NomenclatureInput `json:"nomenclature"`
	Lines           []LineInput        `json:"lines"`
}

// SessionResponse describes an open session.
type SessionResponse struct {
	ID            string `json:"id"`
	OperationType string `json:"operationType"`
	CreatedAt     string `json:"createdAt"`
}

// ScanRequest submits one raw scanner payload.
type ScanRequest struct {
	Barcode string `json:"barcode" binding:"required"`
}

// ScanResponse reports the outcome of one scan: the notifications it emitted
// and the refreshed selection.
type ScanResponse struct {
	OK             bool         `json:"ok"`
	Error          string       `json:"error,omitempty"`
	Events         []scan.Event `json:"events"`
	SelectedLineID string       `json:"selectedLineId,omitempty"`
}

// ConfirmSaveRequest acknowledges a persisted dirty-line diff, carrying the
// backend-assigned ids keyed by virtual id.
type ConfirmSaveRequest struct {
	AssignedIDs map[string]string `json:"assignedIds"`
}
