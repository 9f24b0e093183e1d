package handlers

import (
	"github.com/gin-gonic/gin"

	"stockscan/internal/core/apperror"
	"stockscan/internal/domain/scan"
	"stockscan/internal/infrastructure/http/v1/dto"
)

// ScanHandler feeds raw scanner payloads into a session's engine.
type ScanHandler struct {
	*BaseHandler
	registry *scan.Registry
}

// NewScanHandler creates a scan handler.
func NewScanHandler(registry *scan.Registry) *ScanHandler {
	return &ScanHandler{BaseHandler: NewBaseHandler(), registry: registry}
}

// Scan processes one barcode payload and returns the emitted feedback
// events together with the refreshed selection.
// POST /api/v1/sessions/:id/scan
func (h *ScanHandler) Scan(c *gin.Context) {
	sessionID, ok := h.ParseIDParam(c, "id")
	if !ok {
		return
	}
	session, err := h.registry.Get(sessionID)
	if err != nil {
		h.Error(c, err)
		return
	}

	var req dto.ScanRequest
	if !h.BindJSON(c, &req) {
		return
	}

	scanErr := session.Engine.ProcessBarcode(c.Request.Context(), req.Barcode)

	resp := dto.ScanResponse{
		OK:     scanErr == nil,
		Events: drainEvents(session.Engine.Events()),
	}
	if scanErr != nil {
		if appErr, ok := apperror.AsAppError(scanErr); ok {
			resp.Error = appErr.Message
		} else {
			resp.Error = scanErr.Error()
		}
	}
	if selected := session.Engine.SelectedLine(); selected != nil {
		resp.SelectedLineID = selected.VirtualID.String()
	}
	h.OK(c, resp)
}

// drainEvents collects whatever the engine emitted without blocking. Events
// from a slow earlier scan may surface on the next response instead.
func drainEvents(ch <-chan scan.Event) []scan.Event {
	events := make([]scan.Event, 0, 8)
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return events
		}
	}
}
