package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"stockscan/internal/core/apperror"
	appctx "stockscan/internal/core/context"
	"stockscan/internal/core/id"
	"stockscan/internal/domain/nomenclature"
	"stockscan/internal/domain/records"
	"stockscan/internal/domain/scan"
	"stockscan/internal/infrastructure/cache"
	"stockscan/internal/infrastructure/http/v1/dto"
)

// AuditFactory builds a per-session audit sink. A nil factory disables
// durable scan audit.
type AuditFactory func(sessionID id.ID) (scan.AuditSink, error)

// SessionHandler serves scan session lifecycle and line views.
type SessionHandler struct {
	*BaseHandler
	registry     *scan.Registry
	cache        *cache.RecordCache
	auditFactory AuditFactory
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(registry *scan.Registry, recordCache *cache.RecordCache, auditFactory AuditFactory) *SessionHandler {
	return &SessionHandler{
		BaseHandler:  NewBaseHandler(),
		registry:     registry,
		cache:        recordCache,
		auditFactory: auditFactory,
	}
}

// Create opens a scan session.
// POST /api/v1/sessions
func (h *SessionHandler) Create(c *gin.Context) {
	var req dto.CreateSessionRequest
	if !h.BindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()

	nom, err := buildNomenclature(ctx, req.Nomenclature)
	if err != nil {
		h.Error(c, err)
		return
	}
	lines, err := h.buildLines(ctx, req.Lines)
	if err != nil {
		h.Error(c, err)
		return
	}

	cfg := scan.Config{
		OperationType:   req.OperationType,
		MultiPackage:    req.MultiPackage,
		UseExistingLots: req.UseExistingLots,
		UoMEnabled:      req.UoMEnabled,
		GateExpr:        req.GateExpr,
	}
	if company := appctx.GetCompanyID(ctx); company != "" {
		companyID, err := id.Parse(company)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid company scope"))
			return
		}
		cfg.CompanyID = &companyID
	}

	var opts []scan.Option
	sessionID := id.New()
	if h.auditFactory != nil {
		sink, err := h.auditFactory(sessionID)
		if err != nil {
			h.Error(c, apperror.NewInternal(err))
			return
		}
		opts = append(opts, scan.WithAudit(sink))
	}

	session, err := h.registry.Create(sessionID, cfg, nom, h.cache, lines, opts...)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, toSessionResponse(session))
}

// Get returns one session.
// GET /api/v1/sessions/:id
func (h *SessionHandler) Get(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	h.OK(c, toSessionResponse(session))
}

// List returns all open sessions.
// GET /api/v1/sessions
func (h *SessionHandler) List(c *gin.Context) {
	sessions := h.registry.List()
	out := make([]dto.SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(s))
	}
	h.OK(c, out)
}

// Delete closes a session.
// DELETE /api/v1/sessions/:id
func (h *SessionHandler) Delete(c *gin.Context) {
	sessionID, ok := h.ParseIDParam(c, "id")
	if !ok {
		return
	}
	h.registry.Delete(sessionID)
	h.NoContent(c)
}

// Lines returns the flat display ordering.
// GET /api/v1/sessions/:id/lines
func (h *SessionHandler) Lines(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	h.OK(c, session.Engine.PageLines())
}

// GroupedLines returns the derived grouped view.
// GET /api/v1/sessions/:id/lines/grouped
func (h *SessionHandler) GroupedLines(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	groups, ungrouped := session.Engine.GroupedLines()
	h.OK(c, gin.H{"groups": groups, "lines": ungrouped})
}

// SelectLine marks a line as the operator's selection.
// POST /api/v1/sessions/:id/lines/:lineId/select
func (h *SessionHandler) SelectLine(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	lineID, ok := h.ParseIDParam(c, "lineId")
	if !ok {
		return
	}
	session.Engine.Select(lineID)
	h.Success(c, "line selected")
}

// DirtyLines returns the lines pending persistence.
// GET /api/v1/sessions/:id/dirty
func (h *SessionHandler) DirtyLines(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	h.OK(c, session.Engine.DirtyLines())
}

// ConfirmSave acknowledges a persisted diff and records assigned ids.
// POST /api/v1/sessions/:id/save
func (h *SessionHandler) ConfirmSave(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var req dto.ConfirmSaveRequest
	if !h.BindJSON(c, &req) {
		return
	}

	assigned := make(map[id.ID]id.ID, len(req.AssignedIDs))
	for vidStr, sidStr := range req.AssignedIDs {
		vid, err := id.Parse(vidStr)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid virtual id").WithDetail("id", vidStr))
			return
		}
		sid, err := id.Parse(sidStr)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid assigned id").WithDetail("id", sidStr))
			return
		}
		assigned[vid] = sid
	}
	session.Engine.ConfirmSave(assigned)
	// Backend-side record creation may have made new lots/packages known.
	h.cache.Invalidate()
	h.Success(c, "save confirmed")
}

// History returns the recent attempt history.
// GET /api/v1/sessions/:id/history
func (h *SessionHandler) History(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	h.OK(c, session.Engine.History())
}

func (h *SessionHandler) session(c *gin.Context) (*scan.Session, bool) {
	sessionID, ok := h.ParseIDParam(c, "id")
	if !ok {
		return nil, false
	}
	session, err := h.registry.Get(sessionID)
	if err != nil {
		h.Error(c, err)
		return nil, false
	}
	return session, true
}

func toSessionResponse(s *scan.Session) dto.SessionResponse {
	return dto.SessionResponse{
		ID:            s.ID.String(),
		OperationType: s.OperationType,
		CreatedAt:     s.CreatedAt.Format(time.RFC3339),
	}
}

// buildNomenclature maps the request rule set into a validated nomenclature.
func buildNomenclature(ctx context.Context, in *dto.NomenclatureInput) (*nomenclature.Nomenclature, error) {
	if in == nil {
		return nil, nil
	}
	nom := &nomenclature.Nomenclature{
		Name:        in.Name,
		IsGS1:       in.IsGS1,
		UPCAToEAN13: in.UPCAToEAN13,
	}
	for _, r := range in.Rules {
		rule := nomenclature.Rule{
			Name:     r.Name,
			Type:     nomenclature.SegmentType(r.Type),
			Pattern:  r.Pattern,
			Encoding: nomenclature.Encoding(r.Encoding),
		}
		if r.UoMID != nil {
			uomID, err := id.Parse(*r.UoMID)
			if err != nil {
				return nil, apperror.NewValidation("invalid rule uom id").WithDetail("rule", r.Name)
			}
			rule.UoMID = &uomID
		}
		nom.Rules = append(nom.Rules, rule)
	}
	if err := nom.Validate(ctx); err != nil {
		return nil, apperror.NewValidation(err.Error())
	}
	return nom, nil
}

// buildLines resolves the referenced records through the cache and assembles
// the loaded lines.
func (h *SessionHandler) buildLines(ctx context.Context, inputs []dto.LineInput) ([]*scan.Line, error) {
	// Queue every referenced id, then fetch in one round trip.
	for _, in := range inputs {
		h.cache.QueueMiss(in.ProductID)
		for _, ref := range []*string{in.UoMID, in.LocationID, in.LocationDestID, in.LotID, in.PackageID, in.OwnerID} {
			if ref != nil {
				h.cache.QueueMiss(*ref)
			}
		}
	}
	if err := h.cache.FetchMissing(ctx); err != nil {
		return nil, apperror.NewInternal(err)
	}

	lines := make([]*scan.Line, 0, len(inputs))
	for _, in := range inputs {
		productID, err := id.Parse(in.ProductID)
		if err != nil {
			return nil, apperror.NewValidation("invalid product id").WithDetail("id", in.ProductID)
		}
		rec, ok := h.cache.Get(records.ModelProduct, productID)
		if !ok {
			return nil, apperror.NewNotFound("product", in.ProductID)
		}

		line := &scan.Line{
			Product:   rec.(*records.Product),
			LotName:   in.LotName,
			QtyDone:   in.QtyDone,
			QtyDemand: in.QtyDemand,
		}
		if in.ID != nil {
			lineID, err := id.Parse(*in.ID)
			if err != nil {
				return nil, apperror.NewValidation("invalid line id").WithDetail("id", *in.ID)
			}
			line.ID = &lineID
		}
		if r, ok := h.lookup(records.ModelUoM, in.UoMID); ok {
			line.UoM = r.(*records.UoM)
		}
		if r, ok := h.lookup(records.ModelLocation, in.LocationID); ok {
			line.Location = r.(*records.Location)
		}
		if r, ok := h.lookup(records.ModelLocation, in.LocationDestID); ok {
			line.LocationDest = r.(*records.Location)
		}
		if r, ok := h.lookup(records.ModelLot, in.LotID); ok {
			lot := r.(*records.Lot)
			line.Lot = lot
			line.LotName = lot.Name
		}
		if r, ok := h.lookup(records.ModelPackage, in.PackageID); ok {
			line.Package = r.(*records.Package)
		}
		if r, ok := h.lookup(records.ModelOwner, in.OwnerID); ok {
			line.Owner = r.(*records.Owner)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (h *SessionHandler) lookup(model records.Model, ref *string) (records.Record, bool) {
	if ref == nil {
		return nil, false
	}
	rid, err := id.Parse(*ref)
	if err != nil {
		return nil, false
	}
	return h.cache.Get(model, rid)
}
