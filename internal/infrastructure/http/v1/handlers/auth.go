package handlers

import (
	"github.com/gin-gonic/gin"

	"stockscan/internal/domain/auth"
	"stockscan/internal/infrastructure/http/v1/dto"
)

// AuthHandler serves authentication endpoints.
type AuthHandler struct {
	*BaseHandler
	service *auth.Service
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(service *auth.Service) *AuthHandler {
	return &AuthHandler{BaseHandler: NewBaseHandler(), service: service}
}

// Login authenticates an operator.
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if !h.BindJSON(c, &req) {
		return
	}

	token, op, err := h.service.Login(c.Request.Context(), req.Login, req.Password)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.LoginResponse{
		AccessToken: token.AccessToken,
		ExpiresAt:   token.ExpiresAt,
		OperatorID:  op.ID.String(),
		Login:       op.Login,
	})
}

// Register creates an operator account.
// POST /api/v1/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if !h.BindJSON(c, &req) {
		return
	}

	op, err := h.service.Register(c.Request.Context(), req.Login, req.Password)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, op.ID.String())
}
