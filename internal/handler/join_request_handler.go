package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-admission-api/internal/dto"
	"github.com/noah-isme/sma-admission-api/internal/middleware"
	"github.com/noah-isme/sma-admission-api/internal/models"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
	"github.com/noah-isme/sma-admission-api/pkg/response"
)

type joinRequestService interface {
	Submit(ctx context.Context, req dto.SubmitJoinRequest, actor *models.JWTClaims) (*models.JoinRequest, error)
	ListMine(ctx context.Context, actor *models.JWTClaims) ([]models.JoinRequestDetail, error)
}

// JoinRequestHandler exposes the applicant side of admission.
type JoinRequestHandler struct {
	service joinRequestService
}

// NewJoinRequestHandler builds a join request handler.
func NewJoinRequestHandler(service joinRequestService) *JoinRequestHandler {
	return &JoinRequestHandler{service: service}
}

// Submit godoc
// @Summary Ask to join a session by code
// @Tags JoinRequests
// @Accept json
// @Produce json
// @Param payload body dto.SubmitJoinRequest true "Session code"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /join-requests [post]
func (h *JoinRequestHandler) Submit(c *gin.Context) {
	var req dto.SubmitJoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid join request payload"))
		return
	}
	created, err := h.service.Submit(c.Request.Context(), req, middleware.CurrentClaims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// ListMine godoc
// @Summary List my join requests
// @Tags JoinRequests
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /join-requests/my [get]
func (h *JoinRequestHandler) ListMine(c *gin.Context) {
	items, err := h.service.ListMine(c.Request.Context(), middleware.CurrentClaims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items)
}
