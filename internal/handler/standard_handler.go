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

type standardService interface {
	Create(ctx context.Context, req dto.CreateStandardsRequest, actor *models.JWTClaims) (*dto.CreateStandardsResult, error)
	List(ctx context.Context, actor *models.JWTClaims) ([]models.StandardDetail, error)
	AssignClassTeacher(ctx context.Context, standardID string, req dto.AssignClassTeacherRequest, actor *models.JWTClaims) (*models.Standard, error)
}

// StandardHandler exposes the standard directory.
type StandardHandler struct {
	service standardService
}

// NewStandardHandler builds a standard handler.
func NewStandardHandler(service standardService) *StandardHandler {
	return &StandardHandler{service: service}
}

// Create godoc
// @Summary Get-or-create standards for an organization
// @Tags Standards
// @Accept json
// @Produce json
// @Param payload body dto.CreateStandardsRequest true "Standards"
// @Success 201 {object} response.Envelope
// @Router /standards [post]
func (h *StandardHandler) Create(c *gin.Context) {
	var req dto.CreateStandardsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid standards payload"))
		return
	}
	result, err := h.service.Create(c.Request.Context(), req, middleware.CurrentClaims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// List godoc
// @Summary List visible standards
// @Tags Standards
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /standards [get]
func (h *StandardHandler) List(c *gin.Context) {
	items, err := h.service.List(c.Request.Context(), middleware.CurrentClaims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items)
}

// AssignTeacher godoc
// @Summary Assign a class teacher
// @Tags Standards
// @Accept json
// @Produce json
// @Param id path string true "Standard ID"
// @Param payload body dto.AssignClassTeacherRequest true "Teacher"
// @Success 200 {object} response.Envelope
// @Router /standards/{id}/assign-teacher [post]
func (h *StandardHandler) AssignTeacher(c *gin.Context) {
	var req dto.AssignClassTeacherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assignment payload"))
		return
	}
	standard, err := h.service.AssignClassTeacher(c.Request.Context(), c.Param("id"), req, middleware.CurrentClaims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, standard)
}
