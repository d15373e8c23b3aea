package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-admission-api/internal/dto"
	"github.com/noah-isme/sma-admission-api/internal/middleware"
	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/internal/service"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
	"github.com/noah-isme/sma-admission-api/pkg/response"
)

type sessionService interface {
	Create(ctx context.Context, req dto.CreateSessionRequest, actor *models.JWTClaims) (*dto.SessionView, error)
	List(ctx context.Context, query dto.SessionListQuery, actor *models.JWTClaims) ([]dto.SessionView, *models.Pagination, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*dto.SessionView, error)
	Close(ctx context.Context, sessionID string, actor *models.JWTClaims) (*service.CloseResult, error)
	RevokeEnrollment(ctx context.Context, sessionID, enrollmentID string, actor *models.JWTClaims) (*models.SessionEnrollment, error)
	ExportRoster(ctx context.Context, sessionID string, query dto.RosterQuery, actor *models.JWTClaims) (*dto.RosterFile, error)
}

type admissionService interface {
	Accept(ctx context.Context, sessionID, requestID string, actor *models.JWTClaims) (*service.AcceptResult, error)
}

type reviewService interface {
	Reject(ctx context.Context, sessionID, requestID string, actor *models.JWTClaims) (*models.JoinRequest, error)
	ListPending(ctx context.Context, sessionID string, actor *models.JWTClaims) ([]models.JoinRequestDetail, error)
}

// SessionHandler exposes classroom session endpoints.
type SessionHandler struct {
	sessions  sessionService
	admission admissionService
	reviews   reviewService
}

// NewSessionHandler builds a session handler.
func NewSessionHandler(sessions sessionService, admission admissionService, reviews reviewService) *SessionHandler {
	return &SessionHandler{sessions: sessions, admission: admission, reviews: reviews}
}

// Create godoc
// @Summary Open a classroom session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body dto.CreateSessionRequest true "Session payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Create(c *gin.Context) {
	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid session payload"))
		return
	}
	view, err := h.sessions.Create(c.Request.Context(), req, middleware.CurrentClaims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, view)
}

// List godoc
// @Summary List managed sessions
// @Tags Sessions
// @Produce json
// @Param status query string false "Status filter"
// @Param search query string false "Title or code search"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	var query dto.SessionListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	items, pagination, err := h.sessions.List(c.Request.Context(), query, middleware.CurrentClaims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, map[string]interface{}{"pagination": pagination})
}

// Get godoc
// @Summary Get a session with live occupancy
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	view, err := h.sessions.Get(c.Request.Context(), c.Param("id"), middleware.CurrentClaims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view)
}

// Accept godoc
// @Summary Accept a pending join request
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.ReviewJoinRequest true "Request to accept"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /sessions/{id}/accept-request [post]
func (h *SessionHandler) Accept(c *gin.Context) {
	var req dto.ReviewJoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review payload"))
		return
	}
	result, err := h.admission.Accept(c.Request.Context(), c.Param("id"), req.RequestID, middleware.CurrentClaims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Reject godoc
// @Summary Reject a pending join request
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.ReviewJoinRequest true "Request to reject"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/reject-request [post]
func (h *SessionHandler) Reject(c *gin.Context) {
	var req dto.ReviewJoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review payload"))
		return
	}
	result, err := h.reviews.Reject(c.Request.Context(), c.Param("id"), req.RequestID, middleware.CurrentClaims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// ListRequests godoc
// @Summary List pending join requests
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/requests [get]
func (h *SessionHandler) ListRequests(c *gin.Context) {
	items, err := h.reviews.ListPending(c.Request.Context(), c.Param("id"), middleware.CurrentClaims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items)
}

// Close godoc
// @Summary Close a session and reject its pending requests
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/close [post]
func (h *SessionHandler) Close(c *gin.Context) {
	result, err := h.sessions.Close(c.Request.Context(), c.Param("id"), middleware.CurrentClaims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// RevokeEnrollment godoc
// @Summary Deactivate an enrollment
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Param enrollmentId path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/enrollments/{enrollmentId}/deactivate [post]
func (h *SessionHandler) RevokeEnrollment(c *gin.Context) {
	enrollment, err := h.sessions.RevokeEnrollment(c.Request.Context(), c.Param("id"), c.Param("enrollmentId"), middleware.CurrentClaims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment)
}

// ExportRoster godoc
// @Summary Download the session roster
// @Tags Sessions
// @Produce octet-stream
// @Param id path string true "Session ID"
// @Param format query string false "csv, pdf or xlsx"
// @Param activeOnly query bool false "Only active enrollments"
// @Success 200 {file} file
// @Router /sessions/{id}/roster [get]
func (h *SessionHandler) ExportRoster(c *gin.Context) {
	var query dto.RosterQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	file, err := h.sessions.ExportRoster(c.Request.Context(), c.Param("id"), query, middleware.CurrentClaims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Payload)
}
