package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-admission-api/internal/dto"
	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/internal/repository"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
)

type joinSessionStore interface {
	FindByID(ctx context.Context, id string) (*models.ClassroomSession, error)
	FindByCode(ctx context.Context, code string) (*models.ClassroomSession, error)
	WithinAdmissionTx(ctx context.Context, fn func(repository.AdmissionTx) error) error
}

type joinRequestStore interface {
	Create(ctx context.Context, req *models.JoinRequest) error
	FindBySessionAndUser(ctx context.Context, sessionID, userID string) (*models.JoinRequest, error)
	ListPending(ctx context.Context, sessionID string) ([]models.JoinRequestDetail, error)
	ListByUser(ctx context.Context, userID string) ([]models.JoinRequestDetail, error)
}

type occupancyReader interface {
	CountActive(ctx context.Context, sessionID string) (int, error)
}

// JoinRequestOptions tunes submission behaviour.
type JoinRequestOptions struct {
	// StrictSubmit rejects submissions to sessions that are not joinable right now.
	// When off, FULL and EXPIRED are advisory at submit time. Closed sessions are
	// refused either way and the accept-time check stays authoritative.
	StrictSubmit bool
}

// JoinRequestService manages the join request ledger.
type JoinRequestService struct {
	sessions   joinSessionStore
	requests   joinRequestStore
	occupancy  occupancyReader
	identities identityResolver
	lifecycle  *SessionLifecycle
	opts       JoinRequestOptions
	audit      auditTrail
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewJoinRequestService constructs the ledger service.
func NewJoinRequestService(
	sessions joinSessionStore,
	requests joinRequestStore,
	occupancy occupancyReader,
	identities identityResolver,
	lifecycle *SessionLifecycle,
	opts JoinRequestOptions,
	audit auditLogger,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *JoinRequestService {
	if lifecycle == nil {
		lifecycle = NewSessionLifecycle(nil, 0, "")
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JoinRequestService{
		sessions:   sessions,
		requests:   requests,
		occupancy:  occupancy,
		identities: identities,
		lifecycle:  lifecycle,
		opts:       opts,
		audit:      auditTrail{store: audit, logger: logger, source: "join-request-service"},
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
	}
}

// Submit files a PENDING request for the session identified by its code.
func (s *JoinRequestService) Submit(ctx context.Context, req dto.SubmitJoinRequest, actor *models.JWTClaims) (*models.JoinRequest, error) {
	created, err := s.submit(ctx, req, actor)
	if err != nil {
		s.metrics.RecordJoinRequest(appErrors.FromError(err).Code)
		return nil, err
	}
	s.metrics.RecordJoinRequest("created")
	return created, nil
}

func (s *JoinRequestService) submit(ctx context.Context, req dto.SubmitJoinRequest, actor *models.JWTClaims) (*models.JoinRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	req.SessionCode = strings.ToUpper(strings.TrimSpace(req.SessionCode))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid join request payload")
	}

	session, err := s.sessions.FindByCode(ctx, req.SessionCode)
	if err != nil {
		return nil, notFoundOrInternal(err, "invalid session code", "failed to load session")
	}
	if session.Closed() || session.Status == models.SessionStatusClosed {
		return nil, notJoinable(models.SessionStatusClosed)
	}

	identity, err := s.identities.Resolve(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if err := CheckEligibility(identity, session); err != nil {
		return nil, err
	}

	existing, err := s.requests.FindBySessionAndUser(ctx, session.ID, actor.UserID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing join request")
	}
	if existing != nil {
		return nil, appErrors.ErrDuplicateRequest
	}

	if s.opts.StrictSubmit {
		occupancy, err := s.occupancy.CountActive(ctx, session.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute occupancy")
		}
		if status, joinable := s.lifecycle.View(session, occupancy); !joinable {
			return nil, notJoinable(status)
		}
	}

	joinReq := &models.JoinRequest{
		SessionID: session.ID,
		UserID:    actor.UserID,
		Status:    models.JoinRequestPending,
		CreatedAt: s.lifecycle.Now(),
	}
	if err := s.requests.Create(ctx, joinReq); err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, appErrors.ErrDuplicateRequest
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create join request")
	}
	return joinReq, nil
}

// Reject moves a PENDING request to REJECTED. Rejecting twice is a no-op.
func (s *JoinRequestService) Reject(ctx context.Context, sessionID, requestID string, actor *models.JWTClaims) (*models.JoinRequest, error) {
	if requestID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "request_id is required")
	}
	authority := sessionAuthority{sessions: s.sessions, identities: s.identities}
	if _, _, err := authority.managed(ctx, sessionID, actor); err != nil {
		return nil, err
	}

	var (
		result  *models.JoinRequest
		changed bool
	)
	err := s.sessions.WithinAdmissionTx(ctx, func(tx repository.AdmissionTx) error {
		if _, err := tx.LockSession(ctx, sessionID); err != nil {
			return err
		}
		req, err := tx.LockJoinRequest(ctx, sessionID, requestID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "join request not found")
			}
			return err
		}
		switch req.Status {
		case models.JoinRequestRejected:
			result = req
			return nil
		case models.JoinRequestAccepted:
			return appErrors.Clone(appErrors.ErrInvalidTransition, "accepted join requests cannot be rejected")
		}

		now := s.lifecycle.Now()
		if err := tx.MarkJoinRequest(ctx, req.ID, models.JoinRequestRejected, actor.UserID, now); err != nil {
			return err
		}
		req.Status = models.JoinRequestRejected
		req.ReviewedAt = &now
		req.ReviewedBy = &actor.UserID
		req.UpdatedAt = now
		result, changed = req, true
		return nil
	})
	if err != nil {
		return nil, translateTxError(err, "failed to reject join request")
	}

	if changed {
		s.audit.record(ctx, actor.UserID, models.AuditActionJoinReject, joinRequestResource, requestID,
			map[string]interface{}{"status": models.JoinRequestPending},
			map[string]interface{}{"status": models.JoinRequestRejected, "sessionId": sessionID},
		)
	}
	return result, nil
}

// ListPending returns the session's pending requests for its managers.
func (s *JoinRequestService) ListPending(ctx context.Context, sessionID string, actor *models.JWTClaims) ([]models.JoinRequestDetail, error) {
	authority := sessionAuthority{sessions: s.sessions, identities: s.identities}
	if _, _, err := authority.managed(ctx, sessionID, actor); err != nil {
		return nil, err
	}
	items, err := s.requests.ListPending(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list join requests")
	}
	return items, nil
}

// ListMine returns every request the actor filed.
func (s *JoinRequestService) ListMine(ctx context.Context, actor *models.JWTClaims) ([]models.JoinRequestDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	items, err := s.requests.ListByUser(ctx, actor.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list join requests")
	}
	return items, nil
}
