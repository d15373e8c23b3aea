package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-admission-api/internal/dto"
	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/internal/repository"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
	"github.com/noah-isme/sma-admission-api/pkg/export"
)

const defaultStudentLimit = 50

type sessionStore interface {
	Create(ctx context.Context, session *models.ClassroomSession) error
	FindByID(ctx context.Context, id string) (*models.ClassroomSession, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.SessionSummary, int, error)
	WithinAdmissionTx(ctx context.Context, fn func(repository.AdmissionTx) error) error
}

type standardFinder interface {
	FindByID(ctx context.Context, id string) (*models.Standard, error)
}

type rosterReader interface {
	CountActive(ctx context.Context, sessionID string) (int, error)
	ListRoster(ctx context.Context, sessionID string, activeOnly bool) ([]models.RosterEntry, error)
}

// CloseResult reports the outcome of closing a session.
type CloseResult struct {
	Session          *models.ClassroomSession `json:"session"`
	RejectedRequests int64                    `json:"rejected_requests"`
	AlreadyClosed    bool                     `json:"already_closed"`
}

// SessionService owns session creation, reads and manager actions other than accept.
type SessionService struct {
	sessions   sessionStore
	standards  standardFinder
	roster     rosterReader
	identities identityResolver
	lifecycle  *SessionLifecycle
	audit      auditTrail
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewSessionService constructs the service.
func NewSessionService(
	sessions sessionStore,
	standards standardFinder,
	roster rosterReader,
	identities identityResolver,
	lifecycle *SessionLifecycle,
	audit auditLogger,
	validate *validator.Validate,
	logger *zap.Logger,
) *SessionService {
	if lifecycle == nil {
		lifecycle = NewSessionLifecycle(nil, 0, "")
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		sessions:   sessions,
		standards:  standards,
		roster:     roster,
		identities: identities,
		lifecycle:  lifecycle,
		audit:      auditTrail{store: audit, logger: logger, source: "session-service"},
		validator:  validate,
		logger:     logger,
	}
}

// Create validates the owner's authority over the target standard or organization
// and opens an ACTIVE session.
func (s *SessionService) Create(ctx context.Context, req dto.CreateSessionRequest, actor *models.JWTClaims) (*dto.SessionView, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	identity, err := s.identities.Resolve(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	purpose := req.Purpose
	if purpose == "" {
		purpose = models.PurposeStudentAdmission
	}
	limit := defaultStudentLimit
	if req.StudentLimit != nil {
		if *req.StudentLimit <= 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "student_limit must be positive")
		}
		limit = *req.StudentLimit
	}
	now := s.lifecycle.Now()
	expiresAt, err := s.lifecycle.ResolveExpiry(req.ExpiresAt, now)
	if err != nil {
		return nil, err
	}

	var standard *models.Standard
	if req.StandardID != nil && *req.StandardID != "" {
		standard, err = s.standards.FindByID(ctx, *req.StandardID)
		if err != nil {
			return nil, notFoundOrInternal(err, "standard not found", "failed to load standard")
		}
	}
	if purpose == models.PurposeStudentAdmission && standard == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "standardId is required for student admission sessions")
	}

	session := &models.ClassroomSession{
		Title:        req.Title,
		Purpose:      purpose,
		StudentLimit: limit,
		ExpiresAt:    expiresAt,
		Status:       models.SessionStatusActive,
		CreatedAt:    now,
	}
	if standard != nil {
		session.TargetStandardID = &standard.ID
	}
	if err := s.assignOwnership(identity, session, standard, req.OrganizationID); err != nil {
		return nil, err
	}

	if err := s.lifecycle.CreateWithCode(ctx, session, s.sessions.Create); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}

	s.audit.record(ctx, actor.UserID, models.AuditActionSessionCreate, sessionResource, session.ID, nil, map[string]interface{}{
		"code":         session.Code,
		"purpose":      session.Purpose,
		"studentLimit": session.StudentLimit,
		"expiresAt":    session.ExpiresAt,
	})
	s.logger.Info("classroom session created", zap.String("session_id", session.ID), zap.String("code", session.Code))

	view := s.view(session, 0, nil, nil)
	return &view, nil
}

// assignOwnership sets organization and owning teacher or rejects the actor.
func (s *SessionService) assignOwnership(identity *models.Identity, session *models.ClassroomSession, standard *models.Standard, requestedOrg *string) error {
	switch {
	case identity.SuperAdmin():
		if standard != nil {
			session.OrganizationID = &standard.OrganizationID
		} else if requestedOrg != nil && *requestedOrg != "" {
			session.OrganizationID = requestedOrg
		}
		return nil

	case identity.Kind == models.ProfileSchoolAdmin:
		if standard != nil {
			if !identity.AdministersOrganization(&standard.OrganizationID) {
				return appErrors.Clone(appErrors.ErrForbidden, "standard belongs to another organization")
			}
			session.OrganizationID = &standard.OrganizationID
			return nil
		}
		switch {
		case requestedOrg != nil && *requestedOrg != "":
			if !identity.AdministersOrganization(requestedOrg) {
				return appErrors.Clone(appErrors.ErrForbidden, "not an administrator of this organization")
			}
			session.OrganizationID = requestedOrg
		case len(identity.AdminOrganizationIDs) == 1:
			org := identity.AdminOrganizationIDs[0]
			session.OrganizationID = &org
		default:
			return appErrors.Clone(appErrors.ErrValidation, "organizationId is required")
		}
		return nil

	case identity.Kind == models.ProfileTeacher:
		if session.Purpose == models.PurposeTeacherRecruitment {
			return appErrors.Clone(appErrors.ErrForbidden, "only school administrators can open recruitment sessions")
		}
		if standard.ClassTeacherID == nil || *standard.ClassTeacherID != identity.TeacherID {
			return appErrors.Clone(appErrors.ErrForbidden, "only the class teacher can open sessions for this standard")
		}
		teacherID := identity.TeacherID
		session.TeacherID = &teacherID
		session.OrganizationID = &standard.OrganizationID
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only teachers and administrators can create sessions")
}

// List returns the sessions the actor manages, newest first.
func (s *SessionService) List(ctx context.Context, query dto.SessionListQuery, actor *models.JWTClaims) ([]dto.SessionView, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	identity, err := s.identities.Resolve(ctx, actor.UserID)
	if err != nil {
		return nil, nil, err
	}

	filter := models.SessionFilter{Status: query.Status, Search: query.Search, Page: query.Page, PageSize: query.PageSize}
	switch {
	case identity.SuperAdmin():
	case identity.Kind == models.ProfileSchoolAdmin:
		filter.OrganizationIDs = identity.AdminOrganizationIDs
		filter.TeacherID = identity.TeacherID
	case identity.Kind == models.ProfileTeacher:
		filter.TeacherID = identity.TeacherID
	default:
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers and administrators can list sessions")
	}

	items, total, err := s.sessions.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	views := make([]dto.SessionView, 0, len(items))
	for i := range items {
		views = append(views, s.view(&items[i].ClassroomSession, items[i].Occupancy, items[i].StandardName, items[i].TeacherName))
	}

	page, size := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return views, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a session with live occupancy and joinability.
func (s *SessionService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*dto.SessionView, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOrInternal(err, "session not found", "failed to load session")
	}
	occupancy, err := s.roster.CountActive(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute occupancy")
	}
	view := s.view(session, occupancy, nil, nil)
	return &view, nil
}

// Close marks the session CLOSED and rejects every pending request in one transaction.
func (s *SessionService) Close(ctx context.Context, sessionID string, actor *models.JWTClaims) (*CloseResult, error) {
	authority := sessionAuthority{sessions: s.sessions, identities: s.identities}
	if _, _, err := authority.managed(ctx, sessionID, actor); err != nil {
		return nil, err
	}

	result := &CloseResult{}
	err := s.sessions.WithinAdmissionTx(ctx, func(tx repository.AdmissionTx) error {
		session, err := tx.LockSession(ctx, sessionID)
		if err != nil {
			return err
		}
		result.Session = session
		if session.Closed() || session.Status == models.SessionStatusClosed {
			result.AlreadyClosed = true
			return nil
		}

		now := s.lifecycle.Now()
		if err := tx.UpdateSessionStatus(ctx, sessionID, models.SessionStatusClosed, &now, now); err != nil {
			return err
		}
		rejected, err := tx.RejectPendingRequests(ctx, sessionID, actor.UserID, now)
		if err != nil {
			return err
		}
		session.Status = models.SessionStatusClosed
		session.ClosedAt = &now
		session.UpdatedAt = now
		result.RejectedRequests = rejected
		return nil
	})
	if err != nil {
		return nil, translateTxError(err, "failed to close session")
	}

	if !result.AlreadyClosed {
		s.audit.record(ctx, actor.UserID, models.AuditActionSessionClose, sessionResource, sessionID, nil, map[string]interface{}{
			"status":           models.SessionStatusClosed,
			"rejectedRequests": result.RejectedRequests,
		})
	}
	return result, nil
}

// RevokeEnrollment soft-deactivates an enrollment, freeing its seat.
func (s *SessionService) RevokeEnrollment(ctx context.Context, sessionID, enrollmentID string, actor *models.JWTClaims) (*models.SessionEnrollment, error) {
	authority := sessionAuthority{sessions: s.sessions, identities: s.identities}
	if _, _, err := authority.managed(ctx, sessionID, actor); err != nil {
		return nil, err
	}

	var (
		enrollment *models.SessionEnrollment
		changed    bool
	)
	err := s.sessions.WithinAdmissionTx(ctx, func(tx repository.AdmissionTx) error {
		session, err := tx.LockSession(ctx, sessionID)
		if err != nil {
			return err
		}
		enrollment, err = tx.LockEnrollment(ctx, sessionID, enrollmentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
			}
			return err
		}
		if !enrollment.IsActive {
			return nil
		}
		now := s.lifecycle.Now()
		if err := tx.DeactivateEnrollment(ctx, enrollment.ID, now); err != nil {
			return err
		}
		enrollment.IsActive = false
		enrollment.DeactivatedAt = &now
		changed = true
		_, err = s.lifecycle.Sync(ctx, tx, session)
		return err
	})
	if err != nil {
		return nil, translateTxError(err, "failed to revoke enrollment")
	}

	if changed {
		s.audit.record(ctx, actor.UserID, models.AuditActionEnrollmentRevoke, enrollmentResource, enrollmentID,
			map[string]interface{}{"isActive": true},
			map[string]interface{}{"isActive": false, "sessionId": sessionID},
		)
	}
	return enrollment, nil
}

// ExportRoster renders the session's enrollments as CSV, PDF or XLSX.
func (s *SessionService) ExportRoster(ctx context.Context, sessionID string, query dto.RosterQuery, actor *models.JWTClaims) (*dto.RosterFile, error) {
	exporter, ok := export.ForFormat(query.Format)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be one of csv, pdf, xlsx")
	}
	authority := sessionAuthority{sessions: s.sessions, identities: s.identities}
	_, session, err := authority.managed(ctx, sessionID, actor)
	if err != nil {
		return nil, err
	}

	entries, err := s.roster.ListRoster(ctx, sessionID, query.ActiveOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}

	payload, err := exporter.Render(rosterDataset(session, entries))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}
	return &dto.RosterFile{
		Filename:    fmt.Sprintf("roster-%s.%s", session.Code, exporter.Extension()),
		ContentType: exporter.ContentType(),
		Payload:     payload,
	}, nil
}

func rosterDataset(session *models.ClassroomSession, entries []models.RosterEntry) export.Dataset {
	title := session.Title
	if title == "" {
		title = session.Code
	}
	data := export.Dataset{
		Title:   fmt.Sprintf("Roster %s", title),
		Headers: []string{"Student ID", "Name", "Email", "Enrolled At", "Status"},
	}
	for _, e := range entries {
		status := "ACTIVE"
		if !e.IsActive {
			status = "INACTIVE"
		}
		data.Rows = append(data.Rows, map[string]string{
			"Student ID":  e.StudentUniqueID,
			"Name":        e.StudentName,
			"Email":       e.StudentEmail,
			"Enrolled At": e.EnrolledAt.UTC().Format(time.RFC3339),
			"Status":      status,
		})
	}
	return data
}

func (s *SessionService) view(session *models.ClassroomSession, occupancy int, standardName, teacherName *string) dto.SessionView {
	status, joinable := s.lifecycle.View(session, occupancy)
	seats := session.StudentLimit - occupancy
	if seats < 0 {
		seats = 0
	}
	out := *session
	out.Status = status
	return dto.SessionView{
		ClassroomSession: out,
		StandardName:     standardName,
		TeacherName:      teacherName,
		Occupancy:        occupancy,
		SeatsRemaining:   seats,
		CanJoin:          joinable,
	}
}
