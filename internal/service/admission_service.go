package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/internal/repository"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
)

type admissionSessionStore interface {
	FindByID(ctx context.Context, id string) (*models.ClassroomSession, error)
	WithinAdmissionTx(ctx context.Context, fn func(repository.AdmissionTx) error) error
}

type joinRequestFinder interface {
	FindInSession(ctx context.Context, sessionID, requestID string) (*models.JoinRequest, error)
}

type identityResolver interface {
	Resolve(ctx context.Context, userID string) (*models.Identity, error)
}

// AcceptResult reports how an accepted request was applied.
type AcceptResult struct {
	Success       bool                 `json:"success"`
	Message       string               `json:"message"`
	Outcome       string               `json:"outcome"`
	RequestID     string               `json:"request_id"`
	SessionStatus models.SessionStatus `json:"session_status"`
	Occupancy     int                  `json:"current_student_count"`
}

const studentIDAttempts = 3

// AdmissionService is the only path that turns a PENDING request into membership.
// Every accept runs under the session's row lock.
type AdmissionService struct {
	sessions   admissionSessionStore
	requests   joinRequestFinder
	identities identityResolver
	lifecycle  *SessionLifecycle
	audit      auditTrail
	metrics    *MetricsService
	logger     *zap.Logger
}

// NewAdmissionService wires the coordinator.
func NewAdmissionService(
	sessions admissionSessionStore,
	requests joinRequestFinder,
	identities identityResolver,
	lifecycle *SessionLifecycle,
	audit auditLogger,
	metrics *MetricsService,
	logger *zap.Logger,
) *AdmissionService {
	if lifecycle == nil {
		lifecycle = NewSessionLifecycle(nil, 0, "")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdmissionService{
		sessions:   sessions,
		requests:   requests,
		identities: identities,
		lifecycle:  lifecycle,
		audit:      auditTrail{store: audit, logger: logger, source: "admission-service"},
		metrics:    metrics,
		logger:     logger,
	}
}

// Accept converts a PENDING join request into a student enrollment or a teacher recruitment.
func (s *AdmissionService) Accept(ctx context.Context, sessionID, requestID string, actor *models.JWTClaims) (*AcceptResult, error) {
	if requestID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "request_id is required")
	}
	authority := sessionAuthority{sessions: s.sessions, identities: s.identities}
	if _, _, err := authority.managed(ctx, sessionID, actor); err != nil {
		return nil, err
	}

	req, err := s.requests.FindInSession(ctx, sessionID, requestID)
	if err != nil {
		return nil, notFoundOrInternal(err, "join request not found", "failed to load join request")
	}
	if req.Status != models.JoinRequestPending {
		s.metrics.RecordAccept(OutcomeProcessed)
		return nil, alreadyProcessed(req.Status)
	}

	var result *AcceptResult
	err = s.sessions.WithinAdmissionTx(ctx, func(tx repository.AdmissionTx) error {
		var txErr error
		result, txErr = s.acceptLocked(ctx, tx, sessionID, requestID, actor.UserID)
		return txErr
	})
	if err != nil {
		err = translateTxError(err, "failed to accept join request")
		s.metrics.RecordAccept(acceptOutcome(err))
		s.logger.Info("join request accept failed",
			zap.String("session_id", sessionID),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.RecordAccept(result.Outcome)
	s.audit.record(ctx, actor.UserID, models.AuditActionJoinAccept, joinRequestResource, requestID,
		map[string]interface{}{"status": models.JoinRequestPending},
		map[string]interface{}{"status": models.JoinRequestAccepted, "outcome": result.Outcome, "sessionId": sessionID},
	)
	return result, nil
}

func (s *AdmissionService) acceptLocked(ctx context.Context, tx repository.AdmissionTx, sessionID, requestID, reviewerID string) (*AcceptResult, error) {
	lockStart := time.Now()
	session, err := tx.LockSession(ctx, sessionID)
	s.metrics.ObserveLockWait(time.Since(lockStart))
	if err != nil {
		return nil, err
	}

	occupancy, err := s.lifecycle.Sync(ctx, tx, session)
	if err != nil {
		return nil, err
	}

	req, err := tx.LockJoinRequest(ctx, sessionID, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "join request not found")
		}
		return nil, err
	}
	if req.Status != models.JoinRequestPending {
		return nil, alreadyProcessed(req.Status)
	}
	if !s.lifecycle.IsJoinable(session, occupancy) {
		return nil, notJoinable(session.Status)
	}

	now := s.lifecycle.Now()
	var outcome, message string
	switch session.Purpose {
	case models.PurposeTeacherRecruitment:
		if err := s.recruitTeacher(ctx, tx, session, req.UserID, now); err != nil {
			return nil, err
		}
		outcome, message = OutcomeRecruited, "teacher recruited into the organization"
	default:
		member, err := s.enrollStudent(ctx, tx, session, req.UserID, now)
		if err != nil {
			return nil, err
		}
		if member {
			outcome, message = OutcomeAlreadyMember, "user is already a member of this class"
		} else {
			outcome, message = OutcomeEnrolled, "student enrolled successfully"
		}
	}

	if err := tx.MarkJoinRequest(ctx, req.ID, models.JoinRequestAccepted, reviewerID, now); err != nil {
		return nil, err
	}

	occupancy, err = s.lifecycle.Sync(ctx, tx, session)
	if err != nil {
		return nil, err
	}

	return &AcceptResult{
		Success:       true,
		Message:       message,
		Outcome:       outcome,
		RequestID:     req.ID,
		SessionStatus: session.Status,
		Occupancy:     occupancy,
	}, nil
}

func (s *AdmissionService) recruitTeacher(ctx context.Context, tx repository.AdmissionTx, session *models.ClassroomSession, userID string, now time.Time) error {
	profile, created, err := tx.GetOrCreateTeacherProfile(ctx, &models.TeacherProfile{
		UserID:         userID,
		OrganizationID: session.OrganizationID,
		IsActive:       true,
		CreatedAt:      now,
	})
	if err != nil {
		return err
	}
	if created {
		return nil
	}
	profile.OrganizationID = session.OrganizationID
	profile.IsActive = true
	profile.UpdatedAt = now
	return tx.SaveTeacherProfile(ctx, profile)
}

// enrollStudent reports true when the user already belongs to the target standard,
// in which case nothing is written.
func (s *AdmissionService) enrollStudent(ctx context.Context, tx repository.AdmissionTx, session *models.ClassroomSession, userID string, now time.Time) (bool, error) {
	profile, err := tx.FindStudentProfile(ctx, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	if profile != nil && sameID(profile.CurrentStandardID, session.TargetStandardID) {
		return true, nil
	}

	if profile == nil {
		if profile, err = s.createStudent(ctx, tx, session, userID, now); err != nil {
			return false, err
		}
	}

	profile.CurrentStandardID = session.TargetStandardID
	if session.OrganizationID != nil {
		profile.OrganizationID = session.OrganizationID
	}
	profile.UpdatedAt = now
	if err := tx.SaveStudentProfile(ctx, profile); err != nil {
		return false, err
	}

	enrollment, err := tx.FindEnrollment(ctx, profile.ID, session.ID)
	switch {
	case err == nil && enrollment.IsActive:
		return false, appErrors.ErrAlreadyEnrolled
	case err == nil:
		return false, tx.ReactivateEnrollment(ctx, enrollment.ID, now)
	case !errors.Is(err, sql.ErrNoRows):
		return false, err
	}

	err = tx.CreateEnrollment(ctx, &models.SessionEnrollment{
		StudentID:  profile.ID,
		SessionID:  session.ID,
		IsActive:   true,
		EnrolledAt: now,
	})
	if errors.Is(err, repository.ErrUniqueViolation) {
		return false, appErrors.ErrAlreadyEnrolled
	}
	return false, err
}

// createStudent get-or-creates the student profile, drawing a fresh unique id when
// the generated one is already taken.
func (s *AdmissionService) createStudent(ctx context.Context, tx repository.AdmissionTx, session *models.ClassroomSession, userID string, now time.Time) (*models.StudentProfile, error) {
	var err error
	for attempt := 0; attempt < studentIDAttempts; attempt++ {
		var uniqueID string
		if uniqueID, err = s.studentUniqueID(ctx, tx, session.OrganizationID, now); err != nil {
			return nil, err
		}
		var profile *models.StudentProfile
		profile, _, err = tx.GetOrCreateStudentProfile(ctx, &models.StudentProfile{
			UserID:          userID,
			OrganizationID:  session.OrganizationID,
			StudentUniqueID: uniqueID,
			IsActive:        true,
			CreatedAt:       now,
		})
		if err == nil {
			return profile, nil
		}
		if !errors.Is(err, repository.ErrUniqueViolation) {
			return nil, err
		}
		s.logger.Warn("student unique id collision", zap.String("student_unique_id", uniqueID), zap.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("allocate student unique id after %d attempts: %w", studentIDAttempts, err)
}

// studentUniqueID renders YYYY-ORG-XXXXXX, ORG being the first three letters of the
// organization name.
func (s *AdmissionService) studentUniqueID(ctx context.Context, tx repository.AdmissionTx, organizationID *string, now time.Time) (string, error) {
	code := "GEN"
	if organizationID != nil {
		org, err := tx.FindOrganization(ctx, *organizationID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		if org != nil {
			code = orgCode(org.Name)
		}
	}
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("%d-%s-%s", now.Year(), code, suffix), nil
}

func orgCode(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			if b.Len() == 3 {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "GEN"
	}
	return b.String()
}

// translateTxError maps repository failures from inside an admission transaction
// onto the public error taxonomy.
func translateTxError(err error, message string) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, repository.ErrLockTimeout):
		return appErrors.Wrap(err, appErrors.ErrLockTimeout.Code, appErrors.ErrLockTimeout.Status, appErrors.ErrLockTimeout.Message)
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "session not found")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
	}
}

func acceptOutcome(err error) string {
	switch {
	case errors.Is(err, appErrors.ErrSessionNotJoinable):
		return OutcomeNotJoinable
	case errors.Is(err, appErrors.ErrAlreadyProcessed):
		return OutcomeProcessed
	case errors.Is(err, appErrors.ErrAlreadyEnrolled):
		return OutcomeConflict
	case errors.Is(err, appErrors.ErrLockTimeout):
		return OutcomeLockTimeout
	default:
		return OutcomeError
	}
}

func notJoinable(status models.SessionStatus) *appErrors.Error {
	return appErrors.Clone(appErrors.ErrSessionNotJoinable, fmt.Sprintf("session is not joinable (status %s)", status))
}

func alreadyProcessed(status models.JoinRequestStatus) *appErrors.Error {
	return appErrors.Clone(appErrors.ErrAlreadyProcessed, fmt.Sprintf("join request already %s", strings.ToLower(string(status))))
}

func notFoundOrInternal(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}
