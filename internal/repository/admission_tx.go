package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-admission-api/internal/models"
)

// AdmissionTx is the unit of work used by every mutation that depends on a
// session's capacity or lifecycle. Implementations hold the session row lock
// from LockSession until the surrounding transaction ends.
type AdmissionTx interface {
	LockSession(ctx context.Context, sessionID string) (*models.ClassroomSession, error)
	LockJoinRequest(ctx context.Context, sessionID, requestID string) (*models.JoinRequest, error)
	CountActiveEnrollments(ctx context.Context, sessionID string) (int, error)
	UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, closedAt *time.Time, at time.Time) error
	MarkJoinRequest(ctx context.Context, requestID string, status models.JoinRequestStatus, reviewerID string, at time.Time) error
	RejectPendingRequests(ctx context.Context, sessionID, reviewerID string, at time.Time) (int64, error)

	FindOrganization(ctx context.Context, organizationID string) (*models.Organization, error)
	FindStudentProfile(ctx context.Context, userID string) (*models.StudentProfile, error)
	GetOrCreateStudentProfile(ctx context.Context, defaults *models.StudentProfile) (*models.StudentProfile, bool, error)
	SaveStudentProfile(ctx context.Context, profile *models.StudentProfile) error
	GetOrCreateTeacherProfile(ctx context.Context, defaults *models.TeacherProfile) (*models.TeacherProfile, bool, error)
	SaveTeacherProfile(ctx context.Context, profile *models.TeacherProfile) error

	FindEnrollment(ctx context.Context, studentID, sessionID string) (*models.SessionEnrollment, error)
	LockEnrollment(ctx context.Context, sessionID, enrollmentID string) (*models.SessionEnrollment, error)
	CreateEnrollment(ctx context.Context, enrollment *models.SessionEnrollment) error
	ReactivateEnrollment(ctx context.Context, enrollmentID string, at time.Time) error
	DeactivateEnrollment(ctx context.Context, enrollmentID string, at time.Time) error
}

const (
	sessionColumns     = `id, session_code, organization_id, teacher_id, target_standard_id, title, purpose, student_limit, expires_at, status, closed_at, created_at, updated_at`
	joinRequestColumns = `id, session_id, user_id, status, reviewed_at, reviewed_by, created_at, updated_at`
	studentColumns     = `id, user_id, organization_id, student_unique_id, current_standard_id, is_active, created_at, updated_at`
	teacherColumns     = `id, user_id, organization_id, is_active, is_verified, created_at, updated_at`
	enrollmentColumns  = `id, student_id, session_id, is_active, enrolled_at, deactivated_at`
)

type sqlAdmissionTx struct {
	tx *sqlx.Tx
}

// WithinAdmissionTx runs fn in a transaction whose lock waits are bounded by lockTimeout.
// fn's error rolls everything back; a nil error commits.
func (r *SessionRepository) WithinAdmissionTx(ctx context.Context, fn func(AdmissionTx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin admission transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if r.lockTimeout > 0 {
		// SET does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err = fn(&sqlAdmissionTx{tx: tx}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return translate("commit admission transaction", err)
	}
	return nil
}

func (t *sqlAdmissionTx) LockSession(ctx context.Context, sessionID string) (*models.ClassroomSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM classroom_sessions WHERE id = $1 FOR UPDATE`
	var session models.ClassroomSession
	if err := t.tx.GetContext(ctx, &session, query, sessionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, translate("lock classroom session", err)
	}
	return &session, nil
}

func (t *sqlAdmissionTx) LockJoinRequest(ctx context.Context, sessionID, requestID string) (*models.JoinRequest, error) {
	query := `SELECT ` + joinRequestColumns + ` FROM join_requests WHERE id = $1 AND session_id = $2 FOR UPDATE`
	var req models.JoinRequest
	if err := t.tx.GetContext(ctx, &req, query, requestID, sessionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, translate("lock join request", err)
	}
	return &req, nil
}

func (t *sqlAdmissionTx) CountActiveEnrollments(ctx context.Context, sessionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM session_enrollments WHERE session_id = $1 AND is_active = TRUE`
	var count int
	if err := t.tx.GetContext(ctx, &count, query, sessionID); err != nil {
		return 0, translate("count active enrollments", err)
	}
	return count, nil
}

func (t *sqlAdmissionTx) UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, closedAt *time.Time, at time.Time) error {
	const query = `UPDATE classroom_sessions SET status = $2, closed_at = COALESCE($3, closed_at), updated_at = $4 WHERE id = $1`
	if _, err := t.tx.ExecContext(ctx, query, sessionID, status, closedAt, at); err != nil {
		return translate("update session status", err)
	}
	return nil
}

func (t *sqlAdmissionTx) MarkJoinRequest(ctx context.Context, requestID string, status models.JoinRequestStatus, reviewerID string, at time.Time) error {
	const query = `UPDATE join_requests SET status = $2, reviewed_at = $3, reviewed_by = $4, updated_at = $3 WHERE id = $1`
	if _, err := t.tx.ExecContext(ctx, query, requestID, status, at, nullable(reviewerID)); err != nil {
		return translate("update join request", err)
	}
	return nil
}

func (t *sqlAdmissionTx) RejectPendingRequests(ctx context.Context, sessionID, reviewerID string, at time.Time) (int64, error) {
	const query = `UPDATE join_requests SET status = 'REJECTED', reviewed_at = $2, reviewed_by = $3, updated_at = $2 WHERE session_id = $1 AND status = 'PENDING'`
	res, err := t.tx.ExecContext(ctx, query, sessionID, at, nullable(reviewerID))
	if err != nil {
		return 0, translate("reject pending join requests", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rejected rows affected: %w", err)
	}
	return affected, nil
}

func (t *sqlAdmissionTx) FindOrganization(ctx context.Context, organizationID string) (*models.Organization, error) {
	const query = `SELECT id, name, is_active FROM organizations WHERE id = $1`
	var org models.Organization
	if err := t.tx.GetContext(ctx, &org, query, organizationID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, translate("find organization", err)
	}
	return &org, nil
}

func (t *sqlAdmissionTx) FindStudentProfile(ctx context.Context, userID string) (*models.StudentProfile, error) {
	query := `SELECT ` + studentColumns + ` FROM student_profiles WHERE user_id = $1 FOR UPDATE`
	var profile models.StudentProfile
	if err := t.tx.GetContext(ctx, &profile, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, translate("find student profile", err)
	}
	return &profile, nil
}

// GetOrCreateStudentProfile inserts defaults unless the user already has a profile, then
// returns the locked row. The bool reports whether the row was created. When the
// insert is skipped because defaults.StudentUniqueID is taken by another user the
// result is ErrUniqueViolation and the transaction stays usable for a retry.
func (t *sqlAdmissionTx) GetOrCreateStudentProfile(ctx context.Context, defaults *models.StudentProfile) (*models.StudentProfile, bool, error) {
	if defaults.ID == "" {
		defaults.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if defaults.CreatedAt.IsZero() {
		defaults.CreatedAt = now
	}
	defaults.UpdatedAt = defaults.CreatedAt

	insert := `INSERT INTO student_profiles (` + studentColumns + `)
VALUES (:id, :user_id, :organization_id, :student_unique_id, :current_standard_id, :is_active, :created_at, :updated_at)
ON CONFLICT DO NOTHING`
	res, err := t.tx.NamedExecContext(ctx, insert, defaults)
	if err != nil {
		return nil, false, translate("create student profile", err)
	}
	created, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("student profile rows affected: %w", err)
	}

	profile, err := t.FindStudentProfile(ctx, defaults.UserID)
	if errors.Is(err, sql.ErrNoRows) && created == 0 {
		return nil, false, fmt.Errorf("student unique id %s: %w", defaults.StudentUniqueID, ErrUniqueViolation)
	}
	if err != nil {
		return nil, false, err
	}
	return profile, created == 1, nil
}

func (t *sqlAdmissionTx) SaveStudentProfile(ctx context.Context, profile *models.StudentProfile) error {
	const query = `UPDATE student_profiles SET organization_id = :organization_id, current_standard_id = :current_standard_id, is_active = :is_active, updated_at = :updated_at WHERE id = :id`
	if _, err := t.tx.NamedExecContext(ctx, query, profile); err != nil {
		return translate("save student profile", err)
	}
	return nil
}

func (t *sqlAdmissionTx) GetOrCreateTeacherProfile(ctx context.Context, defaults *models.TeacherProfile) (*models.TeacherProfile, bool, error) {
	if defaults.ID == "" {
		defaults.ID = uuid.NewString()
	}
	if defaults.CreatedAt.IsZero() {
		defaults.CreatedAt = time.Now().UTC()
	}
	defaults.UpdatedAt = defaults.CreatedAt

	insert := `INSERT INTO teacher_profiles (` + teacherColumns + `)
VALUES (:id, :user_id, :organization_id, :is_active, :is_verified, :created_at, :updated_at)
ON CONFLICT (user_id) DO NOTHING`
	res, err := t.tx.NamedExecContext(ctx, insert, defaults)
	if err != nil {
		return nil, false, translate("create teacher profile", err)
	}
	created, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("teacher profile rows affected: %w", err)
	}

	query := `SELECT ` + teacherColumns + ` FROM teacher_profiles WHERE user_id = $1 FOR UPDATE`
	var profile models.TeacherProfile
	if err := t.tx.GetContext(ctx, &profile, query, defaults.UserID); err != nil {
		return nil, false, translate("find teacher profile", err)
	}
	return &profile, created == 1, nil
}

func (t *sqlAdmissionTx) SaveTeacherProfile(ctx context.Context, profile *models.TeacherProfile) error {
	const query = `UPDATE teacher_profiles SET organization_id = :organization_id, is_active = :is_active, is_verified = :is_verified, updated_at = :updated_at WHERE id = :id`
	if _, err := t.tx.NamedExecContext(ctx, query, profile); err != nil {
		return translate("save teacher profile", err)
	}
	return nil
}

func (t *sqlAdmissionTx) FindEnrollment(ctx context.Context, studentID, sessionID string) (*models.SessionEnrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM session_enrollments WHERE student_id = $1 AND session_id = $2 FOR UPDATE`
	var enrollment models.SessionEnrollment
	if err := t.tx.GetContext(ctx, &enrollment, query, studentID, sessionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, translate("find enrollment", err)
	}
	return &enrollment, nil
}

func (t *sqlAdmissionTx) LockEnrollment(ctx context.Context, sessionID, enrollmentID string) (*models.SessionEnrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM session_enrollments WHERE id = $1 AND session_id = $2 FOR UPDATE`
	var enrollment models.SessionEnrollment
	if err := t.tx.GetContext(ctx, &enrollment, query, enrollmentID, sessionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, translate("lock enrollment", err)
	}
	return &enrollment, nil
}

func (t *sqlAdmissionTx) CreateEnrollment(ctx context.Context, enrollment *models.SessionEnrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	query := `INSERT INTO session_enrollments (` + enrollmentColumns + `) VALUES (:id, :student_id, :session_id, :is_active, :enrolled_at, :deactivated_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, enrollment); err != nil {
		return translate("create enrollment", err)
	}
	return nil
}

func (t *sqlAdmissionTx) ReactivateEnrollment(ctx context.Context, enrollmentID string, at time.Time) error {
	const query = `UPDATE session_enrollments SET is_active = TRUE, enrolled_at = $2, deactivated_at = NULL WHERE id = $1`
	if _, err := t.tx.ExecContext(ctx, query, enrollmentID, at); err != nil {
		return translate("reactivate enrollment", err)
	}
	return nil
}

func (t *sqlAdmissionTx) DeactivateEnrollment(ctx context.Context, enrollmentID string, at time.Time) error {
	const query = `UPDATE session_enrollments SET is_active = FALSE, deactivated_at = $2 WHERE id = $1`
	if _, err := t.tx.ExecContext(ctx, query, enrollmentID, at); err != nil {
		return translate("deactivate enrollment", err)
	}
	return nil
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
