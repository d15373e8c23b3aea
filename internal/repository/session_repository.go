package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-admission-api/internal/models"
)

// SessionRepository persists classroom sessions and opens admission transactions.
type SessionRepository struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewSessionRepository constructs the repository. lockTimeout bounds row lock waits
// inside WithinAdmissionTx; zero keeps the server default.
func NewSessionRepository(db *sqlx.DB, lockTimeout time.Duration) *SessionRepository {
	return &SessionRepository{db: db, lockTimeout: lockTimeout}
}

// Create inserts a session. A colliding session_code surfaces as ErrUniqueViolation.
func (r *SessionRepository) Create(ctx context.Context, session *models.ClassroomSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = session.CreatedAt
	if session.Status == "" {
		session.Status = models.SessionStatusActive
	}

	query := `INSERT INTO classroom_sessions (` + sessionColumns + `)
VALUES (:id, :session_code, :organization_id, :teacher_id, :target_standard_id, :title, :purpose, :student_limit, :expires_at, :status, :closed_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return translate("create classroom session", err)
	}
	return nil
}

// FindByID returns a session by identifier.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.ClassroomSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM classroom_sessions WHERE id = $1`
	var session models.ClassroomSession
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find classroom session: %w", err)
	}
	return &session, nil
}

// FindByCode returns a session by its public join code.
func (r *SessionRepository) FindByCode(ctx context.Context, code string) (*models.ClassroomSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM classroom_sessions WHERE session_code = $1`
	var session models.ClassroomSession
	if err := r.db.GetContext(ctx, &session, query, code); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find classroom session by code: %w", err)
	}
	return &session, nil
}

// List returns sessions visible under the filter with their active occupancy.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.SessionSummary, int, error) {
	base := strings.Builder{}
	base.WriteString(`
FROM classroom_sessions s
LEFT JOIN standards st ON st.id = s.target_standard_id
LEFT JOIN teacher_profiles tp ON tp.id = s.teacher_id
LEFT JOIN users tu ON tu.id = tp.user_id
WHERE 1=1`)

	var args []interface{}
	if len(filter.OrganizationIDs) > 0 || filter.TeacherID != "" {
		var scopes []string
		if len(filter.OrganizationIDs) > 0 {
			args = append(args, pq.Array(filter.OrganizationIDs))
			scopes = append(scopes, fmt.Sprintf("s.organization_id = ANY($%d)", len(args)))
		}
		if filter.TeacherID != "" {
			args = append(args, filter.TeacherID)
			scopes = append(scopes, fmt.Sprintf("s.teacher_id = $%d", len(args)))
		}
		fmt.Fprintf(&base, " AND (%s)", strings.Join(scopes, " OR "))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		fmt.Fprintf(&base, " AND s.status = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		fmt.Fprintf(&base, " AND (LOWER(s.title) LIKE $%d OR LOWER(s.session_code) LIKE $%d)", len(args), len(args))
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base.String(), args...); err != nil {
		return nil, 0, fmt.Errorf("count classroom sessions: %w", err)
	}

	page, size := clampPage(filter.Page, filter.PageSize)
	listArgs := append(append([]interface{}{}, args...), size, (page-1)*size)
	query := fmt.Sprintf(`
SELECT s.id, s.session_code, s.organization_id, s.teacher_id, s.target_standard_id, s.title, s.purpose,
	s.student_limit, s.expires_at, s.status, s.closed_at, s.created_at, s.updated_at,
	CASE WHEN st.id IS NULL THEN NULL ELSE st.name || COALESCE('-' || st.section, '') END AS standard_name,
	tu.full_name AS teacher_name,
	(SELECT COUNT(*) FROM session_enrollments e WHERE e.session_id = s.id AND e.is_active = TRUE) AS occupancy
%s
ORDER BY s.created_at DESC
LIMIT $%d OFFSET $%d`, base.String(), len(args)+1, len(args)+2)

	var sessions []models.SessionSummary
	if err := r.db.SelectContext(ctx, &sessions, query, listArgs...); err != nil {
		return nil, 0, fmt.Errorf("list classroom sessions: %w", err)
	}
	return sessions, total, nil
}

// ListStale returns ids of sessions whose stored status still claims they are
// joinable after expiry.
func (r *SessionRepository) ListStale(ctx context.Context, now time.Time, limit int) ([]string, error) {
	const query = `SELECT id FROM classroom_sessions WHERE status IN ('ACTIVE', 'FULL') AND expires_at <= $1 ORDER BY expires_at ASC LIMIT $2`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, now, limit); err != nil {
		return nil, fmt.Errorf("list stale classroom sessions: %w", err)
	}
	return ids, nil
}

// DeleteExpiredBefore purges sessions that expired or were closed before cutoff.
// Requests and enrollments cascade.
func (r *SessionRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM classroom_sessions WHERE expires_at < $1 OR closed_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired classroom sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleted sessions rows affected: %w", err)
	}
	return affected, nil
}

// Ping verifies the database connection for readiness probes.
func (r *SessionRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func clampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}
