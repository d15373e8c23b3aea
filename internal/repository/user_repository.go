package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-admission-api/internal/models"
)

// UserRepository reads the identity store: users, their profiles and organization
// memberships. It also records audit entries.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindIdentity returns the user joined with whichever profiles it has.
func (r *UserRepository) FindIdentity(ctx context.Context, userID string) (*models.IdentityRow, error) {
	const query = `
SELECT u.id AS user_id, u.full_name, u.role, u.active,
	sp.id AS student_id, sp.current_standard_id AS student_standard_id,
	tp.id AS teacher_id, tp.organization_id AS teacher_organization_id
FROM users u
LEFT JOIN student_profiles sp ON sp.user_id = u.id AND sp.is_active = TRUE
LEFT JOIN teacher_profiles tp ON tp.user_id = u.id AND tp.is_active = TRUE
WHERE u.id = $1`
	var row models.IdentityRow
	if err := r.db.GetContext(ctx, &row, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find identity: %w", err)
	}
	return &row, nil
}

// AdminOrganizationIDs lists the organizations the user administers.
func (r *UserRepository) AdminOrganizationIDs(ctx context.Context, userID string) ([]string, error) {
	const query = `SELECT organization_id FROM organization_admins WHERE user_id = $1 ORDER BY organization_id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, userID); err != nil {
		return nil, fmt.Errorf("list admin organizations: %w", err)
	}
	return ids, nil
}

// FindTeacherProfile returns a teacher profile by its id.
func (r *UserRepository) FindTeacherProfile(ctx context.Context, teacherID string) (*models.TeacherProfile, error) {
	query := `SELECT ` + teacherColumns + ` FROM teacher_profiles WHERE id = $1`
	var profile models.TeacherProfile
	if err := r.db.GetContext(ctx, &profile, query, teacherID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find teacher profile: %w", err)
	}
	return &profile, nil
}

// CreateAuditLog stores an audit log entry.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at) VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
