package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-admission-api/internal/models"
)

// EnrollmentRepository serves read-side enrollment queries. Writes happen inside
// AdmissionTx.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// CountActive returns the session's occupancy. Results are advisory outside a lock.
func (r *EnrollmentRepository) CountActive(ctx context.Context, sessionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM session_enrollments WHERE session_id = $1 AND is_active = TRUE`
	var count int
	if err := r.db.GetContext(ctx, &count, query, sessionID); err != nil {
		return 0, fmt.Errorf("count active enrollments: %w", err)
	}
	return count, nil
}

// ListRoster returns the session's enrollments with student identity.
func (r *EnrollmentRepository) ListRoster(ctx context.Context, sessionID string, activeOnly bool) ([]models.RosterEntry, error) {
	query := `
SELECT e.id, e.student_id, e.session_id, e.is_active, e.enrolled_at, e.deactivated_at,
	sp.student_unique_id,
	u.full_name AS student_name,
	u.email AS student_email
FROM session_enrollments e
JOIN student_profiles sp ON sp.id = e.student_id
JOIN users u ON u.id = sp.user_id
WHERE e.session_id = $1`
	if activeOnly {
		query += " AND e.is_active = TRUE"
	}
	query += "\nORDER BY e.enrolled_at ASC"

	var entries []models.RosterEntry
	if err := r.db.SelectContext(ctx, &entries, query, sessionID); err != nil {
		return nil, fmt.Errorf("list session roster: %w", err)
	}
	return entries, nil
}
