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

const standardColumns = `id, organization_id, name, section, class_teacher_id, description, is_active, created_at, updated_at`

// StandardSpec names one standard to get-or-create.
type StandardSpec struct {
	Name        string
	Section     string
	Description *string
}

// StandardRepository persists standards (grade + section) per organization.
type StandardRepository struct {
	db *sqlx.DB
}

// NewStandardRepository constructs the repository.
func NewStandardRepository(db *sqlx.DB) *StandardRepository {
	return &StandardRepository{db: db}
}

// GetOrCreateMany ensures every spec exists for the organization and returns them in
// input order. The bool slice marks which rows were newly created.
func (r *StandardRepository) GetOrCreateMany(ctx context.Context, organizationID string, specs []StandardSpec) (standards []models.Standard, created []bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin standards transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	const insertQuery = `INSERT INTO standards (` + standardColumns + `)
VALUES ($1, $2, $3, $4, NULL, $5, TRUE, $6, $6)
ON CONFLICT (organization_id, name, section) DO NOTHING`
	selectQuery := `SELECT ` + standardColumns + ` FROM standards WHERE organization_id = $1 AND name = $2 AND section = $3`

	for _, spec := range specs {
		res, execErr := tx.ExecContext(ctx, insertQuery, uuid.NewString(), organizationID, spec.Name, spec.Section, spec.Description, now)
		if execErr != nil {
			err = translate("create standard", execErr)
			return nil, nil, err
		}
		affected, execErr := res.RowsAffected()
		if execErr != nil {
			err = fmt.Errorf("standard rows affected: %w", execErr)
			return nil, nil, err
		}

		var standard models.Standard
		if err = tx.GetContext(ctx, &standard, selectQuery, organizationID, spec.Name, spec.Section); err != nil {
			return nil, nil, fmt.Errorf("load standard: %w", err)
		}
		standards = append(standards, standard)
		created = append(created, affected == 1)
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit standards: %w", err)
	}
	return standards, created, nil
}

// FindByID returns a standard by identifier.
func (r *StandardRepository) FindByID(ctx context.Context, id string) (*models.Standard, error) {
	query := `SELECT ` + standardColumns + ` FROM standards WHERE id = $1`
	var standard models.Standard
	if err := r.db.GetContext(ctx, &standard, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find standard: %w", err)
	}
	return &standard, nil
}

// List returns standards in the given organizations, or those taught by teacherID.
// Empty scopes list every standard.
func (r *StandardRepository) List(ctx context.Context, organizationIDs []string, teacherID string) ([]models.StandardDetail, error) {
	query := strings.Builder{}
	query.WriteString(`
SELECT st.id, st.organization_id, st.name, st.section, st.class_teacher_id, st.description, st.is_active, st.created_at, st.updated_at,
	u.full_name AS teacher_name,
	(SELECT COUNT(*) FROM classroom_sessions s WHERE s.target_standard_id = st.id AND s.status = 'ACTIVE') AS active_session_count
FROM standards st
LEFT JOIN teacher_profiles tp ON tp.id = st.class_teacher_id
LEFT JOIN users u ON u.id = tp.user_id
WHERE st.is_active = TRUE`)

	var args []interface{}
	if len(organizationIDs) > 0 {
		args = append(args, pq.Array(organizationIDs))
		fmt.Fprintf(&query, " AND st.organization_id = ANY($%d)", len(args))
	}
	if teacherID != "" {
		args = append(args, teacherID)
		fmt.Fprintf(&query, " AND st.class_teacher_id = $%d", len(args))
	}
	query.WriteString("\nORDER BY st.name ASC, st.section ASC")

	var items []models.StandardDetail
	if err := r.db.SelectContext(ctx, &items, query.String(), args...); err != nil {
		return nil, fmt.Errorf("list standards: %w", err)
	}
	return items, nil
}

// AssignClassTeacher sets the class teacher of a standard.
func (r *StandardRepository) AssignClassTeacher(ctx context.Context, standardID, teacherID string, at time.Time) error {
	const query = `UPDATE standards SET class_teacher_id = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, standardID, teacherID, at)
	if err != nil {
		return fmt.Errorf("assign class teacher: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("assign class teacher rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
