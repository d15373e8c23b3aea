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

// JoinRequestRepository persists join requests outside the admission lock.
type JoinRequestRepository struct {
	db *sqlx.DB
}

// NewJoinRequestRepository constructs the repository.
func NewJoinRequestRepository(db *sqlx.DB) *JoinRequestRepository {
	return &JoinRequestRepository{db: db}
}

// Create inserts a PENDING request. A second request for the same (session, user)
// surfaces as ErrUniqueViolation.
func (r *JoinRequestRepository) Create(ctx context.Context, req *models.JoinRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.UpdatedAt = req.CreatedAt
	if req.Status == "" {
		req.Status = models.JoinRequestPending
	}

	query := `INSERT INTO join_requests (` + joinRequestColumns + `)
VALUES (:id, :session_id, :user_id, :status, :reviewed_at, :reviewed_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return translate("create join request", err)
	}
	return nil
}

// FindBySessionAndUser returns the request a user filed for a session.
func (r *JoinRequestRepository) FindBySessionAndUser(ctx context.Context, sessionID, userID string) (*models.JoinRequest, error) {
	query := `SELECT ` + joinRequestColumns + ` FROM join_requests WHERE session_id = $1 AND user_id = $2`
	var req models.JoinRequest
	if err := r.db.GetContext(ctx, &req, query, sessionID, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find join request by session and user: %w", err)
	}
	return &req, nil
}

// FindInSession returns a request only when it belongs to the session.
func (r *JoinRequestRepository) FindInSession(ctx context.Context, sessionID, requestID string) (*models.JoinRequest, error) {
	query := `SELECT ` + joinRequestColumns + ` FROM join_requests WHERE id = $1 AND session_id = $2`
	var req models.JoinRequest
	if err := r.db.GetContext(ctx, &req, query, requestID, sessionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find join request: %w", err)
	}
	return &req, nil
}

// ListPending returns the session's PENDING requests, oldest first.
func (r *JoinRequestRepository) ListPending(ctx context.Context, sessionID string) ([]models.JoinRequestDetail, error) {
	const query = `
SELECT jr.id, jr.session_id, jr.user_id, jr.status, jr.reviewed_at, jr.reviewed_by, jr.created_at, jr.updated_at,
	u.full_name AS applicant_name,
	s.session_code,
	ctu.full_name AS class_teacher
FROM join_requests jr
JOIN users u ON u.id = jr.user_id
JOIN classroom_sessions s ON s.id = jr.session_id
LEFT JOIN standards st ON st.id = s.target_standard_id
LEFT JOIN teacher_profiles ct ON ct.id = st.class_teacher_id
LEFT JOIN users ctu ON ctu.id = ct.user_id
WHERE jr.session_id = $1 AND jr.status = 'PENDING'
ORDER BY jr.created_at ASC`
	var items []models.JoinRequestDetail
	if err := r.db.SelectContext(ctx, &items, query, sessionID); err != nil {
		return nil, fmt.Errorf("list pending join requests: %w", err)
	}
	return items, nil
}

// ListByUser returns every request the user filed, newest first.
func (r *JoinRequestRepository) ListByUser(ctx context.Context, userID string) ([]models.JoinRequestDetail, error) {
	const query = `
SELECT jr.id, jr.session_id, jr.user_id, jr.status, jr.reviewed_at, jr.reviewed_by, jr.created_at, jr.updated_at,
	u.full_name AS applicant_name,
	s.session_code,
	ctu.full_name AS class_teacher
FROM join_requests jr
JOIN users u ON u.id = jr.user_id
JOIN classroom_sessions s ON s.id = jr.session_id
LEFT JOIN standards st ON st.id = s.target_standard_id
LEFT JOIN teacher_profiles ct ON ct.id = st.class_teacher_id
LEFT JOIN users ctu ON ctu.id = ct.user_id
WHERE jr.user_id = $1
ORDER BY jr.created_at DESC`
	var items []models.JoinRequestDetail
	if err := r.db.SelectContext(ctx, &items, query, userID); err != nil {
		return nil, fmt.Errorf("list join requests by user: %w", err)
	}
	return items, nil
}
