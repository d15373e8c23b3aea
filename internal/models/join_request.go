package models

import "time"

// JoinRequestStatus is the lifecycle state of a join request.
type JoinRequestStatus string

// Join request statuses.
const (
	JoinRequestPending  JoinRequestStatus = "PENDING"
	JoinRequestAccepted JoinRequestStatus = "ACCEPTED"
	JoinRequestRejected JoinRequestStatus = "REJECTED"
)

// JoinRequest is one user's application to one session.
type JoinRequest struct {
	ID         string            `db:"id" json:"id"`
	SessionID  string            `db:"session_id" json:"session_id"`
	UserID     string            `db:"user_id" json:"user_id"`
	Status     JoinRequestStatus `db:"status" json:"status"`
	ReviewedAt *time.Time        `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ReviewedBy *string           `db:"reviewed_by" json:"reviewed_by,omitempty"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time         `db:"updated_at" json:"updated_at"`
}

// JoinRequestDetail adds applicant and session context for listings.
type JoinRequestDetail struct {
	JoinRequest
	ApplicantName string  `db:"applicant_name" json:"applicant_name"`
	SessionCode   string  `db:"session_code" json:"session_code"`
	ClassTeacher  *string `db:"class_teacher" json:"class_teacher,omitempty"`
}
