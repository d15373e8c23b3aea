package models

import "time"

// SessionEnrollment records that a student was admitted through a specific session.
// Only active rows count toward the session's capacity.
type SessionEnrollment struct {
	ID            string     `db:"id" json:"id"`
	StudentID     string     `db:"student_id" json:"student_id"`
	SessionID     string     `db:"session_id" json:"session_id"`
	IsActive      bool       `db:"is_active" json:"is_active"`
	EnrolledAt    time.Time  `db:"enrolled_at" json:"enrolled_at"`
	DeactivatedAt *time.Time `db:"deactivated_at" json:"deactivated_at,omitempty"`
}

// RosterEntry is an enrollment joined with the student's identity for roster views.
type RosterEntry struct {
	SessionEnrollment
	StudentUniqueID string `db:"student_unique_id" json:"student_unique_id"`
	StudentName     string `db:"student_name" json:"student_name"`
	StudentEmail    string `db:"student_email" json:"student_email"`
}
