package models

import "time"

// SessionStatus is the lifecycle state of a classroom session.
type SessionStatus string

// Session statuses. EXPIRED and CLOSED are terminal for joinability.
const (
	SessionStatusActive  SessionStatus = "ACTIVE"
	SessionStatusFull    SessionStatus = "FULL"
	SessionStatusExpired SessionStatus = "EXPIRED"
	SessionStatusClosed  SessionStatus = "CLOSED"
)

// Terminal reports whether no further joins can ever happen in this status.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusExpired || s == SessionStatusClosed
}

// SessionPurpose selects what an accepted join request produces.
type SessionPurpose string

// Session purposes.
const (
	PurposeStudentAdmission   SessionPurpose = "STUDENT_ADMISSION"
	PurposeTeacherRecruitment SessionPurpose = "TEACHER_RECRUITMENT"
)

// Valid reports whether p is a known purpose.
func (p SessionPurpose) Valid() bool {
	return p == PurposeStudentAdmission || p == PurposeTeacherRecruitment
}

// ClassroomSession is a time-boxed, capacity-limited admission window.
type ClassroomSession struct {
	ID               string         `db:"id" json:"id"`
	Code             string         `db:"session_code" json:"session_code"`
	OrganizationID   *string        `db:"organization_id" json:"organization_id,omitempty"`
	TeacherID        *string        `db:"teacher_id" json:"teacher_id,omitempty"`
	TargetStandardID *string        `db:"target_standard_id" json:"target_standard_id,omitempty"`
	Title            string         `db:"title" json:"title"`
	Purpose          SessionPurpose `db:"purpose" json:"purpose"`
	StudentLimit     int            `db:"student_limit" json:"student_limit"`
	ExpiresAt        time.Time      `db:"expires_at" json:"expires_at"`
	Status           SessionStatus  `db:"status" json:"status"`
	ClosedAt         *time.Time     `db:"closed_at" json:"closed_at,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// Closed reports whether the session was explicitly closed.
func (s *ClassroomSession) Closed() bool {
	return s.ClosedAt != nil
}

// SessionSummary enriches a session with read-side occupancy and names for listings.
type SessionSummary struct {
	ClassroomSession
	StandardName *string `db:"standard_name" json:"standard_name,omitempty"`
	TeacherName  *string `db:"teacher_name" json:"teacher_name,omitempty"`
	Occupancy    int     `db:"occupancy" json:"current_student_count"`
}

// SessionFilter scopes session listings to what the actor may see.
type SessionFilter struct {
	OrganizationIDs []string
	TeacherID       string
	Status          SessionStatus
	Search          string
	Page            int
	PageSize        int
}
