package models

import "time"

// Standard is a grade/section within an organization, e.g. "Class 5" section "A".
type Standard struct {
	ID             string    `db:"id" json:"id"`
	OrganizationID string    `db:"organization_id" json:"organization_id"`
	Name           string    `db:"name" json:"name"`
	Section        string    `db:"section" json:"section"`
	ClassTeacherID *string   `db:"class_teacher_id" json:"class_teacher_id,omitempty"`
	Description    *string   `db:"description" json:"description,omitempty"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// DisplayName renders "Class 5-A" style labels.
func (s *Standard) DisplayName() string {
	if s == nil {
		return ""
	}
	if s.Section != "" {
		return s.Name + "-" + s.Section
	}
	return s.Name
}

// StandardDetail adds class teacher and active session count.
type StandardDetail struct {
	Standard
	TeacherName        *string `db:"teacher_name" json:"teacher_name,omitempty"`
	ActiveSessionCount int     `db:"active_session_count" json:"active_session_count"`
}

// Organization is the tenant (school) a session or standard belongs to.
type Organization struct {
	ID       string `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	IsActive bool   `db:"is_active" json:"is_active"`
}
