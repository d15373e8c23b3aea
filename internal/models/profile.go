package models

import "time"

// ProfileKind is the single profile a user acts through for a request.
type ProfileKind string

// Profile kinds, resolved once per request.
const (
	ProfileNone        ProfileKind = "NONE"
	ProfileStudent     ProfileKind = "STUDENT"
	ProfileTeacher     ProfileKind = "TEACHER"
	ProfileSchoolAdmin ProfileKind = "SCHOOL_ADMIN"
)

// StudentProfile is the student-side profile of a user.
type StudentProfile struct {
	ID                string    `db:"id" json:"id"`
	UserID            string    `db:"user_id" json:"user_id"`
	OrganizationID    *string   `db:"organization_id" json:"organization_id,omitempty"`
	StudentUniqueID   string    `db:"student_unique_id" json:"student_unique_id"`
	CurrentStandardID *string   `db:"current_standard_id" json:"current_standard_id,omitempty"`
	IsActive          bool      `db:"is_active" json:"is_active"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// TeacherProfile is the teacher-side profile of a user.
type TeacherProfile struct {
	ID             string    `db:"id" json:"id"`
	UserID         string    `db:"user_id" json:"user_id"`
	OrganizationID *string   `db:"organization_id" json:"organization_id,omitempty"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	IsVerified     bool      `db:"is_verified" json:"is_verified"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Identity is the resolved view of a user: its role and the profile it acts through.
type Identity struct {
	UserID   string
	FullName string
	Role     UserRole
	Kind     ProfileKind

	StudentID         string
	StudentStandardID *string

	TeacherID             string
	TeacherOrganizationID *string

	AdminOrganizationIDs []string
}

// SuperAdmin reports platform-wide authority.
func (i *Identity) SuperAdmin() bool {
	return i != nil && i.Role == RoleSuperAdmin
}

// AdministersOrganization reports whether the identity is a school admin of orgID.
func (i *Identity) AdministersOrganization(orgID *string) bool {
	if i == nil || orgID == nil || i.Kind != ProfileSchoolAdmin {
		return false
	}
	for _, id := range i.AdminOrganizationIDs {
		if id == *orgID {
			return true
		}
	}
	return false
}

// IdentityRow is the flattened row the identity query returns; Kind is derived from it.
type IdentityRow struct {
	UserID                string   `db:"user_id"`
	FullName              string   `db:"full_name"`
	Role                  UserRole `db:"role"`
	Active                bool     `db:"active"`
	StudentID             *string  `db:"student_id"`
	StudentStandardID     *string  `db:"student_standard_id"`
	TeacherID             *string  `db:"teacher_id"`
	TeacherOrganizationID *string  `db:"teacher_organization_id"`
}
