package dto

import (
	"time"

	"github.com/noah-isme/sma-admission-api/internal/models"
)

// CreateSessionRequest opens a new admission window.
type CreateSessionRequest struct {
	StandardID     *string               `json:"standardId"`
	OrganizationID *string               `json:"organizationId"`
	Title          string                `json:"title" validate:"max=120"`
	Purpose        models.SessionPurpose `json:"purpose" validate:"omitempty,oneof=STUDENT_ADMISSION TEACHER_RECRUITMENT"`
	StudentLimit   *int                  `json:"studentLimit" validate:"omitempty,gt=0,lte=1000"`
	ExpiresAt      *time.Time            `json:"expiresAt"`
}

// SessionListQuery carries list filters from the query string.
type SessionListQuery struct {
	Status   models.SessionStatus `form:"status"`
	Search   string               `form:"search"`
	Page     int                  `form:"page"`
	PageSize int                  `form:"pageSize"`
}

// SessionView is a session as presented to API consumers.
type SessionView struct {
	models.ClassroomSession
	StandardName   *string `json:"standard_name,omitempty"`
	TeacherName    *string `json:"teacher_name,omitempty"`
	Occupancy      int     `json:"current_student_count"`
	SeatsRemaining int     `json:"seats_remaining"`
	CanJoin        bool    `json:"can_join"`
}

// SubmitJoinRequest asks to join a session by its public code.
type SubmitJoinRequest struct {
	SessionCode string `json:"sessionCode" validate:"required,min=4,max=32"`
}

// ReviewJoinRequest identifies the request a reviewer accepts or rejects.
type ReviewJoinRequest struct {
	RequestID string `json:"requestId" validate:"required"`
}

// RosterQuery selects the export format.
type RosterQuery struct {
	Format     string `form:"format"`
	ActiveOnly bool   `form:"activeOnly"`
}

// RosterFile is a rendered roster export.
type RosterFile struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// StandardInput names one standard in a bulk create payload.
type StandardInput struct {
	Name        string  `json:"name" validate:"required,max=50"`
	Section     string  `json:"section" validate:"max=10"`
	Description *string `json:"description"`
}

// CreateStandardsRequest bulk get-or-creates standards for an organization.
type CreateStandardsRequest struct {
	OrganizationID string          `json:"organizationId"`
	Classes        []StandardInput `json:"classes" validate:"required,min=1,max=100,dive"`
}

// CreateStandardsResult reports created versus pre-existing standards.
type CreateStandardsResult struct {
	Created  []models.Standard `json:"created"`
	Existing []models.Standard `json:"existing"`
}

// AssignClassTeacherRequest names the teacher profile to assign.
type AssignClassTeacherRequest struct {
	TeacherID string `json:"teacherId" validate:"required"`
}
