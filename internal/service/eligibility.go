package service

import (
	"github.com/noah-isme/sma-admission-api/internal/models"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
)

// CheckEligibility applies the submission-time rules for who may ask to join a session.
func CheckEligibility(identity *models.Identity, session *models.ClassroomSession) error {
	if identity == nil {
		return appErrors.ErrUnauthorized
	}
	if identity.SuperAdmin() || identity.Kind == models.ProfileSchoolAdmin {
		return appErrors.Clone(appErrors.ErrNotEligible, "administrators cannot join sessions")
	}

	switch session.Purpose {
	case models.PurposeStudentAdmission:
		if identity.Kind == models.ProfileTeacher {
			return appErrors.Clone(appErrors.ErrNotEligible, "teachers cannot join student admission sessions")
		}
		if identity.Kind == models.ProfileStudent && identity.StudentStandardID != nil &&
			!sameID(identity.StudentStandardID, session.TargetStandardID) {
			return appErrors.Clone(appErrors.ErrNotEligible, "student is already assigned to another standard")
		}
	case models.PurposeTeacherRecruitment:
		if identity.Kind == models.ProfileStudent && identity.StudentStandardID != nil {
			return appErrors.Clone(appErrors.ErrNotEligible, "enrolled students cannot join recruitment sessions")
		}
		if identity.Kind == models.ProfileTeacher && sameID(identity.TeacherOrganizationID, session.OrganizationID) {
			return appErrors.Clone(appErrors.ErrNotEligible, "teacher already belongs to this organization")
		}
	}
	return nil
}

// CanManageSession reports whether identity may review, close or export the session.
func CanManageSession(identity *models.Identity, session *models.ClassroomSession) bool {
	if identity == nil || session == nil {
		return false
	}
	if identity.SuperAdmin() {
		return true
	}
	if identity.AdministersOrganization(session.OrganizationID) {
		return true
	}
	return identity.TeacherID != "" && session.TeacherID != nil && *session.TeacherID == identity.TeacherID
}

func sameID(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}
