package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-admission-api/internal/models"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
)

func TestCheckEligibility(t *testing.T) {
	admission := &models.ClassroomSession{Purpose: models.PurposeStudentAdmission, OrganizationID: strPtr("org-1"), TargetStandardID: strPtr("std-1")}
	recruitment := &models.ClassroomSession{Purpose: models.PurposeTeacherRecruitment, OrganizationID: strPtr("org-1")}

	tests := []struct {
		name     string
		identity *models.Identity
		session  *models.ClassroomSession
		eligible bool
	}{
		{name: "new user into admission", identity: &models.Identity{Kind: models.ProfileNone}, session: admission, eligible: true},
		{name: "new user into recruitment", identity: &models.Identity{Kind: models.ProfileNone}, session: recruitment, eligible: true},
		{name: "superadmin", identity: &models.Identity{Role: models.RoleSuperAdmin}, session: admission},
		{name: "school admin", identity: &models.Identity{Kind: models.ProfileSchoolAdmin}, session: recruitment},
		{name: "teacher into admission", identity: &models.Identity{Kind: models.ProfileTeacher}, session: admission},
		{name: "student of another standard", identity: &models.Identity{Kind: models.ProfileStudent, StudentStandardID: strPtr("std-2")}, session: admission},
		{name: "student of same standard", identity: &models.Identity{Kind: models.ProfileStudent, StudentStandardID: strPtr("std-1")}, session: admission, eligible: true},
		{name: "unplaced student", identity: &models.Identity{Kind: models.ProfileStudent}, session: admission, eligible: true},
		{name: "placed student into recruitment", identity: &models.Identity{Kind: models.ProfileStudent, StudentStandardID: strPtr("std-1")}, session: recruitment},
		{name: "teacher of same org", identity: &models.Identity{Kind: models.ProfileTeacher, TeacherOrganizationID: strPtr("org-1")}, session: recruitment},
		{name: "teacher of other org", identity: &models.Identity{Kind: models.ProfileTeacher, TeacherOrganizationID: strPtr("org-2")}, session: recruitment, eligible: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckEligibility(tc.identity, tc.session)
			if tc.eligible {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, appErrors.ErrNotEligible)
		})
	}
}

func TestCanManageSession(t *testing.T) {
	session := &models.ClassroomSession{OrganizationID: strPtr("org-1"), TeacherID: strPtr("tch-1")}

	assert.True(t, CanManageSession(&models.Identity{Role: models.RoleSuperAdmin}, session))
	assert.True(t, CanManageSession(&models.Identity{Kind: models.ProfileSchoolAdmin, AdminOrganizationIDs: []string{"org-1"}}, session))
	assert.True(t, CanManageSession(&models.Identity{Kind: models.ProfileTeacher, TeacherID: "tch-1"}, session))
	assert.False(t, CanManageSession(&models.Identity{Kind: models.ProfileSchoolAdmin, AdminOrganizationIDs: []string{"org-2"}}, session))
	assert.False(t, CanManageSession(&models.Identity{Kind: models.ProfileTeacher, TeacherID: "tch-2"}, session))
	assert.False(t, CanManageSession(&models.Identity{Kind: models.ProfileStudent}, session))
	assert.False(t, CanManageSession(nil, session))
}

type identityStoreStub struct {
	row    *models.IdentityRow
	orgs   []string
	rowErr error
}

func (s identityStoreStub) FindIdentity(context.Context, string) (*models.IdentityRow, error) {
	return s.row, s.rowErr
}

func (s identityStoreStub) AdminOrganizationIDs(context.Context, string) ([]string, error) {
	return s.orgs, nil
}

func TestIdentityResolverPrecedence(t *testing.T) {
	row := &models.IdentityRow{
		UserID:    "u1",
		Role:      models.RoleTeacher,
		Active:    true,
		StudentID: strPtr("stu-1"),
		TeacherID: strPtr("tch-1"),
	}

	identity, err := NewIdentityResolver(identityStoreStub{row: row, orgs: []string{"org-1"}}).Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.ProfileSchoolAdmin, identity.Kind)
	assert.Equal(t, "tch-1", identity.TeacherID)

	identity, err = NewIdentityResolver(identityStoreStub{row: row}).Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.ProfileTeacher, identity.Kind)

	studentOnly := *row
	studentOnly.TeacherID = nil
	identity, err = NewIdentityResolver(identityStoreStub{row: &studentOnly}).Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.ProfileStudent, identity.Kind)

	bare := models.IdentityRow{UserID: "u2", Role: models.RoleStudent, Active: true}
	identity, err = NewIdentityResolver(identityStoreStub{row: &bare}).Resolve(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, models.ProfileNone, identity.Kind)
}

func TestIdentityResolverErrors(t *testing.T) {
	_, err := NewIdentityResolver(identityStoreStub{rowErr: sql.ErrNoRows}).Resolve(context.Background(), "u1")
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = NewIdentityResolver(identityStoreStub{rowErr: errors.New("db down")}).Resolve(context.Background(), "u1")
	assert.ErrorIs(t, err, appErrors.ErrInternal)

	inactive := &models.IdentityRow{UserID: "u1", Active: false}
	_, err = NewIdentityResolver(identityStoreStub{row: inactive}).Resolve(context.Background(), "u1")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = NewIdentityResolver(identityStoreStub{}).Resolve(context.Background(), "")
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
