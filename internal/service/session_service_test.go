package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-admission-api/internal/dto"
	"github.com/noah-isme/sma-admission-api/internal/models"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
)

func intPtr(v int) *int { return &v }

func TestCreateSessionByClassTeacher(t *testing.T) {
	f := newAdmissionFixture(t, true)

	view, err := f.sessions.Create(context.Background(), dto.CreateSessionRequest{
		StandardID: strPtr(testStandard),
		Title:      "Grade 5A",
	}, claims("u-teacher"))
	require.NoError(t, err)

	assert.Regexp(t, `^CLS-[0-9A-F]{6}$`, view.Code)
	assert.Equal(t, models.PurposeStudentAdmission, view.Purpose)
	assert.Equal(t, defaultStudentLimit, view.StudentLimit)
	assert.Equal(t, models.SessionStatusActive, view.Status)
	assert.True(t, view.CanJoin)
	assert.Equal(t, defaultStudentLimit, view.SeatsRemaining)
	require.NotNil(t, view.TeacherID)
	assert.Equal(t, testTeacher, *view.TeacherID)
	assert.Equal(t, testOrg, *view.OrganizationID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), view.ExpiresAt, 5*time.Second)
	assert.Contains(t, f.audit.actions(), models.AuditActionSessionCreate)
}

func TestCreateSessionStampsCreationBeforeExpiry(t *testing.T) {
	f := newAdmissionFixture(t, true)
	start := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	var reads int
	f.lifecycle.now = func() time.Time {
		reads++
		return start.Add(time.Duration(reads-1) * time.Millisecond)
	}
	expiresAt := start.Add(time.Millisecond)

	view, err := f.sessions.Create(context.Background(), dto.CreateSessionRequest{
		StandardID: strPtr(testStandard),
		ExpiresAt:  &expiresAt,
	}, claims("u-admin"))
	require.NoError(t, err)

	assert.Equal(t, start, view.CreatedAt)
	assert.True(t, view.ExpiresAt.After(view.CreatedAt))
	stored := f.session(t, view.ID)
	assert.True(t, stored.ExpiresAt.After(stored.CreatedAt))
}

func TestCreateSessionAuthority(t *testing.T) {
	f := newAdmissionFixture(t, true)
	f.identities["u-multi"] = &models.Identity{UserID: "u-multi", Role: models.RoleAdmin, Kind: models.ProfileSchoolAdmin, AdminOrganizationIDs: []string{"org-1", "org-2"}}
	f.identities["u-super"] = &models.Identity{UserID: "u-super", Role: models.RoleSuperAdmin}
	past := time.Now().Add(-time.Minute)

	tests := []struct {
		name   string
		user   string
		req    dto.CreateSessionRequest
		expect *appErrors.Error
	}{
		{name: "student cannot create", user: "u-x", req: dto.CreateSessionRequest{StandardID: strPtr(testStandard)}, expect: appErrors.ErrForbidden},
		{name: "foreign teacher", user: "u-outsider", req: dto.CreateSessionRequest{StandardID: strPtr(testStandard)}, expect: appErrors.ErrForbidden},
		{name: "teacher recruitment", user: "u-teacher", req: dto.CreateSessionRequest{StandardID: strPtr(testStandard), Purpose: models.PurposeTeacherRecruitment}, expect: appErrors.ErrForbidden},
		{name: "admission without standard", user: "u-admin", req: dto.CreateSessionRequest{}, expect: appErrors.ErrValidation},
		{name: "unknown standard", user: "u-admin", req: dto.CreateSessionRequest{StandardID: strPtr("std-x")}, expect: appErrors.ErrNotFound},
		{name: "past expiry", user: "u-admin", req: dto.CreateSessionRequest{StandardID: strPtr(testStandard), ExpiresAt: &past}, expect: appErrors.ErrValidation},
		{name: "zero limit", user: "u-admin", req: dto.CreateSessionRequest{StandardID: strPtr(testStandard), StudentLimit: intPtr(0)}, expect: appErrors.ErrValidation},
		{name: "bad purpose", user: "u-admin", req: dto.CreateSessionRequest{StandardID: strPtr(testStandard), Purpose: "OTHER"}, expect: appErrors.ErrValidation},
		{name: "ambiguous admin org", user: "u-multi", req: dto.CreateSessionRequest{Purpose: models.PurposeTeacherRecruitment}, expect: appErrors.ErrValidation},
		{name: "admin of other org", user: "u-admin", req: dto.CreateSessionRequest{Purpose: models.PurposeTeacherRecruitment, OrganizationID: strPtr("org-2")}, expect: appErrors.ErrForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.sessions.Create(context.Background(), tc.req, claims(tc.user))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.expect)
		})
	}

	view, err := f.sessions.Create(context.Background(), dto.CreateSessionRequest{Purpose: models.PurposeTeacherRecruitment, StudentLimit: intPtr(3)}, claims("u-admin"))
	require.NoError(t, err)
	assert.Equal(t, testOrg, *view.OrganizationID)
	assert.Nil(t, view.TargetStandardID)

	view, err = f.sessions.Create(context.Background(), dto.CreateSessionRequest{StandardID: strPtr(testStandard)}, claims("u-super"))
	require.NoError(t, err)
	assert.Equal(t, testOrg, *view.OrganizationID)
}

func TestCloseSessionRejectsPending(t *testing.T) {
	f := newAdmissionFixture(t, true)
	session := f.seedSession(t, "CLS-CCC001", 5, models.PurposeStudentAdmission)
	first := f.submit(t, session.Code, "u-x")
	second := f.submit(t, session.Code, "u-y")

	result, err := f.sessions.Close(context.Background(), session.ID, claims("u-admin"))
	require.NoError(t, err)
	assert.False(t, result.AlreadyClosed)
	assert.Equal(t, int64(2), result.RejectedRequests)
	assert.Equal(t, models.SessionStatusClosed, result.Session.Status)

	stored := f.session(t, session.ID)
	assert.Equal(t, models.SessionStatusClosed, stored.Status)
	assert.NotNil(t, stored.ClosedAt)
	assert.Equal(t, models.JoinRequestRejected, f.store.requests[first.ID].Status)
	assert.Equal(t, models.JoinRequestRejected, f.store.requests[second.ID].Status)

	_, err = f.admission.Accept(context.Background(), session.ID, first.ID, claims("u-admin"))
	assert.ErrorIs(t, err, appErrors.ErrAlreadyProcessed)

	again, err := f.sessions.Close(context.Background(), session.ID, claims("u-admin"))
	require.NoError(t, err)
	assert.True(t, again.AlreadyClosed)
	assert.Zero(t, again.RejectedRequests)

	_, err = f.sessions.Close(context.Background(), session.ID, claims("u-outsider"))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestRevokeEnrollmentFreesSeat(t *testing.T) {
	f := newAdmissionFixture(t, true)
	session := f.seedSession(t, "CLS-CCC002", 1, models.PurposeStudentAdmission)
	req := f.submit(t, session.Code, "u-x")
	_, err := f.admission.Accept(context.Background(), session.ID, req.ID, claims("u-admin"))
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusFull, f.session(t, session.ID).Status)

	var enrollmentID string
	for id := range f.store.enrollments {
		enrollmentID = id
	}

	revoked, err := f.sessions.RevokeEnrollment(context.Background(), session.ID, enrollmentID, claims("u-teacher"))
	require.NoError(t, err)
	assert.False(t, revoked.IsActive)
	assert.NotNil(t, revoked.DeactivatedAt)
	assert.Equal(t, models.SessionStatusActive, f.session(t, session.ID).Status)
	assert.Equal(t, 0, f.activeCount(t, session.ID))

	_, err = f.sessions.RevokeEnrollment(context.Background(), session.ID, "missing", claims("u-teacher"))
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	next := f.submit(t, session.Code, "u-y")
	result, err := f.admission.Accept(context.Background(), session.ID, next.ID, claims("u-admin"))
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusFull, result.SessionStatus)
}

func TestGetAndListSessions(t *testing.T) {
	f := newAdmissionFixture(t, true)
	session := f.seedSession(t, "CLS-CCC003", 2, models.PurposeStudentAdmission)
	req := f.submit(t, session.Code, "u-x")
	_, err := f.admission.Accept(context.Background(), session.ID, req.ID, claims("u-admin"))
	require.NoError(t, err)

	view, err := f.sessions.Get(context.Background(), session.ID, claims("u-x"))
	require.NoError(t, err)
	assert.Equal(t, 1, view.Occupancy)
	assert.Equal(t, 1, view.SeatsRemaining)
	assert.True(t, view.CanJoin)

	_, err = f.sessions.Get(context.Background(), "missing", claims("u-x"))
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	items, page, err := f.sessions.List(context.Background(), dto.SessionListQuery{}, claims("u-teacher"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, page.TotalCount)
	assert.Equal(t, 20, page.PageSize)

	_, _, err = f.sessions.List(context.Background(), dto.SessionListQuery{}, claims("u-x"))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestGetDerivesExpiryWithoutPersisting(t *testing.T) {
	f := newAdmissionFixture(t, true)
	session := f.seedSession(t, "CLS-CCC004", 2, models.PurposeStudentAdmission)
	stored := f.store.sessions[session.ID]
	stored.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	f.store.sessions[session.ID] = stored

	view, err := f.sessions.Get(context.Background(), session.ID, claims("u-x"))
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusExpired, view.Status)
	assert.False(t, view.CanJoin)
	assert.Equal(t, models.SessionStatusActive, f.session(t, session.ID).Status)
}

func TestExportRoster(t *testing.T) {
	f := newAdmissionFixture(t, true)
	session := f.seedSession(t, "CLS-CCC005", 2, models.PurposeStudentAdmission)
	req := f.submit(t, session.Code, "u-x")
	_, err := f.admission.Accept(context.Background(), session.ID, req.ID, claims("u-admin"))
	require.NoError(t, err)

	file, err := f.sessions.ExportRoster(context.Background(), session.ID, dto.RosterQuery{Format: "csv"}, claims("u-teacher"))
	require.NoError(t, err)
	assert.Equal(t, "roster-CLS-CCC005.csv", file.Filename)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.Contains(t, string(file.Payload), "Student ID")

	_, err = f.sessions.ExportRoster(context.Background(), session.ID, dto.RosterQuery{Format: "docx"}, claims("u-teacher"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.sessions.ExportRoster(context.Background(), session.ID, dto.RosterQuery{Format: "xlsx"}, claims("u-x"))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}
