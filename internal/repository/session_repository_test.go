package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-admission-api/internal/models"
)

func TestSessionRepositoryCreateDefaults(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db, 0)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO classroom_sessions")).WillReturnResult(sqlmock.NewResult(1, 1))

	session := &models.ClassroomSession{Code: "CLS-0A1B2C", Purpose: models.PurposeStudentAdmission, StudentLimit: 30, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, repo.Create(context.Background(), session))
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, models.SessionStatusActive, session.Status)
	assert.Equal(t, session.CreatedAt, session.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryCreateCodeCollision(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db, 0)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO classroom_sessions")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "classroom_sessions_session_code_key"})

	err := repo.Create(context.Background(), &models.ClassroomSession{Code: "CLS-0A1B2C"})
	assert.ErrorIs(t, err, ErrUniqueViolation)
}

func TestSessionRepositoryFindByCode(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db, 0)

	expires := time.Now().Add(time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("FROM classroom_sessions WHERE session_code = $1")).
		WithArgs("CLS-A1B2C3").
		WillReturnRows(sessionRow("sess-1", models.SessionStatusActive, 30, expires))

	session, err := repo.FindByCode(context.Background(), "CLS-A1B2C3")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", session.ID)
	require.NotNil(t, session.TargetStandardID)
	assert.Equal(t, "std-5a", *session.TargetStandardID)

	mock.ExpectQuery(regexp.QuoteMeta("FROM classroom_sessions WHERE session_code = $1")).
		WithArgs("CLS-NOPE00").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.FindByCode(context.Background(), "CLS-NOPE00")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSessionRepositoryListScopesAndClamps(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db, 0)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs(pq.Array([]string{"org-1"}), "teacher-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	now := time.Now()
	cols := append(append([]string{}, sessionRowColumns...), "standard_name", "teacher_name", "occupancy")
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY s.created_at DESC")).
		WithArgs(pq.Array([]string{"org-1"}), "teacher-1", maxPageSize, 0).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("sess-1", "CLS-A1B2C3", "org-1", "teacher-1", "std-5a", "Intake", "STUDENT_ADMISSION", 2, now.Add(time.Hour), "ACTIVE", nil, now, now, "Class 5-A", "Bu Ani", 1))

	items, total, err := repo.List(context.Background(), models.SessionFilter{OrganizationIDs: []string{"org-1"}, TeacherID: "teacher-1", PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Occupancy)
	assert.Equal(t, "Class 5-A", *items[0].StandardName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryDeleteExpiredBefore(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db, 0)

	cutoff := time.Now().Add(-7 * 24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM classroom_sessions WHERE expires_at < $1 OR closed_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := repo.DeleteExpiredBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)
}

func TestClampPage(t *testing.T) {
	page, size := clampPage(0, 0)
	assert.Equal(t, 1, page)
	assert.Equal(t, defaultPageSize, size)

	page, size = clampPage(3, 1000)
	assert.Equal(t, 3, page)
	assert.Equal(t, maxPageSize, size)
}
