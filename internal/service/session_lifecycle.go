package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/internal/repository"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
)

const codeAttempts = 3

type enrollmentCounter interface {
	CountActiveEnrollments(ctx context.Context, sessionID string) (int, error)
}

// CapacityTracker reports a session's occupancy: the number of active enrollments.
// Callers making a capacity decision must pass a counter bound to the locking transaction.
type CapacityTracker struct{}

// Occupancy counts active enrollments through counter.
func (CapacityTracker) Occupancy(ctx context.Context, counter enrollmentCounter, sessionID string) (int, error) {
	count, err := counter.CountActiveEnrollments(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("session occupancy: %w", err)
	}
	return count, nil
}

// SessionLifecycle derives and persists session status.
type SessionLifecycle struct {
	capacity   CapacityTracker
	now        func() time.Time
	defaultTTL time.Duration
	codePrefix string
}

// NewSessionLifecycle builds a lifecycle manager. A nil clock uses UTC wall time.
func NewSessionLifecycle(now func() time.Time, defaultTTL time.Duration, codePrefix string) *SessionLifecycle {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if defaultTTL <= 0 {
		defaultTTL = 4 * time.Hour
	}
	if codePrefix == "" {
		codePrefix = "CLS"
	}
	return &SessionLifecycle{now: now, defaultTTL: defaultTTL, codePrefix: codePrefix}
}

// Now returns the lifecycle clock's current time.
func (l *SessionLifecycle) Now() time.Time {
	return l.now()
}

// DeriveStatus is the pure status function. Checks run in order: closed flag,
// expiry, capacity.
func DeriveStatus(session *models.ClassroomSession, occupancy int, now time.Time) models.SessionStatus {
	switch {
	case session.Closed() || session.Status == models.SessionStatusClosed:
		return models.SessionStatusClosed
	case !now.Before(session.ExpiresAt):
		return models.SessionStatusExpired
	case occupancy >= session.StudentLimit:
		return models.SessionStatusFull
	default:
		return models.SessionStatusActive
	}
}

// IsJoinable reports whether the session can admit another member right now.
func (l *SessionLifecycle) IsJoinable(session *models.ClassroomSession, occupancy int) bool {
	now := l.now()
	return session.Status == models.SessionStatusActive &&
		now.Before(session.ExpiresAt) &&
		occupancy < session.StudentLimit
}

// Sync recomputes the session's status inside tx and persists it when it changed.
// session is updated in place; the occupancy used is returned.
func (l *SessionLifecycle) Sync(ctx context.Context, tx repository.AdmissionTx, session *models.ClassroomSession) (int, error) {
	occupancy, err := l.capacity.Occupancy(ctx, tx, session.ID)
	if err != nil {
		return 0, err
	}
	now := l.now()
	status := DeriveStatus(session, occupancy, now)
	if status == session.Status {
		return occupancy, nil
	}
	if err := tx.UpdateSessionStatus(ctx, session.ID, status, nil, now); err != nil {
		return 0, err
	}
	session.Status = status
	session.UpdatedAt = now
	return occupancy, nil
}

// View derives the status a reader should see without persisting it.
func (l *SessionLifecycle) View(session *models.ClassroomSession, occupancy int) (models.SessionStatus, bool) {
	status := DeriveStatus(session, occupancy, l.now())
	return status, status == models.SessionStatusActive
}

// ResolveExpiry applies the default TTL and rejects expiries not strictly after
// createdAt, the instant the session is stamped with.
func (l *SessionLifecycle) ResolveExpiry(requested *time.Time, createdAt time.Time) (time.Time, error) {
	now := createdAt
	if requested == nil || requested.IsZero() {
		return now.Add(l.defaultTTL), nil
	}
	if !requested.After(now) {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "expires_at must be in the future")
	}
	return requested.UTC(), nil
}

// NewCode returns a fresh "PREFIX-XXXXXX" session code with six uppercase hex digits.
func (l *SessionLifecycle) NewCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return l.codePrefix + "-" + strings.ToUpper(raw[:6])
}

// CreateWithCode assigns a code and persists via insert, retrying on code collisions.
func (l *SessionLifecycle) CreateWithCode(ctx context.Context, session *models.ClassroomSession, insert func(context.Context, *models.ClassroomSession) error) error {
	var err error
	for attempt := 0; attempt < codeAttempts; attempt++ {
		session.Code = l.NewCode()
		if err = insert(ctx, session); err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrUniqueViolation) {
			return err
		}
	}
	return fmt.Errorf("allocate session code after %d attempts: %w", codeAttempts, err)
}
