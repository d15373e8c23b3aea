package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/internal/repository"
)

// memStore is an in-memory stand-in for the PostgreSQL repositories. Admission
// transactions hold a per-session mutex from LockSession until commit or rollback
// and stage their writes so a failed transaction leaves no trace.
type memStore struct {
	mu           sync.Mutex
	sessionLocks map[string]*sync.Mutex

	sessions    map[string]models.ClassroomSession
	requests    map[string]models.JoinRequest
	enrollments map[string]models.SessionEnrollment
	students    map[string]models.StudentProfile // keyed by user id
	teachers    map[string]models.TeacherProfile // keyed by user id
	orgs        map[string]models.Organization

	statusWrites int
	txErr        error
	failOn       string
	// uniqueIDClashes makes that many student profile inserts collide on the unique id.
	uniqueIDClashes int
	uniqueIDsTried  []string
}

func newMemStore() *memStore {
	return &memStore{
		sessionLocks: map[string]*sync.Mutex{},
		sessions:     map[string]models.ClassroomSession{},
		requests:     map[string]models.JoinRequest{},
		enrollments:  map[string]models.SessionEnrollment{},
		students:     map[string]models.StudentProfile{},
		teachers:     map[string]models.TeacherProfile{},
		orgs:         map[string]models.Organization{},
	}
}

func (m *memStore) lockFor(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.sessionLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.sessionLocks[sessionID] = l
	}
	return l
}

// session store

func (m *memStore) Create(_ context.Context, session *models.ClassroomSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.Code == session.Code {
			return repository.ErrUniqueViolation
		}
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Status == "" {
		session.Status = models.SessionStatusActive
	}
	m.sessions[session.ID] = *session
	return nil
}

func (m *memStore) FindByID(_ context.Context, id string) (*models.ClassroomSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (m *memStore) FindByCode(_ context.Context, code string) (*models.ClassroomSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Code == code {
			out := s
			return &out, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) List(_ context.Context, filter models.SessionFilter) ([]models.SessionSummary, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SessionSummary
	for _, s := range m.sessions {
		if filter.TeacherID != "" && (s.TeacherID == nil || *s.TeacherID != filter.TeacherID) && !inOrgs(s.OrganizationID, filter.OrganizationIDs) {
			continue
		}
		if filter.TeacherID == "" && len(filter.OrganizationIDs) > 0 && !inOrgs(s.OrganizationID, filter.OrganizationIDs) {
			continue
		}
		out = append(out, models.SessionSummary{ClassroomSession: s, Occupancy: m.countActiveLocked(s.ID, nil)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, len(out), nil
}

func inOrgs(org *string, orgs []string) bool {
	if org == nil {
		return false
	}
	for _, o := range orgs {
		if o == *org {
			return true
		}
	}
	return false
}

func (m *memStore) ListStale(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, s := range m.sessions {
		if (s.Status == models.SessionStatusActive || s.Status == models.SessionStatusFull) && !s.ExpiresAt.After(now) {
			ids = append(ids, s.ID)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memStore) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(cutoff) || (s.ClosedAt != nil && s.ClosedAt.Before(cutoff)) {
			delete(m.sessions, id)
			for rid, r := range m.requests {
				if r.SessionID == id {
					delete(m.requests, rid)
				}
			}
			for eid, e := range m.enrollments {
				if e.SessionID == id {
					delete(m.enrollments, eid)
				}
			}
			n++
		}
	}
	return n, nil
}

func (m *memStore) WithinAdmissionTx(ctx context.Context, fn func(repository.AdmissionTx) error) error {
	if m.txErr != nil {
		return m.txErr
	}
	tx := &memTx{
		store:       m,
		sessions:    map[string]models.ClassroomSession{},
		requests:    map[string]models.JoinRequest{},
		enrollments: map[string]models.SessionEnrollment{},
		students:    map[string]models.StudentProfile{},
		teachers:    map[string]models.TeacherProfile{},
	}
	defer tx.release()
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *memStore) countActiveLocked(sessionID string, overlay map[string]models.SessionEnrollment) int {
	count := 0
	for id, e := range m.enrollments {
		if o, ok := overlay[id]; ok {
			e = o
		}
		if e.SessionID == sessionID && e.IsActive {
			count++
		}
	}
	for id, e := range overlay {
		if _, ok := m.enrollments[id]; ok {
			continue
		}
		if e.SessionID == sessionID && e.IsActive {
			count++
		}
	}
	return count
}

// join request store

type memRequests struct{ *memStore }

func (r memRequests) Create(_ context.Context, req *models.JoinRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.requests {
		if existing.SessionID == req.SessionID && existing.UserID == req.UserID {
			return repository.ErrUniqueViolation
		}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	r.requests[req.ID] = *req
	return nil
}

func (r memRequests) FindBySessionAndUser(_ context.Context, sessionID, userID string) (*models.JoinRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.requests {
		if req.SessionID == sessionID && req.UserID == userID {
			out := req
			return &out, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memRequests) FindInSession(_ context.Context, sessionID, requestID string) (*models.JoinRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[requestID]
	if !ok || req.SessionID != sessionID {
		return nil, sql.ErrNoRows
	}
	return &req, nil
}

func (r memRequests) ListPending(_ context.Context, sessionID string) ([]models.JoinRequestDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.JoinRequestDetail
	for _, req := range r.requests {
		if req.SessionID == sessionID && req.Status == models.JoinRequestPending {
			out = append(out, models.JoinRequestDetail{JoinRequest: req})
		}
	}
	return out, nil
}

func (r memRequests) ListByUser(_ context.Context, userID string) ([]models.JoinRequestDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.JoinRequestDetail
	for _, req := range r.requests {
		if req.UserID == userID {
			out = append(out, models.JoinRequestDetail{JoinRequest: req})
		}
	}
	return out, nil
}

// enrollment reader

type memEnrollments struct{ *memStore }

func (e memEnrollments) CountActive(_ context.Context, sessionID string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.countActiveLocked(sessionID, nil), nil
}

func (e memEnrollments) ListRoster(_ context.Context, sessionID string, activeOnly bool) ([]models.RosterEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.RosterEntry
	for _, enr := range e.enrollments {
		if enr.SessionID != sessionID || (activeOnly && !enr.IsActive) {
			continue
		}
		out = append(out, models.RosterEntry{SessionEnrollment: enr, StudentName: "student " + enr.StudentID})
	}
	return out, nil
}

// memTx stages writes in overlays; commit copies them into the store.
type memTx struct {
	store  *memStore
	locked []*sync.Mutex

	sessions    map[string]models.ClassroomSession
	requests    map[string]models.JoinRequest
	enrollments map[string]models.SessionEnrollment
	students    map[string]models.StudentProfile
	teachers    map[string]models.TeacherProfile
}

var errInjected = errors.New("injected failure")

func (t *memTx) fail(method string) error {
	if t.store.failOn == method {
		return errInjected
	}
	return nil
}

func (t *memTx) release() {
	for i := len(t.locked) - 1; i >= 0; i-- {
		t.locked[i].Unlock()
	}
	t.locked = nil
}

func (t *memTx) commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for k, v := range t.sessions {
		t.store.sessions[k] = v
	}
	for k, v := range t.requests {
		t.store.requests[k] = v
	}
	for k, v := range t.enrollments {
		t.store.enrollments[k] = v
	}
	for k, v := range t.students {
		t.store.students[k] = v
	}
	for k, v := range t.teachers {
		t.store.teachers[k] = v
	}
}

func (t *memTx) session(id string) (models.ClassroomSession, bool) {
	if s, ok := t.sessions[id]; ok {
		return s, true
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	s, ok := t.store.sessions[id]
	return s, ok
}

func (t *memTx) request(id string) (models.JoinRequest, bool) {
	if r, ok := t.requests[id]; ok {
		return r, true
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	r, ok := t.store.requests[id]
	return r, ok
}

func (t *memTx) LockSession(_ context.Context, sessionID string) (*models.ClassroomSession, error) {
	if err := t.fail("LockSession"); err != nil {
		return nil, err
	}
	if _, ok := t.session(sessionID); !ok {
		return nil, sql.ErrNoRows
	}
	l := t.store.lockFor(sessionID)
	l.Lock()
	t.locked = append(t.locked, l)
	s, ok := t.session(sessionID)
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (t *memTx) LockJoinRequest(_ context.Context, sessionID, requestID string) (*models.JoinRequest, error) {
	r, ok := t.request(requestID)
	if !ok || r.SessionID != sessionID {
		return nil, sql.ErrNoRows
	}
	return &r, nil
}

func (t *memTx) CountActiveEnrollments(_ context.Context, sessionID string) (int, error) {
	if err := t.fail("CountActiveEnrollments"); err != nil {
		return 0, err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.countActiveLocked(sessionID, t.enrollments), nil
}

func (t *memTx) UpdateSessionStatus(_ context.Context, sessionID string, status models.SessionStatus, closedAt *time.Time, at time.Time) error {
	if err := t.fail("UpdateSessionStatus"); err != nil {
		return err
	}
	s, ok := t.session(sessionID)
	if !ok {
		return sql.ErrNoRows
	}
	s.Status = status
	if closedAt != nil {
		s.ClosedAt = closedAt
	}
	s.UpdatedAt = at
	t.sessions[sessionID] = s
	t.store.mu.Lock()
	t.store.statusWrites++
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) MarkJoinRequest(_ context.Context, requestID string, status models.JoinRequestStatus, reviewerID string, at time.Time) error {
	if err := t.fail("MarkJoinRequest"); err != nil {
		return err
	}
	r, ok := t.request(requestID)
	if !ok {
		return sql.ErrNoRows
	}
	r.Status = status
	r.ReviewedAt = &at
	r.ReviewedBy = &reviewerID
	r.UpdatedAt = at
	t.requests[requestID] = r
	return nil
}

func (t *memTx) RejectPendingRequests(_ context.Context, sessionID, reviewerID string, at time.Time) (int64, error) {
	t.store.mu.Lock()
	var ids []string
	for id, r := range t.store.requests {
		if r.SessionID == sessionID {
			ids = append(ids, id)
		}
	}
	t.store.mu.Unlock()

	var n int64
	for _, id := range ids {
		r, _ := t.request(id)
		if r.Status != models.JoinRequestPending {
			continue
		}
		r.Status = models.JoinRequestRejected
		r.ReviewedAt = &at
		r.ReviewedBy = &reviewerID
		t.requests[id] = r
		n++
	}
	return n, nil
}

func (t *memTx) FindOrganization(_ context.Context, organizationID string) (*models.Organization, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	org, ok := t.store.orgs[organizationID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &org, nil
}

func (t *memTx) FindStudentProfile(_ context.Context, userID string) (*models.StudentProfile, error) {
	if p, ok := t.students[userID]; ok {
		return &p, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	p, ok := t.store.students[userID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

func (t *memTx) GetOrCreateStudentProfile(ctx context.Context, defaults *models.StudentProfile) (*models.StudentProfile, bool, error) {
	if p, err := t.FindStudentProfile(ctx, defaults.UserID); err == nil {
		return p, false, nil
	}
	t.store.mu.Lock()
	t.store.uniqueIDsTried = append(t.store.uniqueIDsTried, defaults.StudentUniqueID)
	clash := t.store.uniqueIDClashes > 0
	if clash {
		t.store.uniqueIDClashes--
	}
	t.store.mu.Unlock()
	if clash {
		return nil, false, repository.ErrUniqueViolation
	}
	p := *defaults
	if p.ID == "" {
		p.ID = "stu-" + uuid.NewString()[:8]
	}
	t.students[p.UserID] = p
	return &p, true, nil
}

func (t *memTx) SaveStudentProfile(_ context.Context, profile *models.StudentProfile) error {
	t.students[profile.UserID] = *profile
	return nil
}

func (t *memTx) GetOrCreateTeacherProfile(_ context.Context, defaults *models.TeacherProfile) (*models.TeacherProfile, bool, error) {
	if p, ok := t.teachers[defaults.UserID]; ok {
		return &p, false, nil
	}
	t.store.mu.Lock()
	p, ok := t.store.teachers[defaults.UserID]
	t.store.mu.Unlock()
	if ok {
		return &p, false, nil
	}
	p = *defaults
	if p.ID == "" {
		p.ID = "tch-" + uuid.NewString()[:8]
	}
	t.teachers[p.UserID] = p
	return &p, true, nil
}

func (t *memTx) SaveTeacherProfile(_ context.Context, profile *models.TeacherProfile) error {
	t.teachers[profile.UserID] = *profile
	return nil
}

func (t *memTx) enrollment(match func(models.SessionEnrollment) bool) (*models.SessionEnrollment, error) {
	for _, e := range t.enrollments {
		if match(e) {
			return &e, nil
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, e := range t.store.enrollments {
		if match(e) {
			return &e, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (t *memTx) FindEnrollment(_ context.Context, studentID, sessionID string) (*models.SessionEnrollment, error) {
	return t.enrollment(func(e models.SessionEnrollment) bool {
		return e.StudentID == studentID && e.SessionID == sessionID
	})
}

func (t *memTx) LockEnrollment(_ context.Context, sessionID, enrollmentID string) (*models.SessionEnrollment, error) {
	return t.enrollment(func(e models.SessionEnrollment) bool {
		return e.ID == enrollmentID && e.SessionID == sessionID
	})
}

func (t *memTx) CreateEnrollment(ctx context.Context, enrollment *models.SessionEnrollment) error {
	if err := t.fail("CreateEnrollment"); err != nil {
		return err
	}
	if _, err := t.FindEnrollment(ctx, enrollment.StudentID, enrollment.SessionID); err == nil {
		return repository.ErrUniqueViolation
	}
	if enrollment.ID == "" {
		enrollment.ID = "enr-" + uuid.NewString()[:8]
	}
	t.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (t *memTx) ReactivateEnrollment(_ context.Context, enrollmentID string, at time.Time) error {
	e, err := t.enrollment(func(e models.SessionEnrollment) bool { return e.ID == enrollmentID })
	if err != nil {
		return err
	}
	e.IsActive = true
	e.EnrolledAt = at
	e.DeactivatedAt = nil
	t.enrollments[e.ID] = *e
	return nil
}

func (t *memTx) DeactivateEnrollment(_ context.Context, enrollmentID string, at time.Time) error {
	e, err := t.enrollment(func(e models.SessionEnrollment) bool { return e.ID == enrollmentID })
	if err != nil {
		return err
	}
	e.IsActive = false
	e.DeactivatedAt = &at
	t.enrollments[e.ID] = *e
	return nil
}

// helpers shared by service tests

type identityStub map[string]*models.Identity

func (s identityStub) Resolve(_ context.Context, userID string) (*models.Identity, error) {
	id, ok := s[userID]
	if !ok {
		return &models.Identity{UserID: userID, Role: models.RoleStudent, Kind: models.ProfileNone}, nil
	}
	return id, nil
}

type auditRecorder struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (a *auditRecorder) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *auditRecorder) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

func strPtr(s string) *string { return &s }
