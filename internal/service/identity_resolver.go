package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/noah-isme/sma-admission-api/internal/models"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
)

type identityStore interface {
	FindIdentity(ctx context.Context, userID string) (*models.IdentityRow, error)
	AdminOrganizationIDs(ctx context.Context, userID string) ([]string, error)
}

// IdentityResolver turns a user id into an Identity with exactly one ProfileKind.
type IdentityResolver struct {
	store identityStore
}

// NewIdentityResolver constructs the resolver.
func NewIdentityResolver(store identityStore) *IdentityResolver {
	return &IdentityResolver{store: store}
}

// Resolve loads the user's profiles. Precedence is SCHOOL_ADMIN, then TEACHER, then STUDENT.
func (r *IdentityResolver) Resolve(ctx context.Context, userID string) (*models.Identity, error) {
	if userID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	row, err := r.store.FindIdentity(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve identity")
	}
	if !row.Active {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "user is inactive")
	}
	orgs, err := r.store.AdminOrganizationIDs(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve identity")
	}
	return buildIdentity(row, orgs), nil
}

func buildIdentity(row *models.IdentityRow, adminOrgs []string) *models.Identity {
	id := &models.Identity{
		UserID:                row.UserID,
		FullName:              row.FullName,
		Role:                  row.Role,
		Kind:                  models.ProfileNone,
		StudentStandardID:     row.StudentStandardID,
		TeacherOrganizationID: row.TeacherOrganizationID,
		AdminOrganizationIDs:  adminOrgs,
	}
	if row.StudentID != nil {
		id.StudentID = *row.StudentID
	}
	if row.TeacherID != nil {
		id.TeacherID = *row.TeacherID
	}

	switch {
	case len(adminOrgs) > 0:
		id.Kind = models.ProfileSchoolAdmin
	case id.TeacherID != "":
		id.Kind = models.ProfileTeacher
	case id.StudentID != "":
		id.Kind = models.ProfileStudent
	}
	return id
}
