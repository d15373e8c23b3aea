package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-admission-api/internal/dto"
	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/internal/repository"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
)

type standardStore interface {
	GetOrCreateMany(ctx context.Context, organizationID string, specs []repository.StandardSpec) ([]models.Standard, []bool, error)
	FindByID(ctx context.Context, id string) (*models.Standard, error)
	List(ctx context.Context, organizationIDs []string, teacherID string) ([]models.StandardDetail, error)
	AssignClassTeacher(ctx context.Context, standardID, teacherID string, at time.Time) error
}

type teacherProfileFinder interface {
	FindTeacherProfile(ctx context.Context, teacherID string) (*models.TeacherProfile, error)
}

// StandardService manages the standard directory of each organization.
type StandardService struct {
	standards  standardStore
	teachers   teacherProfileFinder
	identities identityResolver
	audit      auditTrail
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewStandardService constructs the service.
func NewStandardService(standards standardStore, teachers teacherProfileFinder, identities identityResolver, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *StandardService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StandardService{
		standards:  standards,
		teachers:   teachers,
		identities: identities,
		audit:      auditTrail{store: audit, logger: logger, source: "standard-service"},
		validator:  validate,
		logger:     logger,
	}
}

// Create get-or-creates every (name, section) pair for the organization.
func (s *StandardService) Create(ctx context.Context, req dto.CreateStandardsRequest, actor *models.JWTClaims) (*dto.CreateStandardsResult, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid standards payload")
	}
	identity, err := s.identities.Resolve(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	orgID, err := adminOrganization(identity, req.OrganizationID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(req.Classes))
	specs := make([]repository.StandardSpec, 0, len(req.Classes))
	for _, class := range req.Classes {
		spec := repository.StandardSpec{
			Name:        strings.TrimSpace(class.Name),
			Section:     strings.ToUpper(strings.TrimSpace(class.Section)),
			Description: class.Description,
		}
		if spec.Name == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "class name is required")
		}
		key := spec.Name + "\x00" + spec.Section
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		specs = append(specs, spec)
	}

	standards, created, err := s.standards.GetOrCreateMany(ctx, orgID, specs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create standards")
	}

	result := &dto.CreateStandardsResult{Created: []models.Standard{}, Existing: []models.Standard{}}
	for i, standard := range standards {
		if created[i] {
			result.Created = append(result.Created, standard)
			s.audit.record(ctx, actor.UserID, models.AuditActionStandardCreate, standardResource, standard.ID, nil, map[string]interface{}{
				"organizationId": orgID,
				"name":           standard.DisplayName(),
			})
			continue
		}
		result.Existing = append(result.Existing, standard)
	}
	return result, nil
}

// List returns the standards the actor can see.
func (s *StandardService) List(ctx context.Context, actor *models.JWTClaims) ([]models.StandardDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	identity, err := s.identities.Resolve(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	var (
		orgs      []string
		teacherID string
	)
	switch {
	case identity.SuperAdmin():
	case identity.Kind == models.ProfileSchoolAdmin:
		orgs = identity.AdminOrganizationIDs
	case identity.Kind == models.ProfileTeacher:
		if identity.TeacherOrganizationID != nil {
			orgs = []string{*identity.TeacherOrganizationID}
		} else {
			teacherID = identity.TeacherID
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers and administrators can list standards")
	}

	items, err := s.standards.List(ctx, orgs, teacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list standards")
	}
	return items, nil
}

// AssignClassTeacher makes a teacher of the same organization the standard's class teacher.
func (s *StandardService) AssignClassTeacher(ctx context.Context, standardID string, req dto.AssignClassTeacherRequest, actor *models.JWTClaims) (*models.Standard, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	identity, err := s.identities.Resolve(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	standard, err := s.standards.FindByID(ctx, standardID)
	if err != nil {
		return nil, notFoundOrInternal(err, "standard not found", "failed to load standard")
	}
	if !identity.SuperAdmin() && !identity.AdministersOrganization(&standard.OrganizationID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only organization administrators can assign class teachers")
	}

	teacher, err := s.teachers.FindTeacherProfile(ctx, req.TeacherID)
	if err != nil {
		return nil, notFoundOrInternal(err, "teacher not found", "failed to load teacher")
	}
	if teacher.OrganizationID == nil || *teacher.OrganizationID != standard.OrganizationID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher belongs to another organization")
	}

	now := time.Now().UTC()
	if err := s.standards.AssignClassTeacher(ctx, standard.ID, teacher.ID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "standard not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign class teacher")
	}

	previous := standard.ClassTeacherID
	standard.ClassTeacherID = &teacher.ID
	standard.UpdatedAt = now
	s.audit.record(ctx, actor.UserID, models.AuditActionClassTeacherSet, standardResource, standard.ID,
		map[string]interface{}{"classTeacherId": previous},
		map[string]interface{}{"classTeacherId": teacher.ID},
	)
	return standard, nil
}

// adminOrganization resolves which organization an administrator acts on.
func adminOrganization(identity *models.Identity, requested string) (string, error) {
	switch {
	case identity.SuperAdmin():
		if requested == "" {
			return "", appErrors.Clone(appErrors.ErrValidation, "organizationId is required")
		}
		return requested, nil
	case identity.Kind != models.ProfileSchoolAdmin:
		return "", appErrors.Clone(appErrors.ErrForbidden, "only organization administrators can manage standards")
	case requested != "":
		if !identity.AdministersOrganization(&requested) {
			return "", appErrors.Clone(appErrors.ErrForbidden, "not an administrator of this organization")
		}
		return requested, nil
	case len(identity.AdminOrganizationIDs) == 1:
		return identity.AdminOrganizationIDs[0], nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, "organizationId is required")
	}
}
