package service

import (
	"context"

	"github.com/noah-isme/sma-admission-api/internal/models"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
)

type sessionFinder interface {
	FindByID(ctx context.Context, id string) (*models.ClassroomSession, error)
}

// sessionAuthority loads a session on behalf of an actor and enforces that the
// actor may manage it.
type sessionAuthority struct {
	sessions   sessionFinder
	identities identityResolver
}

func (a sessionAuthority) managed(ctx context.Context, sessionID string, actor *models.JWTClaims) (*models.Identity, *models.ClassroomSession, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	identity, err := a.identities.Resolve(ctx, actor.UserID)
	if err != nil {
		return nil, nil, err
	}
	session, err := a.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, nil, notFoundOrInternal(err, "session not found", "failed to load session")
	}
	if !CanManageSession(identity, session) {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to manage this session")
	}
	return identity, session, nil
}
