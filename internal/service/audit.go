package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-admission-api/internal/models"
)

const (
	sessionResource     = "classroom_session"
	joinRequestResource = "join_request"
	enrollmentResource  = "session_enrollment"
	standardResource    = "standard"
)

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// auditTrail writes best-effort audit rows; failures are logged, never returned.
type auditTrail struct {
	store  auditLogger
	logger *zap.Logger
	source string
}

func (a auditTrail) record(ctx context.Context, actorID, action, resource, resourceID string, oldValues, newValues interface{}) {
	if a.store == nil {
		return
	}
	log := &models.AuditLog{
		Action:    action,
		Resource:  resource,
		IPAddress: "system",
		UserAgent: a.source,
	}
	if actorID != "" {
		log.UserID = &actorID
	}
	if resourceID != "" {
		log.ResourceID = &resourceID
	}
	if oldValues != nil {
		log.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		log.NewValues, _ = json.Marshal(newValues)
	}
	if err := a.store.CreateAuditLog(ctx, log); err != nil && a.logger != nil {
		a.logger.Warn("failed to record audit", zap.String("action", action), zap.Error(err))
	}
}
