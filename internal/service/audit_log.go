package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/noah-isme/account-api/internal/models"
)

// auditEntry builds an audit row. Empty actor or resource ids are stored as NULL.
func auditEntry(actorID, action, resource, resourceID string, meta models.ClientMeta, oldValues, newValues map[string]interface{}) *models.AuditLog {
	entry := &models.AuditLog{
		Action:    action,
		Resource:  resource,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	if actorID != "" {
		entry.UserID = &actorID
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	if oldValues != nil {
		entry.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		entry.NewValues, _ = json.Marshal(newValues)
	}
	return entry
}

// writeAudit persists entry; audit failures never fail the request.
func writeAudit(ctx context.Context, w auditWriter, logger *zap.Logger, entry *models.AuditLog) {
	if w == nil || entry == nil {
		return
	}
	if err := w.CreateAuditLog(ctx, entry); err != nil {
		logger.Warn("failed to record audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}
