package rbac

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// logAudit creates an audit log entry. Failures are logged, never returned:
// the audited change has already been committed.
func (r *RBAC) logAudit(ctx context.Context, actorID *uuid.UUID, action, targetType string, targetID uuid.UUID, details string) {
	if !r.auditEnabled {
		return
	}
	audit := &AuditLog{
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID.String(),
		Details:    details,
		CreatedAt:  r.now(),
	}
	if err := r.db.WithContext(ctx).Create(audit).Error; err != nil {
		r.log.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

// AuditFilter narrows ListAuditLogs. Zero fields are ignored.
type AuditFilter struct {
	ActorID  *uuid.UUID
	TargetID *uuid.UUID
	Action   string
	Since    *time.Time
	Limit    int
}

// GetAuditLog retrieves an audit log by ID.
func (r *RBAC) GetAuditLog(ctx context.Context, id uint) (*AuditLog, error) {
	if id == 0 {
		return nil, ErrInvalidInput
	}

	var audit AuditLog
	if err := r.db.WithContext(ctx).First(&audit, id).Error; err != nil {
		return nil, wrapStoreErr("get audit log", err)
	}

	return &audit, nil
}

// ListAuditLogs retrieves audit logs, newest first.
func (r *RBAC) ListAuditLogs(ctx context.Context, filter AuditFilter) ([]AuditLog, error) {
	var audits []AuditLog
	query := r.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if filter.ActorID != nil {
		query = query.Where("actor_id = ?", *filter.ActorID)
	}
	if filter.TargetID != nil {
		query = query.Where("target_id = ?", filter.TargetID.String())
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", *filter.Since)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if err := query.Find(&audits).Error; err != nil {
		return nil, wrapStoreErr("list audit logs", err)
	}
	return audits, nil
}
