package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/tenantbill/internal/audit/domain"
	"gorm.io/gorm"
)

const auditColumns = `id, tenant_id, actor_type, actor_id, action, target_type, target_id, metadata, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return conn.WithContext(ctx).Exec(
		`INSERT INTO audit_logs (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.TenantID,
		entry.ActorType,
		entry.ActorID,
		entry.Action,
		entry.TargetType,
		entry.TargetID,
		entry.Metadata,
		entry.CreatedAt,
	).Error
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]domain.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE tenant_id = ?`
	args := []any{filter.TenantID}

	if action := strings.TrimSpace(filter.Action); action != "" {
		query += ` AND action = ?`
		args = append(args, action)
	}
	if targetType := strings.TrimSpace(filter.TargetType); targetType != "" {
		query += ` AND target_type = ?`
		args = append(args, targetType)
	}
	if targetID := strings.TrimSpace(filter.TargetID); targetID != "" {
		query += ` AND target_id = ?`
		args = append(args, targetID)
	}
	if actorType := strings.TrimSpace(filter.ActorType); actorType != "" {
		query += ` AND actor_type = ?`
		args = append(args, actorType)
	}
	if filter.StartAt != nil {
		query += ` AND created_at >= ?`
		args = append(args, filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		query += ` AND created_at <= ?`
		args = append(args, filter.EndAt.UTC())
	}
	if filter.Cursor != nil {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var logs []domain.AuditLog
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
