package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbill/internal/subscription/domain"
	"github.com/smallbiznis/tenantbill/pkg/db"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, tenant_id, plan_id, status, external_ref, current_period_start,
	current_period_end, trial_start, trial_end, cancel_at_period_end, canceled_at, ended_at,
	gateway_event_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, sub *domain.Subscription) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.TenantID,
		sub.PlanID,
		sub.Status,
		sub.ExternalRef,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.TrialStart,
		sub.TrialEnd,
		sub.CancelAtPeriodEnd,
		sub.CanceledAt,
		sub.EndedAt,
		sub.GatewayEventAt,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, conn *gorm.DB, sub *domain.Subscription) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET plan_id = ?, status = ?, external_ref = ?, current_period_start = ?, current_period_end = ?,
		     trial_start = ?, trial_end = ?, cancel_at_period_end = ?, canceled_at = ?, ended_at = ?,
		     gateway_event_at = ?, updated_at = ?
		 WHERE id = ? AND tenant_id = ?`,
		sub.PlanID,
		sub.Status,
		sub.ExternalRef,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.TrialStart,
		sub.TrialEnd,
		sub.CancelAtPeriodEnd,
		sub.CanceledAt,
		sub.EndedAt,
		sub.GatewayEventAt,
		sub.UpdatedAt,
		sub.ID,
		sub.TenantID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, tenantID, id snowflake.ID) (*domain.Subscription, error) {
	return r.findOne(ctx, conn,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = ? AND id = ?`,
		tenantID, id,
	)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, tenantID, id snowflake.ID) (*domain.Subscription, error) {
	return r.findOne(ctx, conn,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = ? AND id = ?`+db.ForUpdate(conn),
		tenantID, id,
	)
}

func (r *repo) FindByExternalRef(ctx context.Context, conn *gorm.DB, ref string) (*domain.Subscription, error) {
	return r.findOne(ctx, conn,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_ref = ?`,
		ref,
	)
}

func (r *repo) FindByExternalRefForUpdate(ctx context.Context, conn *gorm.DB, ref string) (*domain.Subscription, error) {
	return r.findOne(ctx, conn,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_ref = ?`+db.ForUpdate(conn),
		ref,
	)
}

func (r *repo) FindLiveByTenant(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID) (*domain.Subscription, error) {
	return r.findOne(ctx, conn,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE tenant_id = ? AND status IN ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		tenantID, domain.LiveStatuses,
	)
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, query string, args ...any) (*domain.Subscription, error) {
	var sub domain.Subscription
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&sub).Error; err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

// List pages by (created_at, id) descending.
func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE tenant_id = ?`
	args := []any{filter.TenantID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.Cursor != nil {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, filter.Limit)

	var subs []domain.Subscription
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) ListByStatus(ctx context.Context, conn *gorm.DB, status domain.SubscriptionStatus, limit int) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	err := conn.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = ?
		 ORDER BY updated_at ASC, id ASC
		 LIMIT ?`,
		status, limit,
	).Scan(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) ListDueForRenewal(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	err := conn.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = ? AND current_period_end <= ?
		   AND NOT EXISTS (
		     SELECT 1 FROM invoices
		     WHERE invoices.subscription_id = subscriptions.id
		       AND invoices.period_start = subscriptions.current_period_end
		   )
		 ORDER BY current_period_end ASC, id ASC
		 LIMIT ?`,
		domain.SubscriptionStatusActive, now, limit,
	).Scan(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}
