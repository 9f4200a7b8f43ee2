package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbill/internal/tenant/domain"
	"github.com/smallbiznis/tenantbill/pkg/db"
	"gorm.io/gorm"
)

const tenantColumns = `id, name, slug, email, is_active, is_trial, trial_ends_at,
	external_customer_ref, trial_warning_sent_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, tenant *domain.Tenant) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO tenants (`+tenantColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tenant.ID,
		tenant.Name,
		tenant.Slug,
		tenant.Email,
		tenant.IsActive,
		tenant.IsTrial,
		tenant.TrialEndsAt,
		tenant.ExternalCustomerRef,
		tenant.TrialWarningSentAt,
		tenant.CreatedAt,
		tenant.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Tenant, error) {
	return r.findOne(ctx, conn, `SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Tenant, error) {
	return r.findOne(ctx, conn, `SELECT `+tenantColumns+` FROM tenants WHERE id = ?`+db.ForUpdate(conn), id)
}

func (r *repo) FindBySlug(ctx context.Context, conn *gorm.DB, slug string) (*domain.Tenant, error) {
	return r.findOne(ctx, conn, `SELECT `+tenantColumns+` FROM tenants WHERE slug = ?`, slug)
}

func (r *repo) FindByExternalCustomerRef(ctx context.Context, conn *gorm.DB, ref string) (*domain.Tenant, error) {
	return r.findOne(ctx, conn, `SELECT `+tenantColumns+` FROM tenants WHERE external_customer_ref = ?`, ref)
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, query string, args ...any) (*domain.Tenant, error) {
	var tenant domain.Tenant
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&tenant).Error; err != nil {
		return nil, err
	}
	if tenant.ID == 0 {
		return nil, nil
	}
	return &tenant, nil
}

func (r *repo) SetExternalCustomerRef(ctx context.Context, conn *gorm.DB, id snowflake.ID, ref string, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE tenants SET external_customer_ref = ?, updated_at = ? WHERE id = ?`,
		ref, now, id,
	).Error
}

func (r *repo) ListExpiredTrials(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]domain.Tenant, error) {
	var tenants []domain.Tenant
	err := conn.WithContext(ctx).Raw(
		`SELECT `+tenantColumns+` FROM tenants
		 WHERE is_trial = ? AND is_active = ? AND trial_ends_at IS NOT NULL AND trial_ends_at <= ?
		 ORDER BY trial_ends_at ASC, id ASC
		 LIMIT ?`,
		true, true, now, limit,
	).Scan(&tenants).Error
	if err != nil {
		return nil, err
	}
	return tenants, nil
}

func (r *repo) ListTrialsEndingBefore(ctx context.Context, conn *gorm.DB, now, cutoff time.Time, limit int) ([]domain.Tenant, error) {
	var tenants []domain.Tenant
	err := conn.WithContext(ctx).Raw(
		`SELECT `+tenantColumns+` FROM tenants
		 WHERE is_trial = ? AND is_active = ? AND trial_warning_sent_at IS NULL
		   AND trial_ends_at > ? AND trial_ends_at <= ?
		 ORDER BY trial_ends_at ASC, id ASC
		 LIMIT ?`,
		true, true, now, cutoff, limit,
	).Scan(&tenants).Error
	if err != nil {
		return nil, err
	}
	return tenants, nil
}

func (r *repo) MarkTrialConverted(ctx context.Context, conn *gorm.DB, id snowflake.ID, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE tenants SET is_trial = ?, updated_at = ? WHERE id = ?`,
		false, now, id,
	).Error
}

func (r *repo) Deactivate(ctx context.Context, conn *gorm.DB, id snowflake.ID, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE tenants SET is_active = ?, updated_at = ? WHERE id = ?`,
		false, now, id,
	).Error
}

func (r *repo) MarkTrialWarningSent(ctx context.Context, conn *gorm.DB, id snowflake.ID, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE tenants SET trial_warning_sent_at = ?, updated_at = ? WHERE id = ? AND trial_warning_sent_at IS NULL`,
		now, now, id,
	).Error
}
