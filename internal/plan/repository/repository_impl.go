package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbill/internal/plan/domain"
	"gorm.io/gorm"
)

const planColumns = `id, code, name, description, price, currency, billing_interval, trial_days,
	max_users, max_api_calls, max_storage_gb, features, is_active, is_public,
	external_price_ref, external_product_ref, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO plans (`+planColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.Code,
		plan.Name,
		plan.Description,
		plan.Price,
		plan.Currency,
		plan.Interval,
		plan.TrialDays,
		plan.MaxUsers,
		plan.MaxAPICalls,
		plan.MaxStorageGB,
		plan.Features,
		plan.IsActive,
		plan.IsPublic,
		plan.ExternalPriceRef,
		plan.ExternalProductRef,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	return r.findOne(ctx, db, `SELECT `+planColumns+` FROM plans WHERE id = ?`, id)
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Plan, error) {
	return r.findOne(ctx, db, `SELECT `+planColumns+` FROM plans WHERE code = ?`, code)
}

func (r *repo) FindByExternalPriceRef(ctx context.Context, db *gorm.DB, ref string) (*domain.Plan, error) {
	return r.findOne(ctx, db, `SELECT `+planColumns+` FROM plans WHERE external_price_ref = ?`, ref)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Plan, error) {
	var plan domain.Plan
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&plan).Error; err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) ListPublic(ctx context.Context, db *gorm.DB) ([]domain.Plan, error) {
	var plans []domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT `+planColumns+` FROM plans
		 WHERE is_active = ? AND is_public = ?
		 ORDER BY price ASC, id ASC`,
		true, true,
	).Scan(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}
