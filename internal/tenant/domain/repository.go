package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tenant *Tenant) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*Tenant, error)
	FindByExternalCustomerRef(ctx context.Context, db *gorm.DB, ref string) (*Tenant, error)
	SetExternalCustomerRef(ctx context.Context, db *gorm.DB, id snowflake.ID, ref string, now time.Time) error
	ListExpiredTrials(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Tenant, error)
	ListTrialsEndingBefore(ctx context.Context, db *gorm.DB, now, cutoff time.Time, limit int) ([]Tenant, error)
	MarkTrialConverted(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	MarkTrialWarningSent(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
}
