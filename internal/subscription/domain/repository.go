package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbill/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	TenantID snowflake.ID
	Status   SubscriptionStatus
	Cursor   *pagination.Cursor
	Limit    int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	// Update persists every mutable lifecycle field in one statement.
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Subscription, error)
	FindByExternalRef(ctx context.Context, db *gorm.DB, ref string) (*Subscription, error)
	FindByExternalRefForUpdate(ctx context.Context, db *gorm.DB, ref string) (*Subscription, error)
	FindLiveByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Subscription, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Subscription, error)
	ListByStatus(ctx context.Context, db *gorm.DB, status SubscriptionStatus, limit int) ([]Subscription, error)
	// ListDueForRenewal returns ACTIVE subscriptions whose period ended at or before now
	// and that have no invoice yet for the period starting at that end.
	ListDueForRenewal(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)
}
