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
	Status   InvoiceStatus
	Cursor   *pagination.Cursor
	Limit    int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	Update(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Invoice, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindByExternalRefForUpdate(ctx context.Context, db *gorm.DB, ref string) (*Invoice, error)
	FindBySubscriptionPeriodForUpdate(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodStart time.Time) (*Invoice, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Invoice, error)
	// ListDueForReminder returns unpaid invoices past their due date whose last
	// reminder is older than remindedBefore.
	ListDueForReminder(ctx context.Context, db *gorm.DB, now, remindedBefore time.Time, limit int) ([]Invoice, error)
	MarkReminderSent(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	// NextSequence increments and returns the per-tenant yearly invoice counter.
	NextSequence(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, year int) (int64, error)
}
