package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbill/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListInvoiceRequest struct {
	TenantID snowflake.ID
	Status   string `form:"status"`
	pagination.Pagination
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

// DraftRequest bills one subscription period. Tax is derived from the
// configured rate.
type DraftRequest struct {
	TenantID       snowflake.ID
	SubscriptionID snowflake.ID
	Currency       string
	Lines          []LineItem
	PeriodStart    time.Time
	PeriodEnd      time.Time
}

// NewInvoice is a fully specified invoice, used for processor-issued invoices
// and seeded history.
type NewInvoice struct {
	TenantID       snowflake.ID
	SubscriptionID *snowflake.ID
	Status         InvoiceStatus
	Currency       string
	Subtotal       int64
	Tax            int64
	AmountPaid     int64
	ExternalRef    *string
	Lines          []LineItem
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	InvoiceDate    time.Time
	DueDate        *time.Time
	PaidAt         *time.Time
}

// ExternalInvoice is a processor-issued invoice resolved to its local owner.
type ExternalInvoice struct {
	TenantID       snowflake.ID
	SubscriptionID *snowflake.ID
	ExternalRef    string
	Status         InvoiceStatus
	Currency       string
	Subtotal       int64
	Tax            int64
	Lines          []LineItem
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	InvoiceDate    time.Time
	DueDate        *time.Time
}

type Service interface {
	// CreateDraftForPeriodTx returns the existing invoice for the subscription
	// period when there is one; created reports whether a new draft was written.
	CreateDraftForPeriodTx(ctx context.Context, tx *gorm.DB, req DraftRequest) (invoice Invoice, created bool, err error)
	CreateTx(ctx context.Context, tx *gorm.DB, req NewInvoice) (Invoice, error)
	// UpsertExternalTx finds the invoice by external reference, adopts a local
	// draft for the same subscription period, or creates it. Paid state is only
	// reached through MarkPaidTx.
	UpsertExternalTx(ctx context.Context, tx *gorm.DB, req ExternalInvoice) (invoice Invoice, created bool, err error)
	MarkPaidTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (invoice Invoice, changed bool, err error)
	MarkUncollectibleTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (invoice Invoice, changed bool, err error)
	ListDueForReminder(ctx context.Context, limit int) ([]Invoice, error)
	MarkReminderSent(ctx context.Context, id snowflake.ID) error
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	Get(ctx context.Context, tenantID, id snowflake.ID) (Invoice, error)
}
