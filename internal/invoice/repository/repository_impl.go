package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbill/internal/invoice/domain"
	"github.com/smallbiznis/tenantbill/pkg/db"
	"gorm.io/gorm"
)

const invoiceColumns = `id, tenant_id, subscription_id, invoice_number, status, currency, subtotal, tax,
	total, amount_paid, amount_due, external_ref, line_items, period_start, period_end, invoice_date,
	due_date, paid_at, reminder_sent_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, inv *domain.Invoice) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID,
		inv.TenantID,
		inv.SubscriptionID,
		inv.InvoiceNumber,
		inv.Status,
		inv.Currency,
		inv.Subtotal,
		inv.Tax,
		inv.Total,
		inv.AmountPaid,
		inv.AmountDue,
		inv.ExternalRef,
		inv.LineItems,
		inv.PeriodStart,
		inv.PeriodEnd,
		inv.InvoiceDate,
		inv.DueDate,
		inv.PaidAt,
		inv.ReminderSentAt,
		inv.CreatedAt,
		inv.UpdatedAt,
	).Error
}

// Update never rewrites invoice_number.
func (r *repo) Update(ctx context.Context, conn *gorm.DB, inv *domain.Invoice) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET subscription_id = ?, status = ?, currency = ?, subtotal = ?, tax = ?, total = ?,
		     amount_paid = ?, amount_due = ?, external_ref = ?, line_items = ?, period_start = ?,
		     period_end = ?, due_date = ?, paid_at = ?, updated_at = ?
		 WHERE id = ? AND tenant_id = ?`,
		inv.SubscriptionID,
		inv.Status,
		inv.Currency,
		inv.Subtotal,
		inv.Tax,
		inv.Total,
		inv.AmountPaid,
		inv.AmountDue,
		inv.ExternalRef,
		inv.LineItems,
		inv.PeriodStart,
		inv.PeriodEnd,
		inv.DueDate,
		inv.PaidAt,
		inv.UpdatedAt,
		inv.ID,
		inv.TenantID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, tenantID, id snowflake.ID) (*domain.Invoice, error) {
	return r.findOne(ctx, conn,
		`SELECT `+invoiceColumns+` FROM invoices WHERE tenant_id = ? AND id = ?`,
		tenantID, id,
	)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	return r.findOne(ctx, conn,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`+db.ForUpdate(conn),
		id,
	)
}

func (r *repo) FindByExternalRefForUpdate(ctx context.Context, conn *gorm.DB, ref string) (*domain.Invoice, error) {
	return r.findOne(ctx, conn,
		`SELECT `+invoiceColumns+` FROM invoices WHERE external_ref = ?`+db.ForUpdate(conn),
		ref,
	)
}

func (r *repo) FindBySubscriptionPeriodForUpdate(ctx context.Context, conn *gorm.DB, subscriptionID snowflake.ID, periodStart time.Time) (*domain.Invoice, error) {
	return r.findOne(ctx, conn,
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE subscription_id = ? AND period_start = ?`+db.ForUpdate(conn),
		subscriptionID, periodStart,
	)
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, query string, args ...any) (*domain.Invoice, error) {
	var inv domain.Invoice
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&inv).Error; err != nil {
		return nil, err
	}
	if inv.ID == 0 {
		return nil, nil
	}
	return &inv, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE tenant_id = ?`
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

	var items []domain.Invoice
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListDueForReminder(ctx context.Context, conn *gorm.DB, now, remindedBefore time.Time, limit int) ([]domain.Invoice, error) {
	var items []domain.Invoice
	err := conn.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE status IN ? AND amount_due > 0 AND due_date IS NOT NULL AND due_date <= ?
		   AND (reminder_sent_at IS NULL OR reminder_sent_at <= ?)
		 ORDER BY due_date ASC, id ASC
		 LIMIT ?`,
		[]domain.InvoiceStatus{domain.InvoiceStatusOpen, domain.InvoiceStatusUncollectible},
		now, remindedBefore, limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkReminderSent(ctx context.Context, conn *gorm.DB, id snowflake.ID, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE invoices SET reminder_sent_at = ? WHERE id = ?`,
		now, id,
	).Error
}

func (r *repo) NextSequence(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID, year int) (int64, error) {
	var seq int64
	err := conn.WithContext(ctx).Raw(
		`INSERT INTO invoice_number_sequences (tenant_id, year, last_value)
		 VALUES (?, ?, 1)
		 ON CONFLICT (tenant_id, year) DO UPDATE SET last_value = invoice_number_sequences.last_value + 1
		 RETURNING last_value`,
		tenantID, year,
	).Scan(&seq).Error
	if err != nil {
		return 0, err
	}
	return seq, nil
}
