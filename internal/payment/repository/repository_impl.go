package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbill/internal/payment/domain"
	"github.com/smallbiznis/tenantbill/pkg/db"
	"gorm.io/gorm"
)

const paymentColumns = `id, tenant_id, invoice_id, amount, currency, status, method, failure_code,
	failure_message, external_intent_ref, external_charge_ref, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, p *domain.Payment) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.TenantID,
		p.InvoiceID,
		p.Amount,
		p.Currency,
		p.Status,
		p.Method,
		p.FailureCode,
		p.FailureMessage,
		p.ExternalIntentRef,
		p.ExternalChargeRef,
		p.CreatedAt,
		p.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, conn *gorm.DB, p *domain.Payment) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE payments
		 SET amount = ?, currency = ?, status = ?, method = ?, failure_code = ?, failure_message = ?,
		     external_charge_ref = ?, updated_at = ?
		 WHERE id = ?`,
		p.Amount,
		p.Currency,
		p.Status,
		p.Method,
		p.FailureCode,
		p.FailureMessage,
		p.ExternalChargeRef,
		p.UpdatedAt,
		p.ID,
	).Error
}

func (r *repo) FindByIntentRefForUpdate(ctx context.Context, conn *gorm.DB, ref string) (*domain.Payment, error) {
	var item domain.Payment
	err := conn.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE external_intent_ref = ?`+db.ForUpdate(conn),
		ref,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByInvoice(ctx context.Context, conn *gorm.DB, invoiceID snowflake.ID) ([]domain.Payment, error) {
	var items []domain.Payment
	err := conn.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE invoice_id = ? ORDER BY created_at ASC, id ASC`,
		invoiceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
