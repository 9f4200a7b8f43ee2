package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	// RecordAttemptTx creates or advances the payment identified by the
	// attempt's intent reference. changed is false when nothing was written.
	RecordAttemptTx(ctx context.Context, tx *gorm.DB, tenantID, invoiceID snowflake.ID, attempt Attempt) (payment Payment, changed bool, err error)
	ListByInvoice(ctx context.Context, invoiceID snowflake.ID) ([]Payment, error)
}
