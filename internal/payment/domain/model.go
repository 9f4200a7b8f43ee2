package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusSucceeded PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
	PaymentStatusCanceled  PaymentStatus = "CANCELED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusRefunded, PaymentStatusCanceled:
		return true
	}
	return false
}

// Terminal statuses are final, except that a succeeded payment may later be refunded.
func (s PaymentStatus) Terminal() bool {
	return s != PaymentStatusPending
}

// CanTransition reports whether a payment may move from s to next.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return next == PaymentStatusSucceeded || next == PaymentStatusFailed || next == PaymentStatusCanceled
	case PaymentStatusSucceeded:
		return next == PaymentStatusRefunded
	}
	return false
}

// Payment is one collection attempt against exactly one invoice.
type Payment struct {
	ID                snowflake.ID  `gorm:"primaryKey" json:"id"`
	TenantID          snowflake.ID  `gorm:"not null;index" json:"tenant_id"`
	InvoiceID         snowflake.ID  `gorm:"not null;index" json:"invoice_id"`
	Amount            int64         `gorm:"not null" json:"amount"`
	Currency          string        `gorm:"type:text;not null" json:"currency"`
	Status            PaymentStatus `gorm:"type:text;not null" json:"status"`
	Method            string        `json:"method"`
	FailureCode       *string       `json:"failure_code,omitempty"`
	FailureMessage    *string       `json:"failure_message,omitempty"`
	ExternalIntentRef *string       `gorm:"uniqueIndex" json:"external_intent_ref,omitempty"`
	ExternalChargeRef *string       `json:"external_charge_ref,omitempty"`
	CreatedAt         time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time     `gorm:"not null" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

// Attempt is a processor-reported payment outcome.
type Attempt struct {
	IntentRef      string
	ChargeRef      string
	Amount         int64
	Currency       string
	Method         string
	Status         PaymentStatus
	FailureCode    string
	FailureMessage string
}
