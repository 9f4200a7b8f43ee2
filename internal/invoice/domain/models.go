// Package domain contains persistence models for invoicing.
package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "DRAFT"
	InvoiceStatusOpen          InvoiceStatus = "OPEN"
	InvoiceStatusPaid          InvoiceStatus = "PAID"
	InvoiceStatusVoid          InvoiceStatus = "VOID"
	InvoiceStatusUncollectible InvoiceStatus = "UNCOLLECTIBLE"
)

var transitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:         {InvoiceStatusOpen, InvoiceStatusPaid, InvoiceStatusVoid, InvoiceStatusUncollectible},
	InvoiceStatusOpen:          {InvoiceStatusPaid, InvoiceStatusVoid, InvoiceStatusUncollectible},
	InvoiceStatusUncollectible: {InvoiceStatusPaid, InvoiceStatusVoid},
}

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusOpen, InvoiceStatusPaid, InvoiceStatusVoid, InvoiceStatusUncollectible:
		return true
	}
	return false
}

// CanTransition reports whether an invoice may move from s to next.
// PAID and VOID are final.
func (s InvoiceStatus) CanTransition(next InvoiceStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// LineItem is one ordered entry on an invoice.
type LineItem struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	Quantity    int64  `json:"quantity"`
}

// Invoice represents a billing record for a tenant. Amounts are minor units.
type Invoice struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID   `gorm:"not null;index" json:"tenant_id"`
	SubscriptionID *snowflake.ID  `gorm:"index" json:"subscription_id,omitempty"`
	InvoiceNumber  string         `gorm:"not null;uniqueIndex" json:"invoice_number"`
	Status         InvoiceStatus  `gorm:"type:text;not null;default:'DRAFT'" json:"status"`
	Currency       string         `gorm:"type:text;not null" json:"currency"`
	Subtotal       int64          `gorm:"not null" json:"subtotal"`
	Tax            int64          `gorm:"not null" json:"tax"`
	Total          int64          `gorm:"not null" json:"total"`
	AmountPaid     int64          `gorm:"not null" json:"amount_paid"`
	AmountDue      int64          `gorm:"not null" json:"amount_due"`
	ExternalRef    *string        `gorm:"uniqueIndex" json:"external_ref,omitempty"`
	LineItems      datatypes.JSON `gorm:"not null" json:"line_items"`
	PeriodStart    *time.Time     `json:"period_start,omitempty"`
	PeriodEnd      *time.Time     `json:"period_end,omitempty"`
	InvoiceDate    time.Time      `gorm:"not null" json:"invoice_date"`
	DueDate        *time.Time     `json:"due_date,omitempty"`
	PaidAt         *time.Time     `json:"paid_at,omitempty"`
	ReminderSentAt *time.Time     `json:"-"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Lines decodes the stored line items. Malformed data yields no lines.
func (i Invoice) Lines() []LineItem {
	if len(i.LineItems) == 0 {
		return nil
	}
	var lines []LineItem
	if err := json.Unmarshal(i.LineItems, &lines); err != nil {
		return nil
	}
	return lines
}

func (i *Invoice) SetLines(lines []LineItem) error {
	if lines == nil {
		lines = []LineItem{}
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	i.LineItems = datatypes.JSON(raw)
	return nil
}

// Recalculate restores total = subtotal + tax and amount_due = total - amount_paid.
func (i *Invoice) Recalculate() {
	i.Total = i.Subtotal + i.Tax
	i.AmountDue = i.Total - i.AmountPaid
}

// Validate checks the amount invariants every persisted invoice holds.
func (i Invoice) Validate() error {
	if !i.Status.Valid() {
		return ErrInvalidStatus
	}
	if i.Subtotal < 0 || i.Tax < 0 || i.AmountPaid < 0 {
		return ErrInvalidAmount
	}
	if i.Total != i.Subtotal+i.Tax || i.AmountDue != i.Total-i.AmountPaid {
		return ErrInvalidAmount
	}
	if i.Currency == "" {
		return ErrInvalidCurrency
	}
	return nil
}

// MarkPaid settles the full total. Paying a PAID invoice again is a no-op.
func (i *Invoice) MarkPaid(now time.Time) (bool, error) {
	if i.Status == InvoiceStatusPaid {
		return false, nil
	}
	if !i.Status.CanTransition(InvoiceStatusPaid) {
		return false, ErrInvalidTransition
	}
	i.Status = InvoiceStatusPaid
	i.AmountPaid = i.Total
	i.Recalculate()
	i.PaidAt = &now
	i.UpdatedAt = now
	return true, nil
}

// MarkUncollectible records a failed collection attempt.
func (i *Invoice) MarkUncollectible(now time.Time) (bool, error) {
	if i.Status == InvoiceStatusUncollectible {
		return false, nil
	}
	if !i.Status.CanTransition(InvoiceStatusUncollectible) {
		return false, ErrInvalidTransition
	}
	i.Status = InvoiceStatusUncollectible
	i.UpdatedAt = now
	return true, nil
}

// Finalize moves a draft to OPEN.
func (i *Invoice) Finalize(now time.Time) (bool, error) {
	if i.Status == InvoiceStatusOpen {
		return false, nil
	}
	if !i.Status.CanTransition(InvoiceStatusOpen) {
		return false, ErrInvalidTransition
	}
	i.Status = InvoiceStatusOpen
	i.UpdatedAt = now
	return true, nil
}

// Mutable reports whether amounts and lines may still change.
func (i Invoice) Mutable() bool {
	return i.Status == InvoiceStatusDraft || i.Status == InvoiceStatusOpen
}
