// Package domain describes the payment processor contract the billing core relies on.
package domain

import (
	"context"
	"time"
)

// EventType is the processor-neutral name of a webhook event.
type EventType string

const (
	EventSubscriptionCreated  EventType = "subscription.created"
	EventSubscriptionUpdated  EventType = "subscription.updated"
	EventSubscriptionDeleted  EventType = "subscription.deleted"
	EventInvoiceCreated       EventType = "invoice.created"
	EventInvoicePaid          EventType = "invoice.paid"
	EventInvoicePaymentFailed EventType = "invoice.payment_failed"
	EventPaymentSucceeded     EventType = "payment.succeeded"
	EventPaymentFailed        EventType = "payment.failed"
	EventUnknown              EventType = "unknown"
)

type Customer struct {
	ID    string
	Email string
}

// Subscription is the processor's view of a subscription. Status is the
// processor's raw status string, lower case.
type Subscription struct {
	ID                 string
	CustomerID         string
	PriceID            string
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TrialStart         *time.Time
	TrialEnd           *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	EndedAt            *time.Time
	HasPaymentMethod   bool
}

type InvoiceLine struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	Quantity    int64  `json:"quantity"`
}

type Invoice struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	Number         string
	Status         string
	Currency       string
	Subtotal       int64
	Tax            int64
	Total          int64
	AmountPaid     int64
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	CreatedAt      time.Time
	DueDate        *time.Time
	Lines          []InvoiceLine
}

type Payment struct {
	IntentID       string
	ChargeID       string
	InvoiceID      string
	CustomerID     string
	Amount         int64
	Currency       string
	Method         string
	FailureCode    string
	FailureMessage string
}

// Event is a verified webhook event. Exactly one of Subscription, Invoice and
// Payment is set for known event types.
type Event struct {
	ID           string
	Provider     string
	Type         EventType
	RawType      string
	CreatedAt    time.Time
	Subscription *Subscription
	Invoice      *Invoice
	Payment      *Payment
}

type CreateCustomerInput struct {
	TenantID string
	Name     string
	Email    string
}

type CreateSubscriptionInput struct {
	CustomerID      string
	PriceID         string
	TrialDays       int
	PaymentMethodID string
	TenantID        string
	IdempotencyKey  string
}

// UpdateSubscriptionInput leaves nil fields untouched at the processor.
type UpdateSubscriptionInput struct {
	PriceID           *string
	CancelAtPeriodEnd *bool
}

// Client is implemented once per payment processor. Every method fails with a
// RemoteGateway error on transport failure, timeout or remote rejection.
type Client interface {
	Provider() string
	SignatureHeader() string
	CreateCustomer(ctx context.Context, in CreateCustomerInput) (Customer, error)
	CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (Subscription, error)
	UpdateSubscription(ctx context.Context, id string, in UpdateSubscriptionInput) (Subscription, error)
	CancelSubscription(ctx context.Context, id string) (Subscription, error)
	RetrieveSubscription(ctx context.Context, id string) (Subscription, error)
	// VerifyWebhookSignature authenticates payload against the signature header
	// and decodes it. It never touches the network.
	VerifyWebhookSignature(payload []byte, signature string) (Event, error)
}
