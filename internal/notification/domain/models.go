// Package domain defines notification jobs and the queue contract.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindSubscriptionCreated  Kind = "subscription_created"
	KindPaymentSucceeded     Kind = "payment_succeeded"
	KindPaymentFailed        Kind = "payment_failed"
	KindTrialEndingSoon      Kind = "trial_ending_soon"
	KindSubscriptionCanceled Kind = "subscription_canceled"
	KindInvoiceGenerated     Kind = "invoice_generated"
	KindPaymentReminder      Kind = "payment_reminder"
)

func (k Kind) Valid() bool {
	switch k {
	case KindSubscriptionCreated, KindPaymentSucceeded, KindPaymentFailed, KindTrialEndingSoon,
		KindSubscriptionCanceled, KindInvoiceGenerated, KindPaymentReminder:
		return true
	}
	return false
}

// Job is one queued notification. IDs are ULIDs so queue dumps sort by enqueue time.
type Job struct {
	ID             string       `json:"id"`
	Kind           Kind         `json:"kind"`
	TenantID       snowflake.ID `json:"tenant_id"`
	SubscriptionID snowflake.ID `json:"subscription_id,omitempty"`
	InvoiceID      snowflake.ID `json:"invoice_id,omitempty"`
	Attempts       int          `json:"attempts"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Queue transports jobs from producers to the worker.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks up to timeout and returns nil when no job arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)
}

// Notifier is what billing code calls. It never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, job Job)
}

func SubscriptionCreated(tenantID, subscriptionID snowflake.ID) Job {
	return Job{Kind: KindSubscriptionCreated, TenantID: tenantID, SubscriptionID: subscriptionID}
}

func SubscriptionCanceled(tenantID, subscriptionID snowflake.ID) Job {
	return Job{Kind: KindSubscriptionCanceled, TenantID: tenantID, SubscriptionID: subscriptionID}
}

func TrialEndingSoon(tenantID snowflake.ID) Job {
	return Job{Kind: KindTrialEndingSoon, TenantID: tenantID}
}

func InvoiceJob(kind Kind, tenantID, invoiceID snowflake.ID) Job {
	return Job{Kind: kind, TenantID: tenantID, InvoiceID: invoiceID}
}
