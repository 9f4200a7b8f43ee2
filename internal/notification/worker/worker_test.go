package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbill/internal/config"
	"github.com/smallbiznis/tenantbill/internal/errkind"
	invoicedomain "github.com/smallbiznis/tenantbill/internal/invoice/domain"
	"github.com/smallbiznis/tenantbill/internal/invoice/render"
	"github.com/smallbiznis/tenantbill/internal/notification/domain"
	"github.com/smallbiznis/tenantbill/internal/notification/queue"
	plandomain "github.com/smallbiznis/tenantbill/internal/plan/domain"
	"github.com/smallbiznis/tenantbill/internal/providers/email"
	subscriptiondomain "github.com/smallbiznis/tenantbill/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/tenantbill/internal/tenant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	tenantID       snowflake.ID = 10
	subscriptionID snowflake.ID = 20
	planID         snowflake.ID = 30
	invoiceID      snowflake.ID = 40
)

type fakeTenants struct {
	tenantdomain.Service
	items map[snowflake.ID]tenantdomain.Tenant
}

func (f fakeTenants) Get(_ context.Context, id snowflake.ID) (tenantdomain.Tenant, error) {
	item, ok := f.items[id]
	if !ok {
		return tenantdomain.Tenant{}, tenantdomain.ErrTenantNotFound
	}
	return item, nil
}

type fakeSubscriptions struct {
	subscriptiondomain.Service
	item subscriptiondomain.Subscription
}

func (f fakeSubscriptions) Get(_ context.Context, tenant, id snowflake.ID) (subscriptiondomain.Subscription, error) {
	if tenant != f.item.TenantID || id != f.item.ID {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return f.item, nil
}

type fakePlans struct {
	plandomain.Service
	item plandomain.Plan
}

func (f fakePlans) Get(_ context.Context, id snowflake.ID) (plandomain.Plan, error) {
	if id != f.item.ID {
		return plandomain.Plan{}, plandomain.ErrPlanNotFound
	}
	return f.item, nil
}

type fakeInvoices struct {
	invoicedomain.Service
	item invoicedomain.Invoice
}

func (f fakeInvoices) Get(_ context.Context, tenant, id snowflake.ID) (invoicedomain.Invoice, error) {
	if tenant != f.item.TenantID || id != f.item.ID {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return f.item, nil
}

type outbox struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (o *outbox) Send(_ context.Context, msg email.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, msg)
	return nil
}

type harness struct {
	worker *Worker
	queue  *queue.Memory
	outbox *outbox
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	templates, err := email.NewTemplates()
	require.NoError(t, err)

	trialEnd := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)
	due := time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC)
	inv := invoicedomain.Invoice{
		ID: invoiceID, TenantID: tenantID, InvoiceNumber: "INV-2026-ACME-004", Status: invoicedomain.InvoiceStatusOpen,
		Currency: "usd", Subtotal: 2900, InvoiceDate: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), DueDate: &due,
	}
	inv.Recalculate()
	require.NoError(t, inv.SetLines([]invoicedomain.LineItem{{Description: "Pro plan", Amount: 2900, Quantity: 1}}))

	h := &harness{queue: queue.NewMemory(16), outbox: &outbox{}}
	cfg := config.Config{}
	cfg.Notification.PollTimeout = 10 * time.Millisecond
	cfg.Notification.MaxAttempts = 3

	h.worker = New(Params{
		Config:    cfg,
		Log:       zap.NewNop(),
		Queue:     h.queue,
		Email:     h.outbox,
		Templates: templates,
		Renderer:  render.NewRenderer(),
		Tenants: fakeTenants{items: map[snowflake.ID]tenantdomain.Tenant{
			tenantID: {ID: tenantID, Name: "Acme", Email: "billing@acme.test", IsTrial: true, TrialEndsAt: &trialEnd},
		}},
		Subscriptions: fakeSubscriptions{item: subscriptiondomain.Subscription{
			ID: subscriptionID, TenantID: tenantID, PlanID: planID,
			CurrentPeriodEnd: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		}},
		Plans:    fakePlans{item: plandomain.Plan{ID: planID, Name: "Pro"}},
		Invoices: fakeInvoices{item: inv},
	})
	return h
}

func (h *harness) push(t *testing.T, job domain.Job) {
	t.Helper()
	if job.ID == "" {
		job.ID = "job-" + string(job.Kind)
	}
	require.NoError(t, h.queue.Enqueue(context.Background(), job))
}

func TestProcessOneEmptyQueue(t *testing.T) {
	h := newHarness(t)

	took, err := h.worker.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, took)
}

func TestInvoiceGeneratedEmbedsInvoice(t *testing.T) {
	h := newHarness(t)
	h.push(t, domain.InvoiceJob(domain.KindInvoiceGenerated, tenantID, invoiceID))

	took, err := h.worker.ProcessOne(context.Background())
	require.NoError(t, err)
	require.True(t, took)

	require.Len(t, h.outbox.sent, 1)
	msg := h.outbox.sent[0]
	assert.Equal(t, []string{"billing@acme.test"}, msg.To)
	assert.Equal(t, "Invoice INV-2026-ACME-004 is available", msg.Subject)
	assert.Contains(t, msg.HTML, "USD 29.00")
	assert.Contains(t, msg.HTML, "2026-05-15")
	assert.Contains(t, msg.HTML, "Pro plan")
}

func TestSubscriptionAndTrialKinds(t *testing.T) {
	h := newHarness(t)
	h.push(t, domain.SubscriptionCreated(tenantID, subscriptionID))
	h.push(t, domain.TrialEndingSoon(tenantID))

	for i := 0; i < 2; i++ {
		_, err := h.worker.ProcessOne(context.Background())
		require.NoError(t, err)
	}

	require.Len(t, h.outbox.sent, 2)
	assert.Equal(t, "Welcome to the Pro plan", h.outbox.sent[0].Subject)
	assert.Contains(t, h.outbox.sent[0].HTML, "2026-06-01")
	assert.Equal(t, "Your trial ends on 2026-04-15", h.outbox.sent[1].Subject)
}

func TestSendFailureRequeuesUntilMaxAttempts(t *testing.T) {
	h := newHarness(t)
	h.outbox.err = errkind.RemoteGateway("smtp_send_failed", errors.New("connection refused"))
	h.push(t, domain.InvoiceJob(domain.KindPaymentFailed, tenantID, invoiceID))

	for attempt := 1; attempt <= 2; attempt++ {
		_, err := h.worker.ProcessOne(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, h.queue.Len(), "attempt %d should requeue", attempt)
	}

	job, err := h.queue.Dequeue(context.Background(), time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.Attempts)
	require.NoError(t, h.queue.Enqueue(context.Background(), *job))

	_, err = h.worker.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, h.queue.Len())
	assert.Empty(t, h.outbox.sent)
}

func TestMissingEntitiesAreDropped(t *testing.T) {
	h := newHarness(t)
	h.push(t, domain.InvoiceJob(domain.KindPaymentReminder, tenantID, 999))
	h.push(t, domain.TrialEndingSoon(777))

	for i := 0; i < 2; i++ {
		_, err := h.worker.ProcessOne(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 0, h.queue.Len())
	assert.Empty(t, h.outbox.sent)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.push(t, domain.InvoiceJob(domain.KindPaymentSucceeded, tenantID, invoiceID))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.worker.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		h.outbox.mu.Lock()
		defer h.outbox.mu.Unlock()
		return len(h.outbox.sent) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop")
	}
}
