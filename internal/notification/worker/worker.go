// Package worker drains the notification queue and sends emails.
package worker

import (
	"context"
	"html/template"
	"time"

	"github.com/smallbiznis/tenantbill/internal/config"
	"github.com/smallbiznis/tenantbill/internal/errkind"
	invoicedomain "github.com/smallbiznis/tenantbill/internal/invoice/domain"
	"github.com/smallbiznis/tenantbill/internal/invoice/render"
	"github.com/smallbiznis/tenantbill/internal/notification/domain"
	"github.com/smallbiznis/tenantbill/internal/observability/metrics"
	plandomain "github.com/smallbiznis/tenantbill/internal/plan/domain"
	"github.com/smallbiznis/tenantbill/internal/providers/email"
	subscriptiondomain "github.com/smallbiznis/tenantbill/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/tenantbill/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultPollTimeout = 5 * time.Second
	dequeueBackoff     = time.Second
	sendTimeout        = 30 * time.Second
)

type Params struct {
	fx.In

	Config        config.Config
	Log           *zap.Logger
	Queue         domain.Queue
	Email         email.Provider
	Templates     *email.Templates
	Renderer      render.Renderer
	Tenants       tenantdomain.Service
	Subscriptions subscriptiondomain.Service
	Plans         plandomain.Service
	Invoices      invoicedomain.Service
	Metrics       *metrics.Metrics `optional:"true"`
}

type Worker struct {
	log         *zap.Logger
	queue       domain.Queue
	email       email.Provider
	templates   *email.Templates
	renderer    render.Renderer
	tenants     tenantdomain.Service
	subs        subscriptiondomain.Service
	plans       plandomain.Service
	invoices    invoicedomain.Service
	metrics     *metrics.Metrics
	pollTimeout time.Duration
	maxAttempts int
}

func New(p Params) *Worker {
	pollTimeout := p.Config.Notification.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	maxAttempts := p.Config.Notification.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Worker{
		log:         p.Log.Named("notification.worker"),
		queue:       p.Queue,
		email:       p.Email,
		templates:   p.Templates,
		renderer:    p.Renderer,
		tenants:     p.Tenants,
		subs:        p.Subscriptions,
		plans:       p.Plans,
		invoices:    p.Invoices,
		metrics:     p.Metrics,
		pollTimeout: pollTimeout,
		maxAttempts: maxAttempts,
	}
}

// Run drains the queue until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("notification worker started", zap.Duration("poll_timeout", w.pollTimeout))
	for ctx.Err() == nil {
		if _, err := w.ProcessOne(ctx); err != nil && ctx.Err() == nil {
			w.log.Warn("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(dequeueBackoff):
			}
		}
	}
	w.log.Info("notification worker stopped")
}

// ProcessOne handles at most one job and reports whether one was taken off the queue.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	job, err := w.queue.Dequeue(ctx, w.pollTimeout)
	if err != nil {
		if errkind.IsValidation(err) {
			w.log.Warn("dropping undecodable notification", zap.Error(err))
			w.metrics.RecordNotification("unknown", metrics.OutcomeRejected)
			return true, nil
		}
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.handle(ctx, *job)
	return true, nil
}

func (w *Worker) handle(ctx context.Context, job domain.Job) {
	log := w.log.With(
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("tenant_id", job.TenantID.String()),
		zap.Int("attempts", job.Attempts),
	)

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	err := w.deliver(sendCtx, job)
	cancel()

	switch {
	case err == nil:
		w.metrics.RecordNotification(string(job.Kind), metrics.OutcomeSuccess)
		log.Info("notification sent")
	case errkind.IsNotFound(err) || errkind.IsValidation(err):
		w.metrics.RecordNotification(string(job.Kind), metrics.OutcomeRejected)
		log.Warn("dropping notification", zap.Error(err))
	case job.Attempts+1 < w.maxAttempts:
		w.metrics.RecordNotification(string(job.Kind), metrics.OutcomeFailed)
		job.Attempts++
		if qerr := w.queue.Enqueue(context.WithoutCancel(ctx), job); qerr != nil {
			log.Error("failed to requeue notification", zap.Error(err), zap.NamedError("queue_error", qerr))
			return
		}
		log.Warn("notification failed, requeued", zap.Error(err))
	default:
		w.metrics.RecordNotification(string(job.Kind), metrics.OutcomeFailed)
		log.Error("notification failed, giving up", zap.Error(err))
	}
}

func (w *Worker) deliver(ctx context.Context, job domain.Job) error {
	if !job.Kind.Valid() || job.TenantID == 0 {
		return domain.ErrInvalidJob
	}
	tenant, err := w.tenants.Get(ctx, job.TenantID)
	if err != nil {
		return err
	}
	if tenant.Email == "" {
		return domain.ErrRecipientEmpty
	}

	data, err := w.data(ctx, job, tenant)
	if err != nil {
		return err
	}
	subject, body, err := w.templates.Render(string(job.Kind), data)
	if err != nil {
		return err
	}
	return w.email.Send(ctx, email.Message{
		To:      []string{tenant.Email},
		Subject: subject,
		HTML:    body,
	})
}

func (w *Worker) data(ctx context.Context, job domain.Job, tenant tenantdomain.Tenant) (email.Data, error) {
	data := email.Data{TenantName: tenant.Name}

	switch job.Kind {
	case domain.KindSubscriptionCreated, domain.KindSubscriptionCanceled:
		sub, err := w.subs.Get(ctx, tenant.ID, job.SubscriptionID)
		if err != nil {
			return data, err
		}
		plan, err := w.plans.Get(ctx, sub.PlanID)
		if err != nil {
			return data, err
		}
		data.PlanName = plan.Name
		data.PeriodEnd = formatDate(&sub.CurrentPeriodEnd)
		data.TrialEndsAt = formatDate(sub.TrialEnd)

	case domain.KindTrialEndingSoon:
		data.TrialEndsAt = formatDate(tenant.TrialEndsAt)

	case domain.KindInvoiceGenerated, domain.KindPaymentSucceeded, domain.KindPaymentFailed, domain.KindPaymentReminder:
		inv, err := w.invoices.Get(ctx, tenant.ID, job.InvoiceID)
		if err != nil {
			return data, err
		}
		data.InvoiceNumber = inv.InvoiceNumber
		data.DueDate = formatDate(inv.DueDate)
		data.Amount = render.FormatMoney(inv.AmountDue, inv.Currency)
		if job.Kind == domain.KindPaymentSucceeded {
			data.Amount = render.FormatMoney(inv.AmountPaid, inv.Currency)
		}
		if job.Kind == domain.KindInvoiceGenerated {
			html, err := w.renderer.RenderHTML(render.RenderInput{
				Brand:      render.Brand{CompanyName: tenant.Name},
				TenantName: tenant.Name,
				Invoice:    inv,
			})
			if err != nil {
				return data, err
			}
			data.InvoiceHTML = template.HTML(html)
		}
	}
	return data, nil
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
