package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbill/internal/clock"
	"github.com/smallbiznis/tenantbill/internal/errkind"
	"github.com/smallbiznis/tenantbill/internal/gateway"
	gatewaydomain "github.com/smallbiznis/tenantbill/internal/gateway/domain"
	invoicedomain "github.com/smallbiznis/tenantbill/internal/invoice/domain"
	notificationdomain "github.com/smallbiznis/tenantbill/internal/notification/domain"
	"github.com/smallbiznis/tenantbill/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/tenantbill/internal/payment/domain"
	reconciledomain "github.com/smallbiznis/tenantbill/internal/reconcile/domain"
	subscriptiondomain "github.com/smallbiznis/tenantbill/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/tenantbill/internal/tenant/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("tenantbill/reconcile")

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          reconciledomain.Repository
	Gateways      *gateway.Registry
	Subscriptions subscriptiondomain.Service
	SubRepo       subscriptiondomain.Repository
	Tenants       tenantdomain.Repository
	Invoices      invoicedomain.Service
	InvoiceRepo   invoicedomain.Repository
	Payments      paymentdomain.Service
	Notifier      notificationdomain.Notifier
	Metrics       *metrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          reconciledomain.Repository
	gateways      *gateway.Registry
	subscriptions subscriptiondomain.Service
	subRepo       subscriptiondomain.Repository
	tenants       tenantdomain.Repository
	invoices      invoicedomain.Service
	invoiceRepo   invoicedomain.Repository
	payments      paymentdomain.Service
	notifier      notificationdomain.Notifier
	metrics       *metrics.Metrics
}

func NewService(p Params) reconciledomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("reconcile.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		gateways:      p.Gateways,
		subscriptions: p.Subscriptions,
		subRepo:       p.SubRepo,
		tenants:       p.Tenants,
		invoices:      p.Invoices,
		invoiceRepo:   p.InvoiceRepo,
		payments:      p.Payments,
		notifier:      p.Notifier,
		metrics:       p.Metrics,
	}
}

// effects collects work that must wait for the event transaction to commit.
type effects struct {
	jobs    []notificationdomain.Job
	applied []subscriptiondomain.ApplyResult
}

func (e *effects) notify(job notificationdomain.Job) {
	e.jobs = append(e.jobs, job)
}

func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, signature string) (reconciledomain.Result, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	ctx, span := tracer.Start(ctx, "reconcile.ingest")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.provider", provider))

	client, err := s.gateways.Get(provider)
	if err != nil {
		return reconciledomain.Result{}, err
	}
	if len(payload) == 0 || !json.Valid(payload) {
		s.metrics.RecordWebhookEvent(provider, "", metrics.OutcomeRejected)
		return reconciledomain.Result{}, reconciledomain.ErrInvalidPayload
	}
	if strings.TrimSpace(signature) == "" {
		s.metrics.RecordWebhookEvent(provider, "", metrics.OutcomeRejected)
		return reconciledomain.Result{}, gatewaydomain.ErrMissingSignature
	}

	event, err := client.VerifyWebhookSignature(payload, signature)
	if err != nil {
		s.metrics.RecordWebhookEvent(provider, "", metrics.OutcomeRejected)
		s.log.Warn("webhook rejected",
			zap.String("provider", provider),
			zap.String("reason", errkind.Code(err)),
		)
		return reconciledomain.Result{}, err
	}
	event.ID = strings.TrimSpace(event.ID)
	if event.ID == "" {
		return reconciledomain.Result{}, reconciledomain.ErrInvalidEvent
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.clock.Now()
	}

	eventType := event.RawType
	if eventType == "" {
		eventType = string(event.Type)
	}
	span.SetAttributes(
		attribute.String("webhook.event_id", event.ID),
		attribute.String("webhook.event_type", eventType),
	)

	result := reconciledomain.Result{Provider: provider, EventID: event.ID, Type: eventType}
	var eff effects
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		record := reconciledomain.WebhookEvent{
			ID:         s.genID.Generate(),
			Provider:   provider,
			EventID:    event.ID,
			EventType:  eventType,
			Payload:    datatypes.JSON(payload),
			ReceivedAt: now,
		}
		inserted, err := s.repo.InsertEvent(ctx, tx, &record)
		if err != nil {
			return err
		}
		if !inserted {
			stored, err := s.repo.FindEventForUpdate(ctx, tx, provider, event.ID)
			if err != nil {
				return err
			}
			if stored == nil {
				return reconciledomain.ErrInvalidEvent
			}
			if stored.ProcessedAt != nil {
				result.Outcome = reconciledomain.OutcomeDuplicate
				return nil
			}
			record = *stored
		}

		outcome, err := s.dispatch(ctx, tx, event, &eff)
		if err != nil {
			return err
		}
		result.Outcome = outcome
		return s.repo.MarkProcessed(ctx, tx, record.ID, now, outcome)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		if errkind.IsConflict(err) {
			// Typically the replacement of a live subscription arriving before
			// the deletion of the old one. Nothing is recorded, so the
			// redelivery is applied once the deletion has landed.
			s.metrics.RecordWebhookEvent(provider, string(event.Type), metrics.OutcomeConflict)
			s.log.Warn("webhook event conflicts with local state, awaiting redelivery",
				zap.String("provider", provider),
				zap.String("event_id", event.ID),
				zap.String("event_type", eventType),
				zap.Error(err),
			)
			return reconciledomain.Result{}, err
		}
		s.metrics.RecordWebhookEvent(provider, string(event.Type), metrics.OutcomeFailed)
		s.log.Error("webhook reconciliation failed",
			zap.String("provider", provider),
			zap.String("event_id", event.ID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return reconciledomain.Result{}, err
	}

	for _, applied := range eff.applied {
		s.subscriptions.NotifyApplied(ctx, applied)
	}
	for _, job := range eff.jobs {
		s.notifier.Notify(ctx, job)
	}

	span.SetAttributes(attribute.String("webhook.outcome", string(result.Outcome)))
	s.metrics.RecordWebhookEvent(provider, string(event.Type), string(result.Outcome))
	s.log.Info("webhook processed",
		zap.String("provider", provider),
		zap.String("event_id", event.ID),
		zap.String("event_type", eventType),
		zap.String("outcome", string(result.Outcome)),
	)
	return result, nil
}
