// Package stripe adapts the Stripe API to the gateway contract.
package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/tenantbill/internal/errkind"
	"github.com/smallbiznis/tenantbill/internal/gateway/domain"
	"github.com/smallbiznis/tenantbill/internal/observability/metrics"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	providerName    = "stripe"
	signatureHeader = "Stripe-Signature"
)

var tracer = otel.Tracer("tenantbill/gateway")

type Config struct {
	SecretKey        string
	WebhookSecret    string
	APIBaseURL       string
	Timeout          time.Duration
	WebhookTolerance time.Duration
}

// Client talks to Stripe with per-call deadlines and no client-side retries,
// so a timeout is always reported to the caller as a failure.
type Client struct {
	cfg           Config
	customers     *customer.Client
	subscriptions *subscription.Client
	metrics       *metrics.Metrics
	log           *zap.Logger
}

func New(cfg Config, m *metrics.Metrics, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = webhook.DefaultTolerance
	}
	if log == nil {
		log = zap.NewNop()
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if cfg.APIBaseURL != "" {
		backendCfg.URL = stripe.String(strings.TrimRight(cfg.APIBaseURL, "/"))
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	return &Client{
		cfg:           cfg,
		customers:     &customer.Client{B: backend, Key: cfg.SecretKey},
		subscriptions: &subscription.Client{B: backend, Key: cfg.SecretKey},
		metrics:       m,
		log:           log.Named("gateway.stripe"),
	}
}

func (c *Client) Provider() string        { return providerName }
func (c *Client) SignatureHeader() string { return signatureHeader }

func (c *Client) CreateCustomer(ctx context.Context, in domain.CreateCustomerInput) (domain.Customer, error) {
	var out domain.Customer
	err := c.call(ctx, "create_customer", func(ctx context.Context) error {
		params := &stripe.CustomerParams{
			Params: stripe.Params{Context: ctx},
			Email:  stripe.String(in.Email),
			Name:   stripe.String(in.Name),
		}
		params.AddMetadata("tenant_id", in.TenantID)
		params.SetIdempotencyKey("customer-" + in.TenantID)

		cust, err := c.customers.New(params)
		if err != nil {
			return err
		}
		out = domain.Customer{ID: cust.ID, Email: cust.Email}
		return nil
	})
	return out, err
}

func (c *Client) CreateSubscription(ctx context.Context, in domain.CreateSubscriptionInput) (domain.Subscription, error) {
	var out domain.Subscription
	err := c.call(ctx, "create_subscription", func(ctx context.Context) error {
		params := &stripe.SubscriptionParams{
			Params:   stripe.Params{Context: ctx},
			Customer: stripe.String(in.CustomerID),
			Items: []*stripe.SubscriptionItemsParams{
				{Price: stripe.String(in.PriceID)},
			},
		}
		if in.TrialDays > 0 {
			params.TrialPeriodDays = stripe.Int64(int64(in.TrialDays))
		}
		if in.PaymentMethodID != "" {
			params.DefaultPaymentMethod = stripe.String(in.PaymentMethodID)
		} else {
			params.PaymentBehavior = stripe.String("default_incomplete")
		}
		if in.TenantID != "" {
			params.AddMetadata("tenant_id", in.TenantID)
		}
		if in.IdempotencyKey != "" {
			params.SetIdempotencyKey(in.IdempotencyKey)
		}

		sub, err := c.subscriptions.New(params)
		if err != nil {
			return err
		}
		out, err = decodeSubscriptionResource(sub)
		return err
	})
	return out, err
}

func (c *Client) UpdateSubscription(ctx context.Context, id string, in domain.UpdateSubscriptionInput) (domain.Subscription, error) {
	var out domain.Subscription
	err := c.call(ctx, "update_subscription", func(ctx context.Context) error {
		params := &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}}
		if in.CancelAtPeriodEnd != nil {
			params.CancelAtPeriodEnd = stripe.Bool(*in.CancelAtPeriodEnd)
		}
		if in.PriceID != nil {
			current, err := c.subscriptions.Get(id, &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}})
			if err != nil {
				return err
			}
			itemID, err := firstItemID(current)
			if err != nil {
				return err
			}
			params.Items = []*stripe.SubscriptionItemsParams{
				{ID: stripe.String(itemID), Price: stripe.String(*in.PriceID)},
			}
			params.ProrationBehavior = stripe.String("create_prorations")
		}

		sub, err := c.subscriptions.Update(id, params)
		if err != nil {
			return err
		}
		out, err = decodeSubscriptionResource(sub)
		return err
	})
	return out, err
}

func (c *Client) CancelSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	var out domain.Subscription
	err := c.call(ctx, "cancel_subscription", func(ctx context.Context) error {
		sub, err := c.subscriptions.Cancel(id, &stripe.SubscriptionCancelParams{Params: stripe.Params{Context: ctx}})
		if err != nil {
			return err
		}
		out, err = decodeSubscriptionResource(sub)
		return err
	})
	return out, err
}

func (c *Client) RetrieveSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	var out domain.Subscription
	err := c.call(ctx, "retrieve_subscription", func(ctx context.Context) error {
		sub, err := c.subscriptions.Get(id, &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}})
		if err != nil {
			return err
		}
		out, err = decodeSubscriptionResource(sub)
		return err
	})
	return out, err
}

// VerifyWebhookSignature checks the Stripe-Signature header and decodes the event.
func (c *Client) VerifyWebhookSignature(payload []byte, signature string) (domain.Event, error) {
	if strings.TrimSpace(signature) == "" {
		return domain.Event{}, domain.ErrMissingSignature
	}
	if c.cfg.WebhookSecret == "" {
		return domain.Event{}, domain.ErrInvalidSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance: c.cfg.WebhookTolerance,
		// older endpoint versions are decoded through the legacy shims
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureErr(err) {
			return domain.Event{}, domain.ErrInvalidSignature.Wrap(err)
		}
		return domain.Event{}, domain.ErrInvalidPayload.Wrap(err)
	}
	return parseEvent(event)
}

func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "stripe."+op)
	span.SetAttributes(
		attribute.String("provider", providerName),
		attribute.String("gateway.operation", op),
	)
	defer span.End()

	started := time.Now()
	err := fn(ctx)
	c.metrics.RecordGatewayCall(providerName, op, time.Since(started), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op)
		c.log.Warn("stripe call failed", zap.String("operation", op), zap.Error(err))
		return errkind.RemoteGateway(op, err)
	}
	return nil
}

func decodeSubscriptionResource(sub *stripe.Subscription) (domain.Subscription, error) {
	if sub == nil || sub.ID == "" {
		return domain.Subscription{}, domain.ErrInvalidPayload
	}
	var legacy legacySubscription
	if sub.LastResponse != nil && len(sub.LastResponse.RawJSON) > 0 {
		_ = json.Unmarshal(sub.LastResponse.RawJSON, &legacy)
	}
	return subscriptionToDomain(sub, legacy), nil
}

func firstItemID(sub *stripe.Subscription) (string, error) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0] == nil || sub.Items.Data[0].ID == "" {
		return "", domain.ErrInvalidPayload
	}
	return sub.Items.Data[0].ID, nil
}
