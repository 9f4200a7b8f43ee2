package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/tenantbill/internal/audit"
	"github.com/smallbiznis/tenantbill/internal/cache"
	"github.com/smallbiznis/tenantbill/internal/clock"
	"github.com/smallbiznis/tenantbill/internal/config"
	"github.com/smallbiznis/tenantbill/internal/gateway"
	"github.com/smallbiznis/tenantbill/internal/gateway/gatewaytest"
	"github.com/smallbiznis/tenantbill/internal/invoice"
	"github.com/smallbiznis/tenantbill/internal/migration"
	"github.com/smallbiznis/tenantbill/internal/notification"
	"github.com/smallbiznis/tenantbill/internal/observability"
	"github.com/smallbiznis/tenantbill/internal/onboarding"
	"github.com/smallbiznis/tenantbill/internal/payment"
	"github.com/smallbiznis/tenantbill/internal/plan"
	plandomain "github.com/smallbiznis/tenantbill/internal/plan/domain"
	"github.com/smallbiznis/tenantbill/internal/ratelimit"
	"github.com/smallbiznis/tenantbill/internal/reconcile"
	"github.com/smallbiznis/tenantbill/internal/seed"
	"github.com/smallbiznis/tenantbill/internal/server"
	"github.com/smallbiznis/tenantbill/internal/subscription"
	"github.com/smallbiznis/tenantbill/internal/tenant"
	"github.com/smallbiznis/tenantbill/internal/usage"
	"go.uber.org/fx"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const remotePriceRef = "price_growth"

type testEnv struct {
	app     *fx.App
	server  *server.Server
	db      *gorm.DB
	gateway *gatewaytest.Fake
	baseURL string
	httpSrv *httptest.Server
}

var (
	env      *testEnv
	tenantNo atomic.Int64
	eventNo  atomic.Int64
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_PlanCatalogIsSeeded(t *testing.T) {
	var out struct {
		Data []plandomain.Plan `json:"data"`
	}
	resp, body := doJSON(t, http.MethodGet, "/v1/plans", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for plans, got %d: %s", resp.StatusCode, string(body))
	}
	decode(t, body, &out)

	codes := map[string]bool{}
	for _, p := range out.Data {
		codes[p.Code] = true
	}
	for _, code := range []string{"free", "starter", "pro", "growth"} {
		if !codes[code] {
			t.Fatalf("expected plan %q in public catalog, got %v", code, codes)
		}
	}
}

func TestE2E_TenantScopedRoutesRequireTenant(t *testing.T) {
	resp, body := doJSON(t, http.MethodGet, "/v1/subscriptions", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without tenant, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, http.MethodGet, "/v1/subscriptions", nil, map[string]string{
		server.HeaderTenant: "42",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for unknown tenant, got %d: %s", resp.StatusCode, string(body))
	}
}

func TestE2E_RegistrationStartsTrial(t *testing.T) {
	tenantID := registerTenant(t)

	var out struct {
		Data struct {
			ID          string     `json:"id"`
			IsActive    bool       `json:"is_active"`
			IsTrial     bool       `json:"is_trial"`
			TrialEndsAt *time.Time `json:"trial_ends_at"`
		} `json:"data"`
	}
	resp, body := doJSON(t, http.MethodGet, "/v1/tenant", nil, tenantHeaders(tenantID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for tenant, got %d: %s", resp.StatusCode, string(body))
	}
	decode(t, body, &out)

	if out.Data.ID != tenantID || !out.Data.IsActive || !out.Data.IsTrial {
		t.Fatalf("expected active trial tenant %s, got %+v", tenantID, out.Data)
	}
	if out.Data.TrialEndsAt == nil || !out.Data.TrialEndsAt.After(time.Now()) {
		t.Fatalf("expected trial end in the future, got %v", out.Data.TrialEndsAt)
	}
}

func TestE2E_LocalSubscriptionLifecycle(t *testing.T) {
	tenantID := registerTenant(t)
	headers := tenantHeaders(tenantID)

	sub := createSubscription(t, headers, "starter", "")
	if sub.Status != "TRIALING" || sub.ExternalRef != nil {
		t.Fatalf("expected local trialing subscription, got %+v", sub)
	}

	resp, body := doJSON(t, http.MethodPost, "/v1/subscriptions", map[string]any{"plan": "pro"}, headers)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected status 409 for second live subscription, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, http.MethodPatch, "/v1/subscriptions/"+sub.ID, map[string]any{"plan": "pro"}, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for plan change, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for cancel, got %d: %s", resp.StatusCode, string(body))
	}
	canceled := decodeSubscription(t, body)
	if !canceled.CancelAtPeriodEnd {
		t.Fatalf("expected cancel at period end, got %+v", canceled)
	}

	resp, body = doJSON(t, http.MethodPost, "/v1/subscriptions/"+sub.ID+"/resume", nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for resume, got %d: %s", resp.StatusCode, string(body))
	}
	if resumed := decodeSubscription(t, body); resumed.CancelAtPeriodEnd {
		t.Fatalf("expected resume to clear cancel at period end, got %+v", resumed)
	}

	resp, body = doJSON(t, http.MethodDelete, "/v1/subscriptions/"+sub.ID+"?immediately=true", nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for immediate cancel, got %d: %s", resp.StatusCode, string(body))
	}
	if ended := decodeSubscription(t, body); ended.Status != "CANCELED" {
		t.Fatalf("expected canceled subscription, got %+v", ended)
	}

	resp, body = doJSON(t, http.MethodGet, "/v1/subscriptions/active", nil, headers)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404 for active subscription, got %d: %s", resp.StatusCode, string(body))
	}
}

func TestE2E_SubscriptionsAreTenantScoped(t *testing.T) {
	owner := registerTenant(t)
	other := registerTenant(t)

	sub := createSubscription(t, tenantHeaders(owner), "starter", "")

	resp, body := doJSON(t, http.MethodGet, "/v1/subscriptions/"+sub.ID, nil, tenantHeaders(other))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404 across tenants, got %d: %s", resp.StatusCode, string(body))
	}
}

func TestE2E_RemoteBillingThroughWebhooks(t *testing.T) {
	tenantID := registerTenant(t)
	headers := tenantHeaders(tenantID)

	sub := createSubscription(t, headers, "growth", "pm_card_visa")
	if sub.Status != "ACTIVE" || sub.ExternalRef == nil {
		t.Fatalf("expected remote active subscription, got %+v", sub)
	}
	customerRef := currentCustomerRef(t, headers)

	now := time.Now().UTC()
	invoiceRef := fmt.Sprintf("in_e2e_%d", eventNo.Add(1))
	paid := map[string]any{
		"ID":        nextEventID(),
		"Type":      "invoice.paid",
		"RawType":   "invoice.paid",
		"CreatedAt": now,
		"Invoice": map[string]any{
			"ID":             invoiceRef,
			"CustomerID":     customerRef,
			"SubscriptionID": *sub.ExternalRef,
			"Status":         "paid",
			"Currency":       "usd",
			"Subtotal":       4900,
			"Total":          4900,
			"AmountPaid":     4900,
			"CreatedAt":      now,
			"Lines": []map[string]any{
				{"description": "Growth (Monthly)", "amount": 4900, "quantity": 1},
			},
		},
	}
	if outcome := deliverWebhook(t, paid); outcome != "applied" {
		t.Fatalf("expected invoice.paid to apply, got %q", outcome)
	}
	if outcome := deliverWebhook(t, paid); outcome != "duplicate" {
		t.Fatalf("expected redelivery to be a duplicate, got %q", outcome)
	}

	invoiceID := onlyInvoice(t, headers, "PAID")

	payment := map[string]any{
		"ID":        nextEventID(),
		"Type":      "payment.succeeded",
		"RawType":   "payment_intent.succeeded",
		"CreatedAt": now,
		"Payment": map[string]any{
			"IntentID":   fmt.Sprintf("pi_%s", invoiceRef),
			"ChargeID":   fmt.Sprintf("ch_%s", invoiceRef),
			"InvoiceID":  invoiceRef,
			"CustomerID": customerRef,
			"Amount":     4900,
			"Currency":   "usd",
			"Method":     "card",
		},
	}
	if outcome := deliverWebhook(t, payment); outcome != "applied" {
		t.Fatalf("expected payment.succeeded to apply, got %q", outcome)
	}

	var payments struct {
		Data []struct {
			Status string `json:"status"`
			Amount int64  `json:"amount"`
		} `json:"data"`
	}
	resp, body := doJSON(t, http.MethodGet, "/v1/invoices/"+invoiceID+"/payments", nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for payments, got %d: %s", resp.StatusCode, string(body))
	}
	decode(t, body, &payments)
	if len(payments.Data) != 1 || payments.Data[0].Status != "SUCCEEDED" || payments.Data[0].Amount != 4900 {
		t.Fatalf("expected one succeeded payment, got %+v", payments.Data)
	}

	pdfResp, pdfBody := doJSON(t, http.MethodGet, "/v1/invoices/"+invoiceID+"/pdf", nil, headers)
	if pdfResp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for pdf, got %d: %s", pdfResp.StatusCode, string(pdfBody))
	}
	if !bytes.HasPrefix(pdfBody, []byte("%PDF")) {
		t.Fatalf("expected a pdf document")
	}

	deleted := map[string]any{
		"ID":        nextEventID(),
		"Type":      "subscription.deleted",
		"RawType":   "customer.subscription.deleted",
		"CreatedAt": now.Add(time.Minute),
		"Subscription": map[string]any{
			"ID":         *sub.ExternalRef,
			"CustomerID": customerRef,
			"PriceID":    remotePriceRef,
			"Status":     "canceled",
			"CanceledAt": now.Add(time.Minute),
			"EndedAt":    now.Add(time.Minute),
		},
	}
	if outcome := deliverWebhook(t, deleted); outcome != "applied" {
		t.Fatalf("expected subscription.deleted to apply, got %q", outcome)
	}

	resp, body = doJSON(t, http.MethodGet, "/v1/subscriptions/"+sub.ID, nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for subscription, got %d: %s", resp.StatusCode, string(body))
	}
	if got := decodeSubscription(t, body); got.Status != "CANCELED" {
		t.Fatalf("expected webhook to cancel subscription, got %+v", got)
	}
}

func TestE2E_WebhookSignatureIsVerified(t *testing.T) {
	raw, err := json.Marshal(map[string]any{"ID": nextEventID(), "Type": "invoice.paid"})
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}

	resp, body := doRaw(t, http.MethodPost, "/webhooks/fake", raw, map[string]string{
		env.gateway.SignatureHeader(): "forged",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for forged signature, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doRaw(t, http.MethodPost, "/webhooks/unknown", raw, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown provider, got %d: %s", resp.StatusCode, string(body))
	}
}

func TestE2E_UsageIngestAndSummary(t *testing.T) {
	tenantID := registerTenant(t)
	headers := tenantHeaders(tenantID)

	periodEnd := time.Now().UTC().Truncate(time.Hour)
	periodStart := periodEnd.Add(-time.Hour)
	for i := 0; i < 3; i++ {
		resp, body := doJSON(t, http.MethodPost, "/v1/usage", map[string]any{
			"metric_type":  "API_CALLS",
			"value":        10,
			"unit":         "calls",
			"period_start": periodStart,
			"period_end":   periodEnd,
		}, headers)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("expected status 201 for usage, got %d: %s", resp.StatusCode, string(body))
		}
	}

	resp, body := doJSON(t, http.MethodPost, "/v1/usage", map[string]any{
		"metric_type":  "api_calls",
		"value":        -1,
		"unit":         "calls",
		"period_start": periodStart,
		"period_end":   periodEnd,
	}, headers)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400 for negative usage, got %d: %s", resp.StatusCode, string(body))
	}

	var metrics struct {
		Data []struct {
			MetricType string  `json:"metric_type"`
			Value      float64 `json:"value"`
		} `json:"data"`
	}
	resp, body = doJSON(t, http.MethodGet, "/v1/usage?metric_type=api_calls", nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for usage list, got %d: %s", resp.StatusCode, string(body))
	}
	decode(t, body, &metrics)
	if len(metrics.Data) != 3 {
		t.Fatalf("expected 3 usage records, got %d", len(metrics.Data))
	}
	for _, m := range metrics.Data {
		if m.MetricType != "api_calls" || m.Value != 10 {
			t.Fatalf("unexpected usage record %+v", m)
		}
	}

	resp, body = doJSON(t, http.MethodGet, "/v1/usage?from=yesterday", nil, headers)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad from, got %d: %s", resp.StatusCode, string(body))
	}
}

func startEnv() (*testEnv, error) {
	var (
		srv    *server.Server
		dbConn *gorm.DB
		plans  plandomain.Service
	)

	fake := gatewaytest.NewFake()
	cfg := config.Config{
		AppName:         "tenantbill",
		AppVersion:      "test",
		Environment:     "test",
		DBType:          "sqlite",
		SeedPlanCatalog: true,
		Observability: config.ObservabilityConfig{
			LogLevel:  "error",
			LogFormat: "json",
		},
	}

	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		fx.Supply(config.NewStaticBillingPolicyHolder(config.DefaultBillingPolicy())),
		observability.Module,
		fx.Provide(openDatabase),
		clock.Module,
		cache.Module,
		gateway.Module,
		fx.Decorate(func(*gateway.Registry) *gateway.Registry {
			return gateway.NewRegistry(fake)
		}),
		tenant.Module,
		plan.Module,
		audit.Module,
		subscription.Module,
		invoice.Module,
		payment.Module,
		usage.Module,
		reconcile.Module,
		onboarding.Module,
		ratelimit.Module,
		notification.Module,
		seed.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Invoke(func(s *server.Server) {
			s.RegisterRoutes()
		}),
		fx.Populate(&srv, &dbConn, &plans),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	if _, err := plans.Create(ctx, plandomain.CreatePlanRequest{
		Code:             "growth",
		Name:             "Growth",
		Price:            4900,
		Currency:         "usd",
		Interval:         plandomain.IntervalMonthly,
		IsPublic:         true,
		ExternalPriceRef: remotePriceRef,
	}); err != nil {
		_ = app.Stop(context.Background())
		return nil, err
	}

	httpSrv := httptest.NewServer(srv.Engine())

	return &testEnv{
		app:     app,
		server:  srv,
		db:      dbConn,
		gateway: fake,
		baseURL: httpSrv.URL,
		httpSrv: httpSrv,
	}, nil
}

// openDatabase pins one connection so every request shares the memory database.
func openDatabase(lc fx.Lifecycle) (*gorm.DB, error) {
	conn, err := gorm.Open(sqlite.Open("file:tenantbill_e2e?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Discard,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return sqlDB.Close()
		},
	})

	if err := migration.ApplySQLite(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
}

type subscriptionView struct {
	ID                string  `json:"id"`
	Status            string  `json:"status"`
	ExternalRef       *string `json:"external_ref"`
	CancelAtPeriodEnd bool    `json:"cancel_at_period_end"`
}

func registerTenant(t *testing.T) string {
	t.Helper()

	n := tenantNo.Add(1)
	var out struct {
		Data struct {
			Tenant struct {
				ID string `json:"id"`
			} `json:"tenant"`
		} `json:"data"`
	}
	resp, body := doJSON(t, http.MethodPost, "/v1/tenants", map[string]any{
		"name":  fmt.Sprintf("E2E Tenant %d", n),
		"email": fmt.Sprintf("billing+%d@e2e.test", n),
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201 for registration, got %d: %s", resp.StatusCode, string(body))
	}
	decode(t, body, &out)
	if out.Data.Tenant.ID == "" {
		t.Fatalf("expected tenant id in registration response: %s", string(body))
	}
	return out.Data.Tenant.ID
}

func createSubscription(t *testing.T, headers map[string]string, planCode, paymentMethod string) subscriptionView {
	t.Helper()

	payload := map[string]any{"plan": planCode}
	if paymentMethod != "" {
		payload["payment_method_id"] = paymentMethod
	}
	resp, body := doJSON(t, http.MethodPost, "/v1/subscriptions", payload, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201 for subscription, got %d: %s", resp.StatusCode, string(body))
	}
	return decodeSubscription(t, body)
}

func decodeSubscription(t *testing.T, body []byte) subscriptionView {
	t.Helper()
	var out struct {
		Data subscriptionView `json:"data"`
	}
	decode(t, body, &out)
	if out.Data.ID == "" {
		t.Fatalf("expected subscription in response: %s", string(body))
	}
	return out.Data
}

func currentCustomerRef(t *testing.T, headers map[string]string) string {
	t.Helper()
	var out struct {
		Data struct {
			ExternalCustomerRef string `json:"external_customer_ref"`
		} `json:"data"`
	}
	resp, body := doJSON(t, http.MethodGet, "/v1/tenant", nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for tenant, got %d: %s", resp.StatusCode, string(body))
	}
	decode(t, body, &out)
	if out.Data.ExternalCustomerRef == "" {
		t.Fatalf("expected tenant to be linked to a processor customer")
	}
	return out.Data.ExternalCustomerRef
}

func onlyInvoice(t *testing.T, headers map[string]string, status string) string {
	t.Helper()
	var out struct {
		Data []struct {
			ID         string `json:"id"`
			Status     string `json:"status"`
			Total      int64  `json:"total"`
			AmountPaid int64  `json:"amount_paid"`
		} `json:"data"`
	}
	resp, body := doJSON(t, http.MethodGet, "/v1/invoices?status="+status, nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for invoices, got %d: %s", resp.StatusCode, string(body))
	}
	decode(t, body, &out)
	if len(out.Data) != 1 {
		t.Fatalf("expected one %s invoice, got %d", status, len(out.Data))
	}
	inv := out.Data[0]
	if inv.Total != 4900 || inv.AmountPaid != 4900 {
		t.Fatalf("unexpected invoice amounts %+v", inv)
	}
	return inv.ID
}

func nextEventID() string {
	return fmt.Sprintf("evt_e2e_%d", eventNo.Add(1))
}

func deliverWebhook(t *testing.T, event map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}

	resp, body := doRaw(t, http.MethodPost, "/webhooks/"+env.gateway.Provider(), raw, map[string]string{
		env.gateway.SignatureHeader(): "valid",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for webhook, got %d: %s", resp.StatusCode, string(body))
	}
	var out struct {
		Data struct {
			Outcome string `json:"outcome"`
		} `json:"data"`
	}
	decode(t, body, &out)
	return out.Data.Outcome
}

func tenantHeaders(tenantID string) map[string]string {
	return map[string]string{server.HeaderTenant: tenantID}
}

func decode(t *testing.T, body []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("decode response %s: %v", string(body), err)
	}
}

func doJSON(t *testing.T, method, path string, payload any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode json: %v", err)
		}
	}
	return doRaw(t, method, path, raw, headers)
}

func doRaw(t *testing.T, method, path string, raw []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if raw != nil {
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, env.baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}
