package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/tenantbill/internal/audit/domain"
	"github.com/smallbiznis/tenantbill/internal/config"
	"github.com/smallbiznis/tenantbill/internal/gateway"
	invoicedomain "github.com/smallbiznis/tenantbill/internal/invoice/domain"
	"github.com/smallbiznis/tenantbill/internal/invoice/pdf"
	"github.com/smallbiznis/tenantbill/internal/observability"
	obsmiddleware "github.com/smallbiznis/tenantbill/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tenantbill/internal/observability/metrics"
	obstracing "github.com/smallbiznis/tenantbill/internal/observability/tracing"
	onboardingdomain "github.com/smallbiznis/tenantbill/internal/onboarding/domain"
	paymentdomain "github.com/smallbiznis/tenantbill/internal/payment/domain"
	plandomain "github.com/smallbiznis/tenantbill/internal/plan/domain"
	"github.com/smallbiznis/tenantbill/internal/ratelimit"
	reconciledomain "github.com/smallbiznis/tenantbill/internal/reconcile/domain"
	subscriptiondomain "github.com/smallbiznis/tenantbill/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/tenantbill/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/tenantbill/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Module serves every HTTP route on cfg.HTTPAddr.
var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) {
		s.RegisterRoutes()
	}),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log = log.Named("http")

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	tenantSvc       tenantdomain.Service
	planSvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
	invoiceSvc      invoicedomain.Service
	paymentSvc      paymentdomain.Service
	usageSvc        usagedomain.Service
	onboardingSvc   onboardingdomain.Service
	reconcileSvc    reconciledomain.Service
	gateways        *gateway.Registry
	pdfRenderer     pdf.Renderer
	usageLimiter    *ratelimit.UsageLimiter
	auditSvc        auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	TenantSvc       tenantdomain.Service
	PlanSvc         plandomain.Service
	SubscriptionSvc subscriptiondomain.Service
	InvoiceSvc      invoicedomain.Service
	PaymentSvc      paymentdomain.Service
	UsageSvc        usagedomain.Service
	OnboardingSvc   onboardingdomain.Service
	ReconcileSvc    reconciledomain.Service
	Gateways        *gateway.Registry
	PDFRenderer     pdf.Renderer
	UsageLimiter    *ratelimit.UsageLimiter `optional:"true"`
	AuditSvc        auditdomain.Service     `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		tenantSvc:       p.TenantSvc,
		planSvc:         p.PlanSvc,
		subscriptionSvc: p.SubscriptionSvc,
		invoiceSvc:      p.InvoiceSvc,
		paymentSvc:      p.PaymentSvc,
		usageSvc:        p.UsageSvc,
		onboardingSvc:   p.OnboardingSvc,
		reconcileSvc:    p.ReconcileSvc,
		gateways:        p.Gateways,
		pdfRenderer:     p.PDFRenderer,
		usageLimiter:    p.UsageLimiter,
		auditSvc:        p.AuditSvc,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	s.RegisterWebhookRoutes()
	s.RegisterAPIRoutes()
}

func (s *Server) RegisterWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandleGatewayWebhook)
}

func (s *Server) RegisterAPIRoutes() {
	v1 := s.engine.Group("/v1")

	// -------- Public --------
	v1.GET("/plans", s.ListPlans)
	v1.POST("/tenants", s.RegisterTenant)

	api := v1.Group("", s.TenantContext())

	api.GET("/tenant", s.GetCurrentTenant)

	// -------- Subscriptions --------
	api.GET("/subscriptions", s.ListSubscriptions)
	api.POST("/subscriptions", s.CreateSubscription)
	api.GET("/subscriptions/active", s.GetActiveSubscription)
	api.GET("/subscriptions/:id", s.GetSubscriptionByID)
	api.PATCH("/subscriptions/:id", s.ChangeSubscriptionPlan)
	api.DELETE("/subscriptions/:id", s.CancelSubscription)
	api.POST("/subscriptions/:id/resume", s.ResumeSubscription)

	// -------- Invoices --------
	api.GET("/invoices", s.ListInvoices)
	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.GET("/invoices/:id/pdf", s.RenderInvoicePDF)
	api.GET("/invoices/:id/payments", s.ListInvoicePayments)

	// -------- Usage --------
	api.POST("/usage", s.UsageIngestRateLimit(), s.RecordUsage)
	api.GET("/usage", s.ListUsage)
	api.GET("/usage/summary", s.GetUsageSummary)

	// -------- Audit --------
	if s.auditSvc != nil {
		api.GET("/audit-logs", s.ListAuditLogs)
	}
}
