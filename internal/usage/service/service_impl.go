package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbill/internal/clock"
	"github.com/smallbiznis/tenantbill/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/tenantbill/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxListLimit = 500

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    usagedomain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    usagedomain.Repository
	metrics *metrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usage.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *Service) Record(ctx context.Context, tenantID snowflake.ID, req usagedomain.RecordRequest) (usagedomain.UsageMetric, error) {
	if tenantID == 0 {
		return usagedomain.UsageMetric{}, usagedomain.ErrInvalidTenant
	}
	if err := validateRecord(&req); err != nil {
		return usagedomain.UsageMetric{}, err
	}

	metric := usagedomain.UsageMetric{
		ID:          s.genID.Generate(),
		TenantID:    tenantID,
		MetricType:  req.MetricType,
		Value:       req.Value,
		Unit:        req.Unit,
		PeriodStart: req.PeriodStart.UTC(),
		PeriodEnd:   req.PeriodEnd.UTC(),
		CreatedAt:   s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, &metric); err != nil {
		return usagedomain.UsageMetric{}, err
	}
	return metric, nil
}

func (s *Service) ListMetrics(ctx context.Context, tenantID snowflake.ID, req usagedomain.ListMetricsRequest) ([]usagedomain.UsageMetric, error) {
	if tenantID == 0 {
		return nil, usagedomain.ErrInvalidTenant
	}
	if req.MetricType != "" && !req.MetricType.Valid() {
		return nil, usagedomain.ErrInvalidMetricType
	}
	limit := req.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListMetrics(ctx, s.db, tenantID, req.MetricType, req.From, req.To, limit)
}

func (s *Service) Aggregate(ctx context.Context, window time.Duration) (usagedomain.AggregateResult, error) {
	if window <= 0 {
		return usagedomain.AggregateResult{}, usagedomain.ErrInvalidWindow
	}

	now := s.clock.Now()
	result := usagedomain.AggregateResult{
		WindowStart: now.Add(-window),
		WindowEnd:   now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		written, err := s.repo.UpsertSummaries(ctx, tx, result.WindowStart, result.WindowEnd, now)
		if err != nil {
			return err
		}
		pruned, err := s.repo.DeleteSummariesBefore(ctx, tx, now)
		if err != nil {
			return err
		}
		result.Summaries = written
		result.Pruned = pruned
		return nil
	})
	if err != nil {
		return usagedomain.AggregateResult{}, err
	}

	s.metrics.AddUsageSummaries(int(result.Summaries))
	s.log.Info("usage aggregated",
		zap.Time("window_start", result.WindowStart),
		zap.Time("window_end", result.WindowEnd),
		zap.Int64("summaries", result.Summaries),
		zap.Int64("pruned", result.Pruned),
	)
	return result, nil
}

func (s *Service) Summary(ctx context.Context, tenantID snowflake.ID) ([]usagedomain.UsageSummary, error) {
	if tenantID == 0 {
		return nil, usagedomain.ErrInvalidTenant
	}
	return s.repo.ListSummaries(ctx, s.db, tenantID)
}

func validateRecord(req *usagedomain.RecordRequest) error {
	req.MetricType = usagedomain.MetricType(strings.ToLower(strings.TrimSpace(string(req.MetricType))))
	if !req.MetricType.Valid() {
		return usagedomain.ErrInvalidMetricType
	}
	if math.IsNaN(req.Value) || math.IsInf(req.Value, 0) || req.Value < 0 {
		return usagedomain.ErrInvalidValue
	}
	req.Unit = strings.TrimSpace(req.Unit)
	if req.Unit == "" || len(req.Unit) > 20 {
		return usagedomain.ErrInvalidUnit
	}
	if req.PeriodStart.IsZero() || req.PeriodEnd.IsZero() || !req.PeriodStart.Before(req.PeriodEnd) {
		return usagedomain.ErrInvalidPeriod
	}
	return nil
}
