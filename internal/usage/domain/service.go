package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type RecordRequest struct {
	MetricType  MetricType `json:"metric_type"`
	Value       float64    `json:"value"`
	Unit        string     `json:"unit"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
}

type ListMetricsRequest struct {
	MetricType MetricType
	From       time.Time
	To         time.Time
	Limit      int
}

type AggregateResult struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Summaries   int64     `json:"summaries"`
	Pruned      int64     `json:"pruned"`
}

type Service interface {
	Record(ctx context.Context, tenantID snowflake.ID, req RecordRequest) (UsageMetric, error)
	ListMetrics(ctx context.Context, tenantID snowflake.ID, req ListMetricsRequest) ([]UsageMetric, error)
	// Aggregate rebuilds usage_summaries over the trailing window ending now.
	Aggregate(ctx context.Context, window time.Duration) (AggregateResult, error)
	Summary(ctx context.Context, tenantID snowflake.ID) ([]UsageSummary, error)
}
