package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, metric *UsageMetric) error
	ListMetrics(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, metricType MetricType, from, to time.Time, limit int) ([]UsageMetric, error)
	// UpsertSummaries recomputes usage_summaries from metrics whose period
	// starts in [from, to) and returns the number of summaries written.
	UpsertSummaries(ctx context.Context, db *gorm.DB, from, to, computedAt time.Time) (int64, error)
	// DeleteSummariesBefore drops summaries not refreshed by the latest run.
	DeleteSummariesBefore(ctx context.Context, db *gorm.DB, computedAt time.Time) (int64, error)
	ListSummaries(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]UsageSummary, error)
}
