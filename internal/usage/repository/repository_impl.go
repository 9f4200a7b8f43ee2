package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbill/internal/usage/domain"
	"gorm.io/gorm"
)

const metricColumns = `id, tenant_id, metric_type, value, unit, period_start, period_end, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, metric *domain.UsageMetric) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO usage_metrics (`+metricColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		metric.ID,
		metric.TenantID,
		metric.MetricType,
		metric.Value,
		metric.Unit,
		metric.PeriodStart,
		metric.PeriodEnd,
		metric.CreatedAt,
	).Error
}

func (r *repo) ListMetrics(
	ctx context.Context,
	conn *gorm.DB,
	tenantID snowflake.ID,
	metricType domain.MetricType,
	from, to time.Time,
	limit int,
) ([]domain.UsageMetric, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + metricColumns + ` FROM usage_metrics WHERE tenant_id = ?`
	args := []any{tenantID}
	if metricType != "" {
		query += ` AND metric_type = ?`
		args = append(args, metricType)
	}
	if !from.IsZero() {
		query += ` AND period_start >= ?`
		args = append(args, from)
	}
	if !to.IsZero() {
		query += ` AND period_end <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY period_start DESC, id DESC LIMIT ?`
	args = append(args, limit)

	var rows []domain.UsageMetric
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) UpsertSummaries(ctx context.Context, conn *gorm.DB, from, to, computedAt time.Time) (int64, error) {
	res := conn.WithContext(ctx).Exec(
		`INSERT INTO usage_summaries
		   (tenant_id, metric_type, window_start, window_end, total, sample_count, max_value, computed_at)
		 SELECT tenant_id, metric_type, ?, ?, SUM(value), COUNT(*), MAX(value), ?
		 FROM usage_metrics
		 WHERE period_start >= ? AND period_start < ?
		 GROUP BY tenant_id, metric_type
		 ON CONFLICT (tenant_id, metric_type) DO UPDATE
		 SET window_start = excluded.window_start,
		     window_end = excluded.window_end,
		     total = excluded.total,
		     sample_count = excluded.sample_count,
		     max_value = excluded.max_value,
		     computed_at = excluded.computed_at`,
		from,
		to,
		computedAt,
		from,
		to,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) DeleteSummariesBefore(ctx context.Context, conn *gorm.DB, computedAt time.Time) (int64, error) {
	res := conn.WithContext(ctx).Exec(`DELETE FROM usage_summaries WHERE computed_at < ?`, computedAt)
	return res.RowsAffected, res.Error
}

func (r *repo) ListSummaries(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID) ([]domain.UsageSummary, error) {
	var rows []domain.UsageSummary
	err := conn.WithContext(ctx).Raw(
		`SELECT tenant_id, metric_type, window_start, window_end, total, sample_count, max_value, computed_at
		 FROM usage_summaries
		 WHERE tenant_id = ?
		 ORDER BY metric_type ASC`,
		tenantID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
