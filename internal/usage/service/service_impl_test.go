package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbill/internal/clock"
	"github.com/smallbiznis/tenantbill/internal/errkind"
	"github.com/smallbiznis/tenantbill/internal/testutil"
	usagedomain "github.com/smallbiznis/tenantbill/internal/usage/domain"
	"github.com/smallbiznis/tenantbill/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var start = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func newUsageService(t *testing.T) (*Service, *clock.FakeClock) {
	t.Helper()
	conn := testutil.OpenDB(t)
	for _, id := range []snowflake.ID{1, 2} {
		require.NoError(t, conn.Exec(
			`INSERT INTO tenants (id, name, slug, email, created_at, updated_at) VALUES (?, ?, ?, '', ?, ?)`,
			id, "Tenant "+id.String(), "tenant-"+id.String(), start, start,
		).Error)
	}
	fake := clock.NewFakeClock(start)
	svc := NewService(ServiceParam{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Clock: fake,
		Repo:  repository.Provide(),
	}).(*Service)
	return svc, fake
}

func record(t *testing.T, svc *Service, tenantID snowflake.ID, metric usagedomain.MetricType, value float64, at time.Time) {
	t.Helper()
	_, err := svc.Record(context.Background(), tenantID, usagedomain.RecordRequest{
		MetricType:  metric,
		Value:       value,
		Unit:        "calls",
		PeriodStart: at,
		PeriodEnd:   at.Add(time.Hour),
	})
	require.NoError(t, err)
}

func TestRecordValidation(t *testing.T) {
	svc, _ := newUsageService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  usagedomain.RecordRequest
		want error
	}{
		{name: "unknown metric", req: usagedomain.RecordRequest{MetricType: "cpu", Value: 1, Unit: "s", PeriodStart: start, PeriodEnd: start.Add(time.Hour)}, want: usagedomain.ErrInvalidMetricType},
		{name: "negative value", req: usagedomain.RecordRequest{MetricType: usagedomain.MetricAPICalls, Value: -1, Unit: "calls", PeriodStart: start, PeriodEnd: start.Add(time.Hour)}, want: usagedomain.ErrInvalidValue},
		{name: "missing unit", req: usagedomain.RecordRequest{MetricType: usagedomain.MetricAPICalls, Value: 1, PeriodStart: start, PeriodEnd: start.Add(time.Hour)}, want: usagedomain.ErrInvalidUnit},
		{name: "inverted period", req: usagedomain.RecordRequest{MetricType: usagedomain.MetricAPICalls, Value: 1, Unit: "calls", PeriodStart: start, PeriodEnd: start}, want: usagedomain.ErrInvalidPeriod},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Record(ctx, 1, tc.req)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, errkind.IsValidation(err))
		})
	}
}

func TestAggregateSummarizesWindowPerTenantAndMetric(t *testing.T) {
	svc, fake := newUsageService(t)
	ctx := context.Background()

	record(t, svc, 1, usagedomain.MetricAPICalls, 10, start.Add(-48*time.Hour))
	record(t, svc, 1, usagedomain.MetricAPICalls, 30, start.Add(-24*time.Hour))
	record(t, svc, 1, usagedomain.MetricStorage, 2, start.Add(-24*time.Hour))
	record(t, svc, 2, usagedomain.MetricAPICalls, 5, start.Add(-24*time.Hour))
	// outside the window
	record(t, svc, 1, usagedomain.MetricAPICalls, 1000, start.Add(-40*24*time.Hour))

	res, err := svc.Aggregate(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Summaries)

	summaries, err := svc.Summary(ctx, 1)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, usagedomain.MetricAPICalls, summaries[0].MetricType)
	assert.Equal(t, 40.0, summaries[0].Total)
	assert.Equal(t, int64(2), summaries[0].SampleCount)
	assert.Equal(t, 30.0, summaries[0].MaxValue)
	assert.Equal(t, usagedomain.MetricStorage, summaries[1].MetricType)

	// Raw metrics are never touched by aggregation.
	testutil.AssertCount(t, svc.db, 5, "SELECT COUNT(*) FROM usage_metrics")

	// A later run drops summaries that fell out of the window.
	fake.Advance(30 * 24 * time.Hour)
	record(t, svc, 2, usagedomain.MetricAPICalls, 7, fake.Now().Add(-time.Hour))
	res, err = svc.Aggregate(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Summaries)
	assert.Equal(t, int64(2), res.Pruned)

	summaries, err = svc.Summary(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, summaries)

	summaries, err = svc.Summary(ctx, 2)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 7.0, summaries[0].Total)
}

func TestAggregateIsRepeatable(t *testing.T) {
	svc, _ := newUsageService(t)
	ctx := context.Background()
	record(t, svc, 1, usagedomain.MetricBandwidth, 12.5, start.Add(-time.Hour))

	for i := 0; i < 2; i++ {
		_, err := svc.Aggregate(ctx, 24*time.Hour)
		require.NoError(t, err)
	}
	testutil.AssertCount(t, svc.db, 1, "SELECT COUNT(*) FROM usage_summaries")

	_, err := svc.Aggregate(ctx, 0)
	assert.ErrorIs(t, err, usagedomain.ErrInvalidWindow)
}

func TestListMetricsFiltersByType(t *testing.T) {
	svc, _ := newUsageService(t)
	ctx := context.Background()
	record(t, svc, 1, usagedomain.MetricAPICalls, 1, start.Add(-2*time.Hour))
	record(t, svc, 1, usagedomain.MetricUsers, 3, start.Add(-time.Hour))

	rows, err := svc.ListMetrics(ctx, 1, usagedomain.ListMetricsRequest{MetricType: usagedomain.MetricUsers})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3.0, rows[0].Value)
}
