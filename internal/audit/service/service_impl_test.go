package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/tenantbill/internal/audit/domain"
	"github.com/smallbiznis/tenantbill/internal/audit/repository"
	"github.com/smallbiznis/tenantbill/internal/clock"
	obscontext "github.com/smallbiznis/tenantbill/internal/observability/context"
	tenantdomain "github.com/smallbiznis/tenantbill/internal/tenant/domain"
	tenantrepository "github.com/smallbiznis/tenantbill/internal/tenant/repository"
	"github.com/smallbiznis/tenantbill/internal/testutil"
	"github.com/smallbiznis/tenantbill/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *clock.FakeClock, snowflake.ID) {
	t.Helper()
	conn := testutil.OpenDB(t)
	genID := testutil.Node(t)
	clk := clock.NewFakeClock(now)

	tenant := tenantdomain.Tenant{ID: genID.Generate(), Name: "Acme", Slug: "acme", Email: "a@acme.test", IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := tenantrepository.Provide().Insert(context.Background(), conn, &tenant); err != nil {
		t.Fatalf("insert tenant: %v", err)
	}
	svc := NewService(Params{DB: conn, Log: zap.NewNop(), GenID: genID, Clock: clk, Repo: repository.Provide()}).(*Service)
	return svc, clk, tenant.ID
}

func TestAuditLogFallsBackToContextActor(t *testing.T) {
	svc, _, tenantID := newService(t)
	ctx := obscontext.WithRequestID(obscontext.WithActor(context.Background(), "tenant", tenantID.String()), "req-1")

	target := "42"
	if err := svc.AuditLog(ctx, &tenantID, "", nil, "invoice.paid", "invoice", &target, map[string]any{"amount": 2900}); err != nil {
		t.Fatalf("audit: %v", err)
	}

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{TenantID: tenantID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.AuditLogs) != 1 {
		t.Fatalf("expected 1 row, got %d", len(resp.AuditLogs))
	}
	row := resp.AuditLogs[0]
	if row.ActorType != "tenant" || row.ActorID == nil || *row.ActorID != tenantID.String() {
		t.Fatalf("unexpected actor %s %v", row.ActorType, row.ActorID)
	}
	if row.TargetID == nil || *row.TargetID != "42" || row.Metadata["request_id"] != "req-1" {
		t.Fatalf("unexpected row %+v", row)
	}
}

func TestAuditLogDefaultsToSystemActor(t *testing.T) {
	svc, _, tenantID := newService(t)

	err := svc.AuditLogTx(context.Background(), nil, auditdomain.Entry{TenantID: tenantID, Action: "subscription.renewed"})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	testutil.AssertCount(t, svc.db, 1,
		`SELECT COUNT(*) FROM audit_logs WHERE actor_type = 'system' AND target_type = 'unknown' AND actor_id IS NULL`)

	if err := svc.AuditLogTx(context.Background(), nil, auditdomain.Entry{TenantID: tenantID}); !errors.Is(err, auditdomain.ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}

func TestAuditLogTxRollsBackWithCaller(t *testing.T) {
	svc, _, tenantID := newService(t)
	boom := errors.New("boom")

	err := svc.db.Transaction(func(tx *gorm.DB) error {
		if err := svc.AuditLogTx(context.Background(), tx, auditdomain.Entry{TenantID: tenantID, Action: "invoice.generated"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	testutil.AssertCount(t, svc.db, 0, `SELECT COUNT(*) FROM audit_logs`)
}

func TestListPagesNewestFirst(t *testing.T) {
	svc, clk, tenantID := newService(t)
	ctx := context.Background()

	for _, action := range []string{"a.one", "a.two", "a.three"} {
		if err := svc.AuditLogTx(ctx, nil, auditdomain.Entry{TenantID: tenantID, Action: action, TargetType: "invoice"}); err != nil {
			t.Fatalf("audit: %v", err)
		}
		clk.Advance(time.Minute)
	}

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{TenantID: tenantID, Pagination: pagination.Pagination{PageSize: 2}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.AuditLogs) != 2 || !first.HasMore || first.AuditLogs[0].Action != "a.three" {
		t.Fatalf("unexpected first page %+v", first)
	}
	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		TenantID:   tenantID,
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(second.AuditLogs) != 1 || second.HasMore || second.AuditLogs[0].Action != "a.one" {
		t.Fatalf("unexpected second page %+v", second)
	}

	filtered, err := svc.List(ctx, auditdomain.ListAuditLogRequest{TenantID: tenantID, Action: "a.two"})
	if err != nil || len(filtered.AuditLogs) != 1 {
		t.Fatalf("expected 1 filtered row, got %+v err=%v", filtered, err)
	}

	start, end := now.Add(time.Hour), now
	if _, err := svc.List(ctx, auditdomain.ListAuditLogRequest{TenantID: tenantID, StartAt: &start, EndAt: &end}); !errors.Is(err, auditdomain.ErrInvalidTimeRange) {
		t.Fatalf("expected ErrInvalidTimeRange, got %v", err)
	}
}
