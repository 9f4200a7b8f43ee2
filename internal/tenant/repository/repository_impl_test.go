package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbill/internal/tenant/domain"
	"github.com/smallbiznis/tenantbill/internal/testutil"
)

func TestListExpiredTrialsOnlyReturnsActiveExpired(t *testing.T) {
	db := testutil.OpenDB(t)
	r := &repo{}
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	rows := []domain.Tenant{
		{ID: 1, Name: "expired", Slug: "expired", IsActive: true, IsTrial: true, TrialEndsAt: &past},
		{ID: 2, Name: "running", Slug: "running", IsActive: true, IsTrial: true, TrialEndsAt: &future},
		{ID: 3, Name: "inactive", Slug: "inactive", IsActive: false, IsTrial: true, TrialEndsAt: &past},
		{ID: 4, Name: "paid", Slug: "paid", IsActive: true, IsTrial: false, TrialEndsAt: &past},
		{ID: 5, Name: "edge", Slug: "edge", IsActive: true, IsTrial: true, TrialEndsAt: &now},
	}
	for i := range rows {
		rows[i].CreatedAt = now
		rows[i].UpdatedAt = now
		if err := r.Insert(ctx, db, &rows[i]); err != nil {
			t.Fatalf("insert %s: %v", rows[i].Name, err)
		}
	}

	expired, err := r.ListExpiredTrials(ctx, db, now, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := map[snowflake.ID]bool{}
	for _, item := range expired {
		got[item.ID] = true
	}
	if len(got) != 2 || !got[1] || !got[5] {
		t.Fatalf("expected tenants 1 and 5, got %v", got)
	}

	ending, err := r.ListTrialsEndingBefore(ctx, db, now, now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("list ending: %v", err)
	}
	if len(ending) != 1 || ending[0].ID != 2 {
		t.Fatalf("expected tenant 2 ending soon, got %+v", ending)
	}

	if err := r.MarkTrialWarningSent(ctx, db, 2, now); err != nil {
		t.Fatalf("mark warning: %v", err)
	}
	ending, err = r.ListTrialsEndingBefore(ctx, db, now, now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("list ending: %v", err)
	}
	if len(ending) != 0 {
		t.Fatalf("expected warning to be sent once, got %d", len(ending))
	}
}

func TestDeactivateAndConvert(t *testing.T) {
	db := testutil.OpenDB(t)
	r := &repo{}
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	tenant := domain.Tenant{ID: 7, Name: "acme", Slug: "acme", IsActive: true, IsTrial: true, TrialEndsAt: &now, CreatedAt: now, UpdatedAt: now}
	if err := r.Insert(ctx, db, &tenant); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := r.SetExternalCustomerRef(ctx, db, 7, "cus_123", now); err != nil {
		t.Fatalf("set ref: %v", err)
	}
	if err := r.MarkTrialConverted(ctx, db, 7, now); err != nil {
		t.Fatalf("convert: %v", err)
	}

	got, err := r.FindByExternalCustomerRef(ctx, db, "cus_123")
	if err != nil || got == nil {
		t.Fatalf("find by ref: %v %v", got, err)
	}
	if got.IsTrial || !got.IsActive {
		t.Fatalf("expected converted active tenant, got %+v", got)
	}

	if err := r.Deactivate(ctx, db, 7, now); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, err = r.FindByIDForUpdate(ctx, db, 7)
	if err != nil || got == nil {
		t.Fatalf("find: %v", err)
	}
	if got.IsActive {
		t.Fatalf("expected inactive tenant")
	}

	missing, err := r.FindBySlug(ctx, db, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing slug, got %v %v", missing, err)
	}
}
