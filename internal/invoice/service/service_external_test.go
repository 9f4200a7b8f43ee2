package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/tenantbill/internal/invoice/domain"
	"github.com/smallbiznis/tenantbill/internal/testutil"
	"gorm.io/gorm"
)

func (f fixture) external(t *testing.T, ref string, status domain.InvoiceStatus, periodStart *time.Time) (domain.Invoice, bool) {
	t.Helper()
	subID := f.sub.ID
	inv, created, err := f.svc.UpsertExternalTx(context.Background(), f.svc.db, domain.ExternalInvoice{
		TenantID:       f.tenant.ID,
		SubscriptionID: &subID,
		ExternalRef:    ref,
		Status:         status,
		Currency:       "USD",
		Subtotal:       2900,
		Lines:          []domain.LineItem{{Description: "Pro plan", Amount: 2900, Quantity: 1}},
		PeriodStart:    periodStart,
		InvoiceDate:    now,
	})
	if err != nil {
		t.Fatalf("upsert external: %v", err)
	}
	return inv, created
}

func TestUpsertExternalCreatesOnceByReference(t *testing.T) {
	f := newFixture(t, 0)

	inv, created := f.external(t, "in_1", domain.InvoiceStatusOpen, nil)
	if !created || inv.Status != domain.InvoiceStatusOpen || inv.ExternalRef == nil || *inv.ExternalRef != "in_1" {
		t.Fatalf("unexpected invoice %+v created=%v", inv, created)
	}
	again, created := f.external(t, "in_1", domain.InvoiceStatusOpen, nil)
	if created || again.ID != inv.ID {
		t.Fatalf("expected the same invoice on redelivery")
	}
	testutil.AssertCount(t, f.svc.db, 1, "SELECT COUNT(*) FROM invoices")
}

func TestUpsertExternalLosingInsertRaceReturnsWinner(t *testing.T) {
	f := newFixture(t, 0)
	first, _ := f.external(t, "in_1", domain.InvoiceStatusOpen, nil)

	f.svc.repo = &racingRepo{Repository: f.svc.repo, refMisses: 1}
	err := f.svc.db.Transaction(func(tx *gorm.DB) error {
		inv, created, err := f.svc.UpsertExternalTx(context.Background(), tx, domain.ExternalInvoice{
			TenantID:    f.tenant.ID,
			ExternalRef: "in_1",
			Status:      domain.InvoiceStatusOpen,
			Currency:    "usd",
			Subtotal:    2900,
			InvoiceDate: now,
		})
		if err != nil {
			return err
		}
		if created || inv.ID != first.ID {
			t.Fatalf("expected winner %s, got %s created=%v", first.ID, inv.ID, created)
		}
		testutil.AssertCount(t, tx, 1, "SELECT COUNT(*) FROM invoices")
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestUpsertExternalAdoptsLocalDraft(t *testing.T) {
	f := newFixture(t, 0)
	draft, _ := f.draft(t, now)

	period := now
	adopted, created := f.external(t, "in_1", domain.InvoiceStatusOpen, &period)
	if created || adopted.ID != draft.ID {
		t.Fatalf("expected the local draft to be adopted")
	}
	if adopted.Status != domain.InvoiceStatusOpen || adopted.ExternalRef == nil {
		t.Fatalf("unexpected adopted invoice %+v", adopted)
	}
	testutil.AssertCount(t, f.svc.db, 1, "SELECT COUNT(*) FROM invoices")
}

func TestUpsertExternalNeverCreatesPaid(t *testing.T) {
	f := newFixture(t, 0)

	inv, _ := f.external(t, "in_1", domain.InvoiceStatusPaid, nil)
	if inv.Status != domain.InvoiceStatusOpen || inv.AmountPaid != 0 {
		t.Fatalf("expected OPEN unpaid invoice, got %s paid=%d", inv.Status, inv.AmountPaid)
	}
}

func TestMarkPaidSettlesTotal(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	inv, _ := f.external(t, "in_1", domain.InvoiceStatusOpen, nil)

	paid, changed, err := f.svc.MarkPaidTx(ctx, f.svc.db, inv.ID)
	if err != nil || !changed {
		t.Fatalf("mark paid: changed=%v err=%v", changed, err)
	}
	if paid.AmountPaid != 2900 || paid.AmountDue != 0 || paid.Status != domain.InvoiceStatusPaid || paid.PaidAt == nil {
		t.Fatalf("unexpected paid invoice %+v", paid)
	}

	_, changed, err = f.svc.MarkPaidTx(ctx, f.svc.db, inv.ID)
	if err != nil || changed {
		t.Fatalf("expected second mark paid to be a no-op, changed=%v err=%v", changed, err)
	}

	_, _, err = f.svc.MarkUncollectibleTx(ctx, f.svc.db, inv.ID)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected paid invoices to stay paid, got %v", err)
	}
}

func TestInvoiceLifecycleIsAudited(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	draft, _ := f.draft(t, now)
	f.draft(t, now)
	synced, _ := f.external(t, "in_1", domain.InvoiceStatusOpen, nil)
	if _, _, err := f.svc.MarkPaidTx(ctx, f.svc.db, synced.ID); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if _, _, err := f.svc.MarkPaidTx(ctx, f.svc.db, synced.ID); err != nil {
		t.Fatalf("repeat mark paid: %v", err)
	}

	testutil.AssertCount(t, f.svc.db, 1,
		`SELECT COUNT(*) FROM audit_logs WHERE action = 'invoice.generated' AND target_type = 'invoice' AND target_id = ?`, draft.ID.String())
	testutil.AssertCount(t, f.svc.db, 1,
		`SELECT COUNT(*) FROM audit_logs WHERE action = 'invoice.synced' AND target_id = ?`, synced.ID.String())
	testutil.AssertCount(t, f.svc.db, 1,
		`SELECT COUNT(*) FROM audit_logs WHERE action = 'invoice.paid' AND target_id = ? AND tenant_id = ? AND actor_type = 'system'`,
		synced.ID.String(), f.tenant.ID)
	testutil.AssertCount(t, f.svc.db, 3, `SELECT COUNT(*) FROM audit_logs`)
}

func TestPaymentReminders(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	inv, _ := f.external(t, "in_1", domain.InvoiceStatusOpen, nil)

	if err := f.svc.db.Exec(`UPDATE invoices SET due_date = ? WHERE id = ?`, now.Add(-time.Hour), inv.ID).Error; err != nil {
		t.Fatalf("backdate due date: %v", err)
	}

	due, err := f.svc.ListDueForReminder(ctx, 10)
	if err != nil || len(due) != 1 {
		t.Fatalf("expected one due invoice, got %d err=%v", len(due), err)
	}
	if err := f.svc.MarkReminderSent(ctx, inv.ID); err != nil {
		t.Fatalf("mark reminder: %v", err)
	}
	due, err = f.svc.ListDueForReminder(ctx, 10)
	if err != nil || len(due) != 0 {
		t.Fatalf("expected reminder interval to suppress a second reminder, got %d", len(due))
	}
}
