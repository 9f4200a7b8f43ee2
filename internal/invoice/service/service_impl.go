package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/tenantbill/internal/audit/domain"
	"github.com/smallbiznis/tenantbill/internal/clock"
	"github.com/smallbiznis/tenantbill/internal/config"
	invoicedomain "github.com/smallbiznis/tenantbill/internal/invoice/domain"
	"github.com/smallbiznis/tenantbill/internal/invoice/format"
	tenantdomain "github.com/smallbiznis/tenantbill/internal/tenant/domain"
	"github.com/smallbiznis/tenantbill/pkg/db"
	"github.com/smallbiznis/tenantbill/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    invoicedomain.Repository
	Tenants tenantdomain.Repository
	Policy  *config.BillingPolicyHolder
	Audit   auditdomain.Service `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	repo     invoicedomain.Repository
	tenants  tenantdomain.Repository
	policy   *config.BillingPolicyHolder
	auditSvc auditdomain.Service
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("invoice.service"),

		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		tenants:  p.Tenants,
		policy:   p.Policy,
		auditSvc: p.Audit,
	}
}

func (s *Service) CreateDraftForPeriodTx(ctx context.Context, tx *gorm.DB, req invoicedomain.DraftRequest) (invoicedomain.Invoice, bool, error) {
	if req.TenantID == 0 || req.SubscriptionID == 0 {
		return invoicedomain.Invoice{}, false, invoicedomain.ErrInvalidTenant
	}
	if !req.PeriodStart.Before(req.PeriodEnd) {
		return invoicedomain.Invoice{}, false, invoicedomain.ErrInvalidPeriod
	}

	existing, err := s.repo.FindBySubscriptionPeriodForUpdate(ctx, tx, req.SubscriptionID, req.PeriodStart)
	if err != nil {
		return invoicedomain.Invoice{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	policy := s.policy.Get()
	var subtotal int64
	for _, line := range req.Lines {
		if line.Amount < 0 || line.Quantity <= 0 {
			return invoicedomain.Invoice{}, false, invoicedomain.ErrInvalidAmount
		}
		subtotal += line.Amount * line.Quantity
	}

	now := s.clock.Now()
	periodStart, periodEnd := req.PeriodStart, req.PeriodEnd
	subscriptionID := req.SubscriptionID
	currency := req.Currency
	if currency == "" {
		currency = policy.DefaultCurrency
	}
	due := now.AddDate(0, 0, policy.InvoiceDueDays)

	// The savepoint keeps tx usable for the re-read after a unique violation.
	var inv invoicedomain.Invoice
	err = tx.Transaction(func(sp *gorm.DB) error {
		var createErr error
		inv, createErr = s.CreateTx(ctx, sp, invoicedomain.NewInvoice{
			TenantID:       req.TenantID,
			SubscriptionID: &subscriptionID,
			Status:         invoicedomain.InvoiceStatusDraft,
			Currency:       currency,
			Subtotal:       subtotal,
			Tax:            subtotal * policy.TaxRateBps / 10000,
			Lines:          req.Lines,
			PeriodStart:    &periodStart,
			PeriodEnd:      &periodEnd,
			InvoiceDate:    now,
			DueDate:        &due,
		})
		return createErr
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			// A concurrent sweep or webhook wrote the same period first.
			again, findErr := s.repo.FindBySubscriptionPeriodForUpdate(ctx, tx, req.SubscriptionID, req.PeriodStart)
			if findErr == nil && again != nil {
				return *again, false, nil
			}
		}
		return invoicedomain.Invoice{}, false, err
	}
	s.emitAudit(ctx, tx, auditInvoiceGenerated, inv, nil)
	return inv, true, nil
}

func (s *Service) CreateTx(ctx context.Context, tx *gorm.DB, req invoicedomain.NewInvoice) (invoicedomain.Invoice, error) {
	if req.TenantID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidTenant
	}
	if req.Status == "" {
		req.Status = invoicedomain.InvoiceStatusDraft
	}
	if req.InvoiceDate.IsZero() {
		req.InvoiceDate = s.clock.Now()
	}

	tenant, err := s.tenants.FindByID(ctx, tx, req.TenantID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if tenant == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidTenant
	}

	now := s.clock.Now()
	inv := invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		TenantID:       req.TenantID,
		SubscriptionID: req.SubscriptionID,
		Status:         req.Status,
		Currency:       strings.ToLower(strings.TrimSpace(req.Currency)),
		Subtotal:       req.Subtotal,
		Tax:            req.Tax,
		AmountPaid:     req.AmountPaid,
		ExternalRef:    req.ExternalRef,
		PeriodStart:    req.PeriodStart,
		PeriodEnd:      req.PeriodEnd,
		InvoiceDate:    req.InvoiceDate,
		DueDate:        req.DueDate,
		PaidAt:         req.PaidAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := inv.SetLines(req.Lines); err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidAmount.Wrap(err)
	}
	inv.Recalculate()
	if err := inv.Validate(); err != nil {
		return invoicedomain.Invoice{}, err
	}

	seq, err := s.repo.NextSequence(ctx, tx, tenant.ID, inv.InvoiceDate.Year())
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	inv.InvoiceNumber, err = format.FormatInvoiceNumber(format.DefaultInvoiceNumberTemplate, inv.InvoiceDate, tenant.Slug, seq)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	if err := s.repo.Insert(ctx, tx, &inv); err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.log.Debug("invoice created",
		zap.String("tenant_id", inv.TenantID.String()),
		zap.String("invoice_id", inv.ID.String()),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.String("status", string(inv.Status)),
	)
	return inv, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	if req.TenantID == 0 {
		return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidTenant
	}
	filter := invoicedomain.ListFilter{TenantID: req.TenantID, Limit: req.Limit()}
	if req.Status != "" {
		status := invoicedomain.InvoiceStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
		if !status.Valid() {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidStatus
		}
		filter.Status = status
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken.Wrap(err)
	}
	filter.Cursor = cursor

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}
	page, info, err := pagination.Page(items, req.Pagination, func(inv invoicedomain.Invoice) pagination.Cursor {
		return pagination.Cursor{ID: int64(inv.ID), CreatedAt: inv.CreatedAt}
	})
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}
	if page == nil {
		page = []invoicedomain.Invoice{}
	}
	return invoicedomain.ListInvoiceResponse{PageInfo: info, Invoices: page}, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id snowflake.ID) (invoicedomain.Invoice, error) {
	inv, err := s.repo.FindByID(ctx, s.db, tenantID, id)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if inv == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return *inv, nil
}
