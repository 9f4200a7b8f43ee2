package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbill/internal/clock"
	"github.com/smallbiznis/tenantbill/internal/tenant/domain"
	"github.com/smallbiznis/tenantbill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("tenant.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) CreateTx(ctx context.Context, tx *gorm.DB, req domain.CreateTenantRequest) (domain.Tenant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Tenant{}, domain.ErrInvalidName
	}
	slug := domain.Slugify(name)
	if slug == "" {
		return domain.Tenant{}, domain.ErrInvalidName
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return domain.Tenant{}, domain.ErrInvalidEmail
	}
	if req.TrialDays < 0 {
		return domain.Tenant{}, domain.ErrInvalidTrialDays
	}

	existing, err := s.repo.FindBySlug(ctx, tx, slug)
	if err != nil {
		return domain.Tenant{}, err
	}
	if existing != nil {
		return domain.Tenant{}, domain.ErrDuplicateSlug
	}

	now := s.clock.Now()
	tenant := domain.Tenant{
		ID:        s.genID.Generate(),
		Name:      name,
		Slug:      slug,
		Email:     email,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.TrialDays > 0 {
		trialEnd := now.AddDate(0, 0, req.TrialDays)
		tenant.IsTrial = true
		tenant.TrialEndsAt = &trialEnd
	}

	if err := s.repo.Insert(ctx, tx, &tenant); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Tenant{}, domain.ErrDuplicateSlug
		}
		return domain.Tenant{}, err
	}

	s.log.Info("tenant created",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("slug", tenant.Slug),
		zap.Bool("is_trial", tenant.IsTrial),
	)
	return tenant, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Tenant, error) {
	if id == 0 {
		return domain.Tenant{}, domain.ErrInvalidTenant
	}
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Tenant{}, err
	}
	if item == nil {
		return domain.Tenant{}, domain.ErrTenantNotFound
	}
	return *item, nil
}
