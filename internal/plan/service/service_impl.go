package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbill/internal/clock"
	"github.com/smallbiznis/tenantbill/internal/plan/domain"
	"github.com/smallbiznis/tenantbill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
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
		log:   p.Log.Named("plan.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreatePlanRequest) (domain.Plan, error) {
	code := strings.ToLower(strings.TrimSpace(req.Code))
	if code == "" {
		return domain.Plan{}, domain.ErrInvalidCode
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = code
	}
	if req.Price < 0 {
		return domain.Plan{}, domain.ErrInvalidPrice
	}
	if !req.Interval.Valid() {
		return domain.Plan{}, domain.ErrInvalidInterval
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return domain.Plan{}, domain.ErrInvalidCurrency
	}
	if req.TrialDays < 0 {
		return domain.Plan{}, domain.ErrInvalidPlan
	}

	features := req.Features
	if features == nil {
		features = []string{}
	}
	rawFeatures, err := json.Marshal(features)
	if err != nil {
		return domain.Plan{}, err
	}

	now := s.clock.Now()
	plan := domain.Plan{
		ID:                 s.genID.Generate(),
		Code:               code,
		Name:               name,
		Description:        strings.TrimSpace(req.Description),
		Price:              req.Price,
		Currency:           currency,
		Interval:           req.Interval,
		TrialDays:          req.TrialDays,
		MaxUsers:           req.MaxUsers,
		MaxAPICalls:        req.MaxAPICalls,
		MaxStorageGB:       req.MaxStorageGB,
		Features:           datatypes.JSON(rawFeatures),
		IsActive:           true,
		IsPublic:           req.IsPublic,
		ExternalPriceRef:   optionalString(req.ExternalPriceRef),
		ExternalProductRef: optionalString(req.ExternalProductRef),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.repo.Insert(ctx, s.db, &plan); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Plan{}, domain.ErrDuplicateCode
		}
		return domain.Plan{}, err
	}
	return plan, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Plan, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Plan{}, err
	}
	if item == nil {
		return domain.Plan{}, domain.ErrPlanNotFound
	}
	return *item, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (domain.Plan, error) {
	item, err := s.repo.FindByCode(ctx, s.db, strings.ToLower(strings.TrimSpace(code)))
	if err != nil {
		return domain.Plan{}, err
	}
	if item == nil {
		return domain.Plan{}, domain.ErrPlanNotFound
	}
	return *item, nil
}

func (s *Service) Resolve(ctx context.Context, ref string) (domain.Plan, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Plan{}, domain.ErrInvalidPlan
	}

	var (
		item *domain.Plan
		err  error
	)
	if id, parseErr := snowflake.ParseString(ref); parseErr == nil && id != 0 {
		item, err = s.repo.FindByID(ctx, s.db, id)
	}
	if err == nil && item == nil {
		item, err = s.repo.FindByCode(ctx, s.db, strings.ToLower(ref))
	}
	if err != nil {
		return domain.Plan{}, err
	}
	if item == nil {
		return domain.Plan{}, domain.ErrInvalidPlan
	}
	if !item.IsActive {
		return domain.Plan{}, domain.ErrPlanInactive
	}
	return *item, nil
}

func (s *Service) ListPublic(ctx context.Context) ([]domain.Plan, error) {
	return s.repo.ListPublic(ctx, s.db)
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
