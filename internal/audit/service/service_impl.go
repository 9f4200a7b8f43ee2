package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/tenantbill/internal/audit/domain"
	"github.com/smallbiznis/tenantbill/internal/clock"
	obscontext "github.com/smallbiznis/tenantbill/internal/observability/context"
	"github.com/smallbiznis/tenantbill/internal/tenantcontext"
	"github.com/smallbiznis/tenantbill/pkg/db/pagination"
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
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) AuditLog(ctx context.Context, tenantID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	entry := auditdomain.Entry{
		ActorType:  actorType,
		Action:     action,
		TargetType: targetType,
		Metadata:   metadata,
	}
	if tenantID != nil {
		entry.TenantID = *tenantID
	}
	if actorID != nil {
		entry.ActorID = *actorID
	}
	if targetID != nil {
		entry.TargetID = *targetID
	}
	return s.AuditLogTx(ctx, s.db, entry)
}

func (s *Service) AuditLogTx(ctx context.Context, tx *gorm.DB, entry auditdomain.Entry) error {
	row, err := s.build(ctx, entry)
	if err != nil {
		return err
	}
	if tx == nil {
		tx = s.db
	}
	err = tx.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
		return s.repo.Insert(ctx, sp, &row)
	})
	if err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", row.Action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) build(ctx context.Context, entry auditdomain.Entry) (auditdomain.AuditLog, error) {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.AuditLog{}, auditdomain.ErrInvalidAction
	}
	targetType := strings.TrimSpace(entry.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	actorType, actorID := strings.TrimSpace(entry.ActorType), strings.TrimSpace(entry.ActorID)
	ctxType, ctxID := obscontext.ActorFromContext(ctx)
	if actorType == "" {
		actorType = ctxType
	}
	if actorID == "" {
		actorID = ctxID
	}
	if actorType == "" {
		actorType = string(auditdomain.ActorTypeSystem)
	}

	payload := datatypes.JSONMap{}
	for key, value := range entry.Metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	row := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    optional(actorID),
		Action:     action,
		TargetType: targetType,
		TargetID:   optional(entry.TargetID),
		Metadata:   payload,
		CreatedAt:  s.clock.Now(),
	}
	tenantID := entry.TenantID
	if tenantID == 0 {
		tenantID, _ = tenantcontext.TenantIDFromContext(ctx)
	}
	if tenantID != 0 {
		row.TenantID = &tenantID
	}
	return row, nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if req.TenantID == 0 {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTenant
	}
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTimeRange
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken.Wrap(err)
	}

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		TenantID:   req.TenantID,
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorType:  req.ActorType,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      req.Limit(),
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}
	page, info, err := pagination.Page(items, req.Pagination, func(item auditdomain.AuditLog) pagination.Cursor {
		return pagination.Cursor{ID: int64(item.ID), CreatedAt: item.CreatedAt}
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}
	if page == nil {
		page = []auditdomain.AuditLog{}
	}
	return auditdomain.ListAuditLogResponse{PageInfo: info, AuditLogs: page}, nil
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
