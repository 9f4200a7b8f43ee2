package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateTenantRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	TrialDays int    `json:"trial_days"`
}

type Service interface {
	// CreateTx inserts the tenant on the caller's transaction so onboarding can
	// commit the tenant and its first subscription together.
	CreateTx(ctx context.Context, tx *gorm.DB, req CreateTenantRequest) (Tenant, error)
	Get(ctx context.Context, id snowflake.ID) (Tenant, error)
}
