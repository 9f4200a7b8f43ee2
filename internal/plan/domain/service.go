package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type CreatePlanRequest struct {
	Code               string   `json:"code"`
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Price              int64    `json:"price"`
	Currency           string   `json:"currency"`
	Interval           Interval `json:"interval"`
	TrialDays          int      `json:"trial_days"`
	MaxUsers           int      `json:"max_users"`
	MaxAPICalls        int64    `json:"max_api_calls"`
	MaxStorageGB       int      `json:"max_storage_gb"`
	Features           []string `json:"features"`
	IsPublic           bool     `json:"is_public"`
	ExternalPriceRef   string   `json:"external_price_ref"`
	ExternalProductRef string   `json:"external_product_ref"`
}

type Service interface {
	Create(ctx context.Context, req CreatePlanRequest) (Plan, error)
	Get(ctx context.Context, id snowflake.ID) (Plan, error)
	GetByCode(ctx context.Context, code string) (Plan, error)
	// Resolve accepts a plan id or code and fails with ErrInvalidPlan for unknown or inactive plans.
	Resolve(ctx context.Context, ref string) (Plan, error)
	ListPublic(ctx context.Context) ([]Plan, error)
}
