package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Plan, error)
	FindByExternalPriceRef(ctx context.Context, db *gorm.DB, ref string) (*Plan, error)
	ListPublic(ctx context.Context, db *gorm.DB) ([]Plan, error)
}
