package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Interval string

const (
	IntervalMonthly Interval = "monthly"
	IntervalYearly  Interval = "yearly"
)

func (i Interval) Valid() bool {
	return i == IntervalMonthly || i == IntervalYearly
}

// Plan is a priced offering. Price is in minor currency units.
type Plan struct {
	ID                 snowflake.ID   `gorm:"primaryKey" json:"id"`
	Code               string         `gorm:"not null;uniqueIndex" json:"code"`
	Name               string         `gorm:"not null" json:"name"`
	Description        string         `json:"description,omitempty"`
	Price              int64          `gorm:"not null" json:"price"`
	Currency           string         `gorm:"not null" json:"currency"`
	Interval           Interval       `gorm:"column:billing_interval;not null" json:"interval"`
	TrialDays          int            `gorm:"not null" json:"trial_days"`
	MaxUsers           int            `json:"max_users"`
	MaxAPICalls        int64          `gorm:"column:max_api_calls" json:"max_api_calls"`
	MaxStorageGB       int            `gorm:"column:max_storage_gb" json:"max_storage_gb"`
	Features           datatypes.JSON `json:"features"`
	IsActive           bool           `json:"is_active"`
	IsPublic           bool           `json:"is_public"`
	ExternalPriceRef   *string        `json:"-"`
	ExternalProductRef *string        `json:"-"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func (Plan) TableName() string { return "plans" }

// PeriodEnd returns the end of the billing period starting at start.
func (p Plan) PeriodEnd(start time.Time) time.Time {
	if p.Interval == IntervalYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// MonthlyPrice normalizes the plan price to a monthly amount.
func (p Plan) MonthlyPrice() int64 {
	if p.Interval == IntervalYearly {
		return p.Price / 12
	}
	return p.Price
}

// HasTrial reports whether new subscriptions start in a trial.
func (p Plan) HasTrial() bool {
	return p.TrialDays > 0
}
