// Package domain contains persistence models for tenant usage metering.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type MetricType string

const (
	MetricAPICalls  MetricType = "api_calls"
	MetricStorage   MetricType = "storage"
	MetricBandwidth MetricType = "bandwidth"
	MetricUsers     MetricType = "users"
	MetricCustom    MetricType = "custom"
)

func (m MetricType) Valid() bool {
	switch m {
	case MetricAPICalls, MetricStorage, MetricBandwidth, MetricUsers, MetricCustom:
		return true
	}
	return false
}

// UsageMetric stores a single measurement. Rows are append-only.
type UsageMetric struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID    snowflake.ID `gorm:"not null" json:"tenant_id"`
	MetricType  MetricType   `gorm:"type:text;not null" json:"metric_type"`
	Value       float64      `gorm:"not null" json:"value"`
	Unit        string       `gorm:"type:text;not null" json:"unit"`
	PeriodStart time.Time    `gorm:"not null" json:"period_start"`
	PeriodEnd   time.Time    `gorm:"not null" json:"period_end"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
}

func (UsageMetric) TableName() string { return "usage_metrics" }

// UsageSummary is the derived aggregate for one tenant and metric over the
// most recent aggregation window.
type UsageSummary struct {
	TenantID    snowflake.ID `gorm:"primaryKey" json:"tenant_id"`
	MetricType  MetricType   `gorm:"primaryKey;type:text" json:"metric_type"`
	WindowStart time.Time    `json:"window_start"`
	WindowEnd   time.Time    `json:"window_end"`
	Total       float64      `json:"total"`
	SampleCount int64        `json:"sample_count"`
	MaxValue    float64      `json:"max_value"`
	ComputedAt  time.Time    `json:"computed_at"`
}

func (UsageSummary) TableName() string { return "usage_summaries" }
