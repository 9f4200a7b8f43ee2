package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
)

// Tenant is the unit of billing isolation.
type Tenant struct {
	ID                  snowflake.ID `gorm:"primaryKey" json:"id"`
	Name                string       `gorm:"not null" json:"name"`
	Slug                string       `gorm:"not null;uniqueIndex" json:"slug"`
	Email               string       `gorm:"not null" json:"email"`
	IsActive            bool         `gorm:"not null" json:"is_active"`
	IsTrial             bool         `gorm:"not null" json:"is_trial"`
	TrialEndsAt         *time.Time   `json:"trial_ends_at,omitempty"`
	ExternalCustomerRef *string      `gorm:"uniqueIndex" json:"external_customer_ref,omitempty"`
	TrialWarningSentAt  *time.Time   `json:"-"`
	CreatedAt           time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time    `gorm:"not null" json:"updated_at"`
}

func (Tenant) TableName() string { return "tenants" }

// TrialExpired reports whether the tenant is still flagged as trialing past its trial end.
func (t Tenant) TrialExpired(now time.Time) bool {
	return t.IsTrial && t.TrialEndsAt != nil && !t.TrialEndsAt.After(now)
}

// Slugify derives the URL-safe tenant slug from its display name.
func Slugify(name string) string {
	return slug.Make(strings.TrimSpace(name))
}
