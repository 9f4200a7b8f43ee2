// Package domain holds the webhook event ledger used to make processor
// deliveries idempotent.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Outcome is what processing one webhook event did to local state.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStale     Outcome = "stale"
	OutcomeIgnored   Outcome = "ignored"
)

// WebhookEvent is one received processor event, unique per (provider, event id).
type WebhookEvent struct {
	ID          snowflake.ID   `gorm:"primaryKey"`
	Provider    string         `gorm:"not null"`
	EventID     string         `gorm:"not null"`
	EventType   string         `gorm:"not null"`
	Payload     datatypes.JSON `gorm:"not null"`
	ReceivedAt  time.Time      `gorm:"not null"`
	ProcessedAt *time.Time
	Outcome     *string
}

func (WebhookEvent) TableName() string { return "webhook_events" }

type Result struct {
	Provider string  `json:"provider"`
	EventID  string  `json:"event_id"`
	Type     string  `json:"type"`
	Outcome  Outcome `json:"outcome"`
}

type Repository interface {
	// InsertEvent reports false when the event was already received.
	InsertEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	FindEventForUpdate(ctx context.Context, db *gorm.DB, provider, eventID string) (*WebhookEvent, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time, outcome Outcome) error
}

type Service interface {
	// Ingest verifies, records and applies one webhook delivery. The event and
	// all of its local effects commit together or not at all.
	Ingest(ctx context.Context, provider string, payload []byte, signature string) (Result, error)
}
