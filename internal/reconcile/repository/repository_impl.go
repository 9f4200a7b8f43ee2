package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbill/internal/reconcile/domain"
	"github.com/smallbiznis/tenantbill/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, conn *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, provider, event_id, event_type, payload, received_at, processed_at, outcome
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.EventID,
		event.EventType,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
		event.Outcome,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEventForUpdate(ctx context.Context, conn *gorm.DB, provider, eventID string) (*domain.WebhookEvent, error) {
	var item domain.WebhookEvent
	err := conn.WithContext(ctx).Raw(
		`SELECT id, provider, event_id, event_type, payload, received_at, processed_at, outcome
		 FROM webhook_events
		 WHERE provider = ? AND event_id = ?
		 LIMIT 1`+db.ForUpdate(conn),
		provider,
		eventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkProcessed(ctx context.Context, conn *gorm.DB, id snowflake.ID, processedAt time.Time, outcome domain.Outcome) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET processed_at = ?, outcome = ?
		 WHERE id = ?`,
		processedAt,
		string(outcome),
		id,
	).Error
}
