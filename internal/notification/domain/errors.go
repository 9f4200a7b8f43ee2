package domain

import "github.com/smallbiznis/tenantbill/internal/errkind"

var (
	ErrInvalidJob     = errkind.Validation("invalid_notification_job")
	ErrQueueFull      = errkind.Conflict("notification_queue_full")
	ErrRecipientEmpty = errkind.Validation("notification_recipient_empty")
)
