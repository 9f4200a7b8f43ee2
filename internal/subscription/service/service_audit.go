package service

import (
	"context"

	auditdomain "github.com/smallbiznis/tenantbill/internal/audit/domain"
	subscriptiondomain "github.com/smallbiznis/tenantbill/internal/subscription/domain"
	"gorm.io/gorm"
)

const (
	auditSubscriptionCreated = "subscription.created"
	auditSubscriptionPrefix  = "subscription."
)

// audit records sub through tx with source as the actor type. The audit
// service logs its own failures; they never fail the transition.
func (s *Service) audit(ctx context.Context, tx *gorm.DB, sub subscriptiondomain.Subscription, action string, source subscriptiondomain.Source, extra map[string]any) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"status":  string(sub.Status),
		"plan_id": sub.PlanID.String(),
	}
	if sub.ExternalRef != nil {
		metadata["external_ref"] = *sub.ExternalRef
	}
	for key, value := range extra {
		metadata[key] = value
	}
	_ = s.auditSvc.AuditLogTx(ctx, tx, auditdomain.Entry{
		TenantID:   sub.TenantID,
		ActorType:  string(source),
		Action:     action,
		TargetType: "subscription",
		TargetID:   sub.ID.String(),
		Metadata:   metadata,
	})
}
