package domain

import "time"

// Transition applies event to sub and returns the resulting snapshot. The input
// snapshot is never modified; on error it is returned unchanged together with
// the error so callers can persist nothing.
func Transition(sub Subscription, event Event, now time.Time) (Subscription, error) {
	next := sub

	var err error
	switch ev := event.(type) {
	case GatewayStatusReport:
		err = applyGatewayReport(&next, ev, now)
	case UserCancel:
		err = applyUserCancel(&next, ev, now)
	case UserResume:
		err = applyUserResume(&next)
	case UserChangePlan:
		err = applyChangePlan(&next, ev)
	case TrialExpired:
		err = applyTrialExpired(&next, ev)
	case PeriodRenewed:
		err = applyPeriodRenewed(&next, ev)
	default:
		err = ErrInvalidEvent
	}
	if err != nil {
		return sub, err
	}
	if err := next.Validate(); err != nil {
		return sub, err
	}
	if !next.SameState(sub) {
		next.UpdatedAt = now
	}
	return next, nil
}

// applyGatewayReport mirrors the gateway's status. Reports are ordered by period
// end first and by the gateway's event time second; older reports are stale.
// Terminal reports are final at the gateway, so they are never stale, but they
// still cannot move the stored period backwards.
func applyGatewayReport(sub *Subscription, ev GatewayStatusReport, now time.Time) error {
	if !ev.Status.Valid() {
		return ErrInvalidStatus
	}
	if sub.Status.Terminal() && !ev.Status.Terminal() {
		return ErrStaleEvent
	}

	if !ev.Status.Terminal() {
		if ev.PeriodEnd != nil {
			if ev.PeriodEnd.Before(sub.CurrentPeriodEnd) {
				return ErrStaleEvent
			}
			if ev.PeriodEnd.Equal(sub.CurrentPeriodEnd) && reportedBefore(ev.ReportedAt, sub.GatewayEventAt) {
				return ErrStaleEvent
			}
		} else if reportedBefore(ev.ReportedAt, sub.GatewayEventAt) {
			return ErrStaleEvent
		}
	}

	if ev.PeriodStart != nil && ev.PeriodEnd != nil {
		if !ev.PeriodStart.Before(*ev.PeriodEnd) {
			return ErrInvalidPeriod
		}
		if !ev.PeriodEnd.Before(sub.CurrentPeriodEnd) {
			sub.CurrentPeriodStart = *ev.PeriodStart
			sub.CurrentPeriodEnd = *ev.PeriodEnd
		}
	}
	if ev.TrialStart != nil {
		sub.TrialStart = ev.TrialStart
	}
	if ev.TrialEnd != nil {
		sub.TrialEnd = ev.TrialEnd
	}

	sub.Status = ev.Status
	if ev.Status.Terminal() {
		sub.CancelAtPeriodEnd = false
		sub.CanceledAt = firstTime(ev.CanceledAt, sub.CanceledAt, &now)
		sub.EndedAt = firstTime(ev.EndedAt, sub.EndedAt, &now)
	} else {
		sub.EndedAt = nil
		sub.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
		if ev.CancelAtPeriodEnd {
			sub.CanceledAt = firstTime(ev.CanceledAt, sub.CanceledAt, &now)
		} else {
			sub.CanceledAt = nil
		}
	}

	if !ev.ReportedAt.IsZero() && (sub.GatewayEventAt == nil || ev.ReportedAt.After(*sub.GatewayEventAt)) {
		reportedAt := ev.ReportedAt
		sub.GatewayEventAt = &reportedAt
	}
	return nil
}

func applyUserCancel(sub *Subscription, ev UserCancel, now time.Time) error {
	if sub.Status.Terminal() {
		return ErrInvalidTransition
	}
	if ev.Immediate {
		sub.Status = SubscriptionStatusCanceled
		sub.CancelAtPeriodEnd = false
		sub.CanceledAt = &now
		sub.EndedAt = &now
		return nil
	}
	if sub.CancelAtPeriodEnd {
		return nil
	}
	sub.CancelAtPeriodEnd = true
	sub.CanceledAt = &now
	return nil
}

func applyUserResume(sub *Subscription) error {
	if sub.Status.Terminal() {
		return ErrInvalidTransition
	}
	if !sub.CancelAtPeriodEnd {
		return ErrNotScheduled
	}
	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = nil
	return nil
}

func applyChangePlan(sub *Subscription, ev UserChangePlan) error {
	switch sub.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
	default:
		return ErrInvalidTransition
	}
	if ev.PlanID == 0 {
		return ErrInvalidEvent
	}
	if ev.PlanID == sub.PlanID {
		return ErrSamePlan
	}
	sub.PlanID = ev.PlanID
	return nil
}

func applyTrialExpired(sub *Subscription, ev TrialExpired) error {
	if sub.Status != SubscriptionStatusTrialing {
		return ErrInvalidTransition
	}
	if !ev.HasPaymentMethod {
		return ErrPaymentMethodRequired
	}
	if !ev.NextPeriodEnd.After(sub.CurrentPeriodEnd) {
		return ErrInvalidPeriod
	}
	sub.Status = SubscriptionStatusActive
	sub.CurrentPeriodStart = sub.CurrentPeriodEnd
	sub.CurrentPeriodEnd = ev.NextPeriodEnd
	return nil
}

// applyPeriodRenewed ends a subscription whose cancellation was scheduled for
// this period end instead of renewing it.
func applyPeriodRenewed(sub *Subscription, ev PeriodRenewed) error {
	if sub.Status != SubscriptionStatusActive {
		return ErrInvalidTransition
	}
	if sub.CancelAtPeriodEnd {
		endedAt := sub.CurrentPeriodEnd
		sub.Status = SubscriptionStatusCanceled
		sub.CancelAtPeriodEnd = false
		sub.EndedAt = &endedAt
		return nil
	}
	if !ev.NextPeriodEnd.After(sub.CurrentPeriodEnd) {
		return ErrInvalidPeriod
	}
	sub.CurrentPeriodStart = sub.CurrentPeriodEnd
	sub.CurrentPeriodEnd = ev.NextPeriodEnd
	return nil
}

func reportedBefore(reportedAt time.Time, stored *time.Time) bool {
	return stored != nil && !reportedAt.IsZero() && reportedAt.Before(*stored)
}

func firstTime(values ...*time.Time) *time.Time {
	for _, value := range values {
		if value != nil {
			v := *value
			return &v
		}
	}
	return nil
}
