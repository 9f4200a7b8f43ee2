// Package gatewaytest provides an in-memory payment processor for tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/smallbiznis/tenantbill/internal/errkind"
	"github.com/smallbiznis/tenantbill/internal/gateway/domain"
)

// Fake records calls and keeps remote subscriptions in memory. Set Fail to make
// every remote call fail with a RemoteGateway error.
type Fake struct {
	mu            sync.Mutex
	Fail          map[string]error
	Now           func() time.Time
	Calls         []string
	subscriptions map[string]domain.Subscription
	seq           int
}

func NewFake() *Fake {
	return &Fake{
		Fail:          map[string]error{},
		Now:           func() time.Time { return time.Now().UTC() },
		subscriptions: map[string]domain.Subscription{},
	}
}

func (f *Fake) Provider() string        { return "fake" }
func (f *Fake) SignatureHeader() string { return "Fake-Signature" }

// FailOn makes op fail until cleared with FailOn(op, nil).
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Fail, op)
		return
	}
	f.Fail[op] = err
}

// Put seeds or overwrites a remote subscription.
func (f *Fake) Put(sub domain.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[sub.ID] = sub
}

func (f *Fake) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.Calls {
		if call == op {
			n++
		}
	}
	return n
}

func (f *Fake) begin(op string) error {
	f.Calls = append(f.Calls, op)
	if err, ok := f.Fail[op]; ok {
		return errkind.RemoteGateway(op, err)
	}
	return nil
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *Fake) CreateCustomer(ctx context.Context, in domain.CreateCustomerInput) (domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("create_customer"); err != nil {
		return domain.Customer{}, err
	}
	return domain.Customer{ID: f.nextID("cus"), Email: in.Email}, nil
}

func (f *Fake) CreateSubscription(ctx context.Context, in domain.CreateSubscriptionInput) (domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("create_subscription"); err != nil {
		return domain.Subscription{}, err
	}

	now := f.Now()
	end := now.AddDate(0, 1, 0)
	sub := domain.Subscription{
		ID:                 f.nextID("sub"),
		CustomerID:         in.CustomerID,
		PriceID:            in.PriceID,
		Status:             "active",
		CurrentPeriodStart: &now,
		CurrentPeriodEnd:   &end,
		HasPaymentMethod:   in.PaymentMethodID != "",
	}
	switch {
	case in.TrialDays > 0:
		trialEnd := now.AddDate(0, 0, in.TrialDays)
		sub.Status = "trialing"
		sub.TrialStart = &now
		sub.TrialEnd = &trialEnd
		sub.CurrentPeriodEnd = &trialEnd
	case in.PaymentMethodID == "":
		sub.Status = "incomplete"
	}
	f.subscriptions[sub.ID] = sub
	return sub, nil
}

func (f *Fake) UpdateSubscription(ctx context.Context, id string, in domain.UpdateSubscriptionInput) (domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("update_subscription"); err != nil {
		return domain.Subscription{}, err
	}
	sub, ok := f.subscriptions[id]
	if !ok {
		return domain.Subscription{}, errkind.RemoteGateway("update_subscription", fmt.Errorf("no such subscription %s", id))
	}
	if in.PriceID != nil {
		sub.PriceID = *in.PriceID
	}
	if in.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *in.CancelAtPeriodEnd
		if sub.CancelAtPeriodEnd {
			now := f.Now()
			sub.CanceledAt = &now
		} else {
			sub.CanceledAt = nil
		}
	}
	f.subscriptions[id] = sub
	return sub, nil
}

func (f *Fake) CancelSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("cancel_subscription"); err != nil {
		return domain.Subscription{}, err
	}
	sub, ok := f.subscriptions[id]
	if !ok {
		return domain.Subscription{}, errkind.RemoteGateway("cancel_subscription", fmt.Errorf("no such subscription %s", id))
	}
	now := f.Now()
	sub.Status = "canceled"
	sub.CanceledAt = &now
	sub.EndedAt = &now
	f.subscriptions[id] = sub
	return sub, nil
}

func (f *Fake) RetrieveSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("retrieve_subscription"); err != nil {
		return domain.Subscription{}, err
	}
	sub, ok := f.subscriptions[id]
	if !ok {
		return domain.Subscription{}, errkind.RemoteGateway("retrieve_subscription", fmt.Errorf("no such subscription %s", id))
	}
	return sub, nil
}

// VerifyWebhookSignature accepts the literal signature "valid" and decodes an
// Event encoded as JSON.
func (f *Fake) VerifyWebhookSignature(payload []byte, signature string) (domain.Event, error) {
	if signature == "" {
		return domain.Event{}, domain.ErrMissingSignature
	}
	if signature != "valid" {
		return domain.Event{}, domain.ErrInvalidSignature
	}
	var event domain.Event
	if err := json.Unmarshal(payload, &event); err != nil || event.ID == "" {
		return domain.Event{}, domain.ErrInvalidPayload
	}
	event.Provider = f.Provider()
	return event, nil
}
