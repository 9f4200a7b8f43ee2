package stripe

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/tenantbill/internal/gateway/domain"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Endpoints pinned to an API version older than the SDK's still render these
// attributes on the object itself. stripe-go v82 moved them to subscription
// items and invoice parents, or dropped them, so they are read separately.
type legacySubscription struct {
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
}

type legacyInvoice struct {
	Subscription expandable `json:"subscription"`
	Tax          *int64     `json:"tax"`
}

type legacyPaymentIntent struct {
	Invoice expandable `json:"invoice"`
}

// expandable decodes a Stripe reference that is either an id string or an expanded object.
type expandable string

func (e *expandable) UnmarshalJSON(b []byte) error {
	if id, ok := stripe.ParseID(b); ok {
		*e = expandable(id)
		return nil
	}
	if string(b) == "null" {
		*e = ""
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandable(obj.ID)
	return nil
}

func isSignatureErr(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

// parseEvent maps a verified event. Unknown types decode to EventUnknown so
// the caller can acknowledge them without side effects.
func parseEvent(raw stripe.Event) (domain.Event, error) {
	if strings.TrimSpace(raw.ID) == "" || strings.TrimSpace(string(raw.Type)) == "" {
		return domain.Event{}, domain.ErrInvalidPayload
	}

	event := domain.Event{
		ID:        raw.ID,
		Provider:  providerName,
		Type:      mapEventType(string(raw.Type)),
		RawType:   string(raw.Type),
		CreatedAt: time.Now().UTC(),
	}
	if raw.Created > 0 {
		event.CreatedAt = time.Unix(raw.Created, 0).UTC()
	}
	var object json.RawMessage
	if raw.Data != nil {
		object = raw.Data.Raw
	}

	switch event.Type {
	case domain.EventSubscriptionCreated, domain.EventSubscriptionUpdated, domain.EventSubscriptionDeleted:
		decoded, err := decodeSubscription(object)
		if err != nil {
			return domain.Event{}, err
		}
		event.Subscription = &decoded
	case domain.EventInvoiceCreated, domain.EventInvoicePaid, domain.EventInvoicePaymentFailed:
		decoded, err := decodeInvoice(object)
		if err != nil {
			return domain.Event{}, err
		}
		event.Invoice = &decoded
	case domain.EventPaymentSucceeded, domain.EventPaymentFailed:
		decoded, err := decodePaymentIntent(object)
		if err != nil {
			return domain.Event{}, err
		}
		event.Payment = &decoded
	}
	return event, nil
}

func decodeSubscription(object json.RawMessage) (domain.Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(object, &sub); err != nil || sub.ID == "" {
		return domain.Subscription{}, domain.ErrInvalidPayload
	}
	var legacy legacySubscription
	_ = json.Unmarshal(object, &legacy)
	return subscriptionToDomain(&sub, legacy), nil
}

// subscriptionToDomain reads the billing period from the first item, falling
// back to the subscription-level period older API versions send.
func subscriptionToDomain(s *stripe.Subscription, legacy legacySubscription) domain.Subscription {
	start, end := legacy.CurrentPeriodStart, legacy.CurrentPeriodEnd
	var priceID string
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0] != nil {
		item := s.Items.Data[0]
		if item.Price != nil {
			priceID = item.Price.ID
		}
		if item.CurrentPeriodStart > 0 {
			start = item.CurrentPeriodStart
		}
		if item.CurrentPeriodEnd > 0 {
			end = item.CurrentPeriodEnd
		}
	}
	out := domain.Subscription{
		ID:                 s.ID,
		PriceID:            priceID,
		Status:             strings.ToLower(strings.TrimSpace(string(s.Status))),
		CurrentPeriodStart: unixPtr(start),
		CurrentPeriodEnd:   unixPtr(end),
		TrialStart:         unixPtr(s.TrialStart),
		TrialEnd:           unixPtr(s.TrialEnd),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CanceledAt:         unixPtr(s.CanceledAt),
		EndedAt:            unixPtr(s.EndedAt),
		HasPaymentMethod:   s.DefaultPaymentMethod != nil && s.DefaultPaymentMethod.ID != "",
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	return out
}

func decodeInvoice(object json.RawMessage) (domain.Invoice, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(object, &inv); err != nil || inv.ID == "" {
		return domain.Invoice{}, domain.ErrInvalidPayload
	}
	var legacy legacyInvoice
	_ = json.Unmarshal(object, &legacy)
	return invoiceToDomain(&inv, legacy), nil
}

// invoiceToDomain keeps total = subtotal + tax. Discounts show up as a total
// below the subtotal, in which case the subtotal is reported net of them.
func invoiceToDomain(i *stripe.Invoice, legacy legacyInvoice) domain.Invoice {
	subscriptionID := string(legacy.Subscription)
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil && i.Parent.SubscriptionDetails.Subscription != nil {
		subscriptionID = i.Parent.SubscriptionDetails.Subscription.ID
	}

	taxReported := legacy.Tax
	if len(i.TotalTaxes) > 0 {
		var sum int64
		for _, tax := range i.TotalTaxes {
			if tax != nil {
				sum += tax.Amount
			}
		}
		taxReported = &sum
	}
	subtotal := i.Subtotal
	tax := i.Total - i.Subtotal
	if taxReported != nil {
		tax = *taxReported
		subtotal = i.Total - tax
	}
	if tax < 0 {
		tax = 0
		subtotal = i.Total
	}

	periodStart, periodEnd := i.PeriodStart, i.PeriodEnd
	var lines []domain.InvoiceLine
	if i.Lines != nil {
		lines = make([]domain.InvoiceLine, 0, len(i.Lines.Data))
		for idx, line := range i.Lines.Data {
			if line == nil {
				continue
			}
			if idx == 0 && line.Period != nil && line.Period.Start > 0 && line.Period.End > line.Period.Start {
				periodStart, periodEnd = line.Period.Start, line.Period.End
			}
			quantity := line.Quantity
			if quantity <= 0 {
				quantity = 1
			}
			lines = append(lines, domain.InvoiceLine{
				Description: line.Description,
				Amount:      line.Amount,
				Quantity:    quantity,
			})
		}
	}

	created := time.Now().UTC()
	if i.Created > 0 {
		created = time.Unix(i.Created, 0).UTC()
	}

	out := domain.Invoice{
		ID:             i.ID,
		SubscriptionID: subscriptionID,
		Number:         i.Number,
		Status:         strings.ToLower(string(i.Status)),
		Currency:       strings.ToLower(string(i.Currency)),
		Subtotal:       subtotal,
		Tax:            tax,
		Total:          i.Total,
		AmountPaid:     i.AmountPaid,
		PeriodStart:    unixPtr(periodStart),
		PeriodEnd:      unixPtr(periodEnd),
		CreatedAt:      created,
		DueDate:        unixPtr(i.DueDate),
		Lines:          lines,
	}
	if i.Customer != nil {
		out.CustomerID = i.Customer.ID
	}
	return out
}

func decodePaymentIntent(object json.RawMessage) (domain.Payment, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(object, &intent); err != nil || intent.ID == "" {
		return domain.Payment{}, domain.ErrInvalidPayload
	}
	var legacy legacyPaymentIntent
	_ = json.Unmarshal(object, &legacy)
	return paymentToDomain(&intent, legacy), nil
}

// paymentToDomain finds the invoice through the legacy invoice field, then
// through the metadata our checkout sets.
func paymentToDomain(p *stripe.PaymentIntent, legacy legacyPaymentIntent) domain.Payment {
	amount := p.AmountReceived
	if amount <= 0 {
		amount = p.Amount
	}
	invoiceID := string(legacy.Invoice)
	if invoiceID == "" {
		invoiceID = strings.TrimSpace(p.Metadata["invoice"])
	}
	if invoiceID == "" {
		invoiceID = strings.TrimSpace(p.Metadata["invoice_id"])
	}

	out := domain.Payment{
		IntentID:  p.ID,
		InvoiceID: invoiceID,
		Amount:    amount,
		Currency:  strings.ToLower(string(p.Currency)),
	}
	if p.Customer != nil {
		out.CustomerID = p.Customer.ID
	}
	if p.LatestCharge != nil {
		out.ChargeID = p.LatestCharge.ID
	}
	if len(p.PaymentMethodTypes) > 0 {
		out.Method = p.PaymentMethodTypes[0]
	}
	if e := p.LastPaymentError; e != nil {
		out.FailureCode = string(e.Code)
		if e.DeclineCode != "" {
			out.FailureCode = string(e.DeclineCode)
		}
		out.FailureMessage = e.Msg
	}
	return out
}

func mapEventType(raw string) domain.EventType {
	switch strings.TrimSpace(raw) {
	case "customer.subscription.created":
		return domain.EventSubscriptionCreated
	case "customer.subscription.updated":
		return domain.EventSubscriptionUpdated
	case "customer.subscription.deleted":
		return domain.EventSubscriptionDeleted
	case "invoice.created":
		return domain.EventInvoiceCreated
	case "invoice.paid", "invoice.payment_succeeded":
		return domain.EventInvoicePaid
	case "invoice.payment_failed":
		return domain.EventInvoicePaymentFailed
	case "payment_intent.succeeded":
		return domain.EventPaymentSucceeded
	case "payment_intent.payment_failed":
		return domain.EventPaymentFailed
	default:
		return domain.EventUnknown
	}
}

func unixPtr(value int64) *time.Time {
	if value <= 0 {
		return nil
	}
	t := time.Unix(value, 0).UTC()
	return &t
}
