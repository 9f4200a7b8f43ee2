package domain

import (
	"errors"

	"github.com/smallbiznis/tenantbill/internal/errkind"
)

var (
	ErrInvalidPayload = errkind.Validation("invalid_payload")
	ErrInvalidEvent   = errkind.Validation("invalid_event")
)

// ErrInvoiceNotYetKnown rolls the delivery back so the processor retries it
// once the invoice event has arrived.
var ErrInvoiceNotYetKnown = errors.New("payment references an invoice that has not been received")
