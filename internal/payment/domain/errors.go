package domain

import "github.com/smallbiznis/tenantbill/internal/errkind"

var (
	ErrInvalidPayment    = errkind.Validation("invalid_payment")
	ErrInvalidAmount     = errkind.Validation("invalid_payment_amount")
	ErrInvalidStatus     = errkind.Validation("invalid_payment_status")
	ErrInvalidTransition = errkind.Conflict("invalid_payment_transition")
	ErrPaymentNotFound   = errkind.NotFound("payment_not_found")
)
