package domain

import "github.com/smallbiznis/tenantbill/internal/errkind"

var (
	ErrMissingSignature = errkind.Authentication("missing_signature")
	ErrInvalidSignature = errkind.Authentication("invalid_signature")
	ErrInvalidPayload   = errkind.Validation("invalid_payload")
	ErrProviderNotFound = errkind.NotFound("provider_not_found")
	ErrNotConfigured    = errkind.Validation("gateway_not_configured")
)
