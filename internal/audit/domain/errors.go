package domain

import "github.com/smallbiznis/tenantbill/internal/errkind"

var (
	ErrInvalidTenant    = errkind.Validation("invalid_tenant")
	ErrInvalidAction    = errkind.Validation("invalid_action")
	ErrInvalidTimeRange = errkind.Validation("invalid_time_range")
	ErrInvalidPageToken = errkind.Validation("invalid_page_token")
)
