package domain

import "github.com/smallbiznis/tenantbill/internal/errkind"

var (
	ErrInvalidTenant     = errkind.Validation("invalid_tenant")
	ErrInvalidMetricType = errkind.Validation("invalid_metric_type")
	ErrInvalidValue      = errkind.Validation("invalid_value")
	ErrInvalidUnit       = errkind.Validation("invalid_unit")
	ErrInvalidPeriod     = errkind.Validation("invalid_period")
	ErrInvalidWindow     = errkind.Validation("invalid_window")
)
