package email

import "github.com/smallbiznis/tenantbill/internal/errkind"

var (
	ErrNoRecipient     = errkind.Validation("email_no_recipient")
	ErrEmptySubject    = errkind.Validation("email_empty_subject")
	ErrUnknownTemplate = errkind.NotFound("email_template_not_found")
)
