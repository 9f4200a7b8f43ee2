package format

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gosimple/slug"
)

// DefaultInvoiceNumberTemplate yields numbers such as INV-2026-ACME-007.
const DefaultInvoiceNumberTemplate = "INV-{YYYY}-{SLUG}-{SEQ3}"

var tokenRe = regexp.MustCompile(`\{([A-Z]+)(\d*)\}`)

var errMissingSlug = errors.New("tenant slug is required by invoice format")

// FormatInvoiceNumber renders template for the tenant's seq-th invoice.
//
// Supported tokens are {YYYY}, {YY}, {MM}, {DD} from issuedAt, {SLUG} as the
// upper-cased tenant slug, {SEQ} and {SEQn} for the sequence zero-padded to n
// digits. Any other token is an error.
func FormatInvoiceNumber(template string, issuedAt time.Time, tenantSlug string, seq int64) (string, error) {
	if template == "" {
		return "", errors.New("invoice number template is empty")
	}
	if seq <= 0 {
		return "", fmt.Errorf("invalid invoice sequence: %d", seq)
	}

	var firstErr error
	out := tokenRe.ReplaceAllStringFunc(template, func(token string) string {
		m := tokenRe.FindStringSubmatch(token)
		value, err := resolveToken(m[1], m[2], issuedAt, tenantSlug, seq)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return token
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	if strings.ContainsAny(out, "{}") {
		return "", fmt.Errorf("unbalanced braces in invoice format: %s", template)
	}
	return out, nil
}

func resolveToken(name, width string, issuedAt time.Time, tenantSlug string, seq int64) (string, error) {
	if name == "SEQ" {
		if width == "" {
			return strconv.FormatInt(seq, 10), nil
		}
		n, err := strconv.Atoi(width)
		if err != nil || n <= 0 {
			return "", fmt.Errorf("invalid sequence width %q", width)
		}
		return fmt.Sprintf("%0*d", n, seq), nil
	}
	if width != "" {
		return "", fmt.Errorf("unknown invoice format token {%s%s}", name, width)
	}

	switch name {
	case "YYYY":
		return issuedAt.Format("2006"), nil
	case "YY":
		return issuedAt.Format("06"), nil
	case "MM":
		return issuedAt.Format("01"), nil
	case "DD":
		return issuedAt.Format("02"), nil
	case "SLUG":
		normalized := strings.ToUpper(slug.Make(tenantSlug))
		if normalized == "" {
			return "", errMissingSlug
		}
		return normalized, nil
	}
	return "", fmt.Errorf("unknown invoice format token {%s}", name)
}
