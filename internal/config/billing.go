package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// InitialStatusPolicy decides the status of a freshly created subscription.
type InitialStatusPolicy string

const (
	// InitialStatusTrialOrActive starts TRIALING when the plan has trial days, ACTIVE otherwise.
	InitialStatusTrialOrActive InitialStatusPolicy = "trial_or_active"
	// InitialStatusIncompleteWithoutPaymentMethod starts INCOMPLETE when no trial applies and no payment method was given.
	InitialStatusIncompleteWithoutPaymentMethod InitialStatusPolicy = "incomplete_without_payment_method"
	// InitialStatusGatewayReported copies the status returned by the payment processor.
	InitialStatusGatewayReported InitialStatusPolicy = "gateway_reported"
)

type OnboardingPolicy struct {
	SeedHistory       bool   `mapstructure:"seed_history"`
	SeedPlanCode      string `mapstructure:"seed_plan_code"`
	SeedInvoiceMonths int    `mapstructure:"seed_invoice_months"`
	DefaultTrialDays  int    `mapstructure:"default_trial_days"`
}

// BillingPolicy holds tunable business rules that may change without a deploy.
type BillingPolicy struct {
	InitialStatusPolicy     InitialStatusPolicy `mapstructure:"initial_status_policy"`
	Onboarding              OnboardingPolicy    `mapstructure:"onboarding"`
	TrialWarningDays        int                 `mapstructure:"trial_warning_days"`
	PaymentReminderInterval time.Duration       `mapstructure:"payment_reminder_interval"`
	UsageWindow             time.Duration       `mapstructure:"usage_window"`
	DefaultCurrency         string              `mapstructure:"default_currency"`
	TaxRateBps              int64               `mapstructure:"tax_rate_bps"`
	InvoiceDueDays          int                 `mapstructure:"invoice_due_days"`
}

func DefaultBillingPolicy() BillingPolicy {
	return BillingPolicy{
		InitialStatusPolicy: InitialStatusTrialOrActive,
		Onboarding: OnboardingPolicy{
			SeedHistory:       false,
			SeedPlanCode:      "pro",
			SeedInvoiceMonths: 3,
			DefaultTrialDays:  14,
		},
		TrialWarningDays:        3,
		PaymentReminderInterval: 72 * time.Hour,
		UsageWindow:             30 * 24 * time.Hour,
		DefaultCurrency:         "usd",
		TaxRateBps:              0,
		InvoiceDueDays:          30,
	}
}

type BillingPolicyHolder struct {
	current atomic.Value // holds BillingPolicy
}

// NewStaticBillingPolicyHolder returns a holder that never reloads.
func NewStaticBillingPolicyHolder(policy BillingPolicy) *BillingPolicyHolder {
	holder := &BillingPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewBillingPolicyHolder(cfg Config) (*BillingPolicyHolder, error) {
	v := viper.New()

	if cfg.BillingPolicyPath != "" {
		v.SetConfigFile(cfg.BillingPolicyPath)
	} else {
		v.SetConfigName("billing")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/tenantbill")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TENANTBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingPolicy()
	v.SetDefault("billing.initial_status_policy", string(defaults.InitialStatusPolicy))
	v.SetDefault("billing.onboarding.seed_history", defaults.Onboarding.SeedHistory)
	v.SetDefault("billing.onboarding.seed_plan_code", defaults.Onboarding.SeedPlanCode)
	v.SetDefault("billing.onboarding.seed_invoice_months", defaults.Onboarding.SeedInvoiceMonths)
	v.SetDefault("billing.onboarding.default_trial_days", defaults.Onboarding.DefaultTrialDays)
	v.SetDefault("billing.trial_warning_days", defaults.TrialWarningDays)
	v.SetDefault("billing.payment_reminder_interval", defaults.PaymentReminderInterval.String())
	v.SetDefault("billing.usage_window", defaults.UsageWindow.String())
	v.SetDefault("billing.default_currency", defaults.DefaultCurrency)
	v.SetDefault("billing.tax_rate_bps", defaults.TaxRateBps)
	v.SetDefault("billing.invoice_due_days", defaults.InvoiceDueDays)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfg.BillingPolicyPath != "" {
			return nil, err
		}
		fileLoaded = false
	}

	var policy BillingPolicy
	if err := v.UnmarshalKey("billing", &policy); err != nil {
		return nil, err
	}
	policy = normalizeBillingPolicy(policy)
	if err := ValidateBillingPolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticBillingPolicyHolder(policy)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingPolicy
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-policy] reload failed: %v", err)
			return
		}
		updated = normalizeBillingPolicy(updated)
		if err := ValidateBillingPolicy(updated); err != nil {
			log.Printf("[billing-policy] invalid policy ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *BillingPolicyHolder) Get() BillingPolicy {
	if h == nil {
		return DefaultBillingPolicy()
	}
	policy, ok := h.current.Load().(BillingPolicy)
	if !ok {
		return DefaultBillingPolicy()
	}
	return policy
}

func normalizeBillingPolicy(p BillingPolicy) BillingPolicy {
	p.InitialStatusPolicy = InitialStatusPolicy(strings.ToLower(strings.TrimSpace(string(p.InitialStatusPolicy))))
	p.DefaultCurrency = strings.ToLower(strings.TrimSpace(p.DefaultCurrency))
	p.Onboarding.SeedPlanCode = strings.ToLower(strings.TrimSpace(p.Onboarding.SeedPlanCode))
	return p
}

func ValidateBillingPolicy(p BillingPolicy) error {
	switch p.InitialStatusPolicy {
	case InitialStatusTrialOrActive, InitialStatusIncompleteWithoutPaymentMethod, InitialStatusGatewayReported:
	default:
		return errors.New("billing.initial_status_policy is not supported")
	}
	if p.TrialWarningDays < 0 {
		return errors.New("billing.trial_warning_days cannot be negative")
	}
	if p.PaymentReminderInterval <= 0 {
		return errors.New("billing.payment_reminder_interval must be positive")
	}
	if p.UsageWindow <= 0 {
		return errors.New("billing.usage_window must be positive")
	}
	if p.DefaultCurrency == "" {
		return errors.New("billing.default_currency cannot be empty")
	}
	if p.TaxRateBps < 0 || p.TaxRateBps > 10000 {
		return errors.New("billing.tax_rate_bps must be between 0 and 10000")
	}
	if p.InvoiceDueDays < 0 {
		return errors.New("billing.invoice_due_days cannot be negative")
	}
	if p.Onboarding.SeedHistory && p.Onboarding.SeedPlanCode == "" {
		return errors.New("billing.onboarding.seed_plan_code is required when seed_history is enabled")
	}
	return nil
}
