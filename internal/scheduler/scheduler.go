// Package scheduler runs the periodic billing sweeps.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-co-op/gocron/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tenantbill/internal/cache"
	"github.com/smallbiznis/tenantbill/internal/clock"
	"github.com/smallbiznis/tenantbill/internal/config"
	invoicedomain "github.com/smallbiznis/tenantbill/internal/invoice/domain"
	notificationdomain "github.com/smallbiznis/tenantbill/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/tenantbill/internal/observability/metrics"
	plandomain "github.com/smallbiznis/tenantbill/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/tenantbill/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/tenantbill/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/tenantbill/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobTrialSweep         = "trial_sweep"
	JobInvoiceGeneration  = "invoice_generation"
	JobUsageAggregation   = "usage_aggregation"
	JobPastDueResync      = "past_due_resync"
	JobTrialEndingWarning = "trial_ending_warning"
	JobPaymentReminder    = "payment_reminder"
)

const (
	defaultBatchSize  = 100
	defaultJobTimeout = 2 * time.Minute
	defaultLockTTL    = 5 * time.Minute
	maxBatchesPerRun  = 20
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Config        config.Config
	Policy        *config.BillingPolicyHolder
	Tenants       tenantdomain.Repository
	Subscriptions subscriptiondomain.Service
	SubRepo       subscriptiondomain.Repository
	Plans         plandomain.Repository
	Invoices      invoicedomain.Service
	Usage         usagedomain.Service
	Notifier      notificationdomain.Notifier
	Redis         *redis.Client                `optional:"true"`
	Metrics       *obsmetrics.Metrics          `optional:"true"`
	SchedMetrics  *obsmetrics.SchedulerMetrics `optional:"true"`
}

type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context, run *jobRun) error
}

type Scheduler struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          config.SchedulerConfig
	genID        *snowflake.Node
	clock        clock.Clock
	policy       *config.BillingPolicyHolder
	tenants      tenantdomain.Repository
	subs         subscriptiondomain.Service
	subRepo      subscriptiondomain.Repository
	plans        plandomain.Repository
	invoices     invoicedomain.Service
	usage        usagedomain.Service
	notifier     notificationdomain.Notifier
	locker       *cache.Locker
	metrics      *obsmetrics.Metrics
	schedMetrics *obsmetrics.SchedulerMetrics

	jobs []job
	cron gocron.Scheduler
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Policy == nil ||
		p.Tenants == nil || p.Subscriptions == nil || p.SubRepo == nil || p.Plans == nil ||
		p.Invoices == nil || p.Usage == nil || p.Notifier == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.Scheduler
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}

	s := &Scheduler{
		db:           p.DB,
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          cfg,
		genID:        p.GenID,
		clock:        p.Clock,
		policy:       p.Policy,
		tenants:      p.Tenants,
		subs:         p.Subscriptions,
		subRepo:      p.SubRepo,
		plans:        p.Plans,
		invoices:     p.Invoices,
		usage:        p.Usage,
		notifier:     p.Notifier,
		locker:       cache.NewLocker(p.Redis),
		metrics:      p.Metrics,
		schedMetrics: p.SchedMetrics,
	}
	s.jobs = []job{
		{JobTrialSweep, cfg.TrialSweepInterval, s.TrialSweepJob},
		{JobInvoiceGeneration, cfg.InvoiceGenerationInterval, s.InvoiceGenerationJob},
		{JobUsageAggregation, cfg.UsageAggregationInterval, s.UsageAggregationJob},
		{JobPastDueResync, cfg.PastDueResyncInterval, s.PastDueResyncJob},
		{JobTrialEndingWarning, cfg.TrialEndingWarningInterval, s.TrialEndingWarningJob},
		{JobPaymentReminder, cfg.PaymentReminderInterval, s.PaymentReminderJob},
	}
	return s, nil
}

// RunOnce runs every enabled job once, in order. Job failures are joined so
// one failing sweep never prevents the next one from running.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var err error
	for _, j := range s.jobs {
		if !s.isJobEnabled(j.name) {
			continue
		}
		err = errors.Join(err, s.runJob(ctx, j))
	}
	return err
}

// Start registers enabled jobs with gocron. With redis configured each run is
// guarded by a distributed lock so only one instance executes a given job.
func (s *Scheduler) Start() error {
	opts := []gocron.SchedulerOption{gocron.WithLocation(time.UTC)}
	if s.locker != nil {
		opts = append(opts, gocron.WithDistributedLocker(&distributedLocker{
			locker:  s.locker,
			ttl:     s.cfg.LockTTL,
			metrics: s.schedMetrics,
		}))
	}
	cron, err := gocron.NewScheduler(opts...)
	if err != nil {
		return err
	}

	registered := 0
	for _, j := range s.jobs {
		if !s.isJobEnabled(j.name) || j.interval <= 0 {
			continue
		}
		j := j
		_, err := cron.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(func(ctx context.Context) {
				if err := s.runJob(ctx, j); err != nil {
					s.log.Warn("scheduler job failed", zap.String("job", j.name), zap.Error(err))
				}
			}),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = cron.Shutdown()
			return fmt.Errorf("register %s: %w", j.name, err)
		}
		registered++
	}

	s.cron = cron
	cron.Start()
	s.log.Info("scheduler started",
		zap.Int("jobs", registered),
		zap.Bool("distributed_lock", s.locker != nil),
	)
	return nil
}

func (s *Scheduler) Stop() error {
	if s.cron == nil {
		return nil
	}
	return s.cron.Shutdown()
}

func (s *Scheduler) runJob(parent context.Context, j job) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, j.name)
	s.logJobStart(ctx, run)
	s.schedMetrics.IncJobRun(j.name)

	err := j.run(ctx, run)
	s.schedMetrics.ObserveJobDuration(j.name, time.Since(start))
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	s.schedMetrics.IncJobError(j.name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.schedMetrics.IncJobTimeout(j.name)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", j.name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", j.name, err)
}

func (s *Scheduler) isJobEnabled(name string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, name) {
			return true
		}
	}
	return false
}
