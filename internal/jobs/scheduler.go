// Background jobs for reconciliation, settlement reporting, and
// stalled-transfer recovery.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/acaderofficial-code/acader-backend-sub000/internal/ledger"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/reconciliation"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/withdrawal"
	"github.com/acaderofficial-code/acader-backend-sub000/pkg/models"
)

// Job is one scheduled background task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	LastRun   *time.Time
	LastError string
	RunCount  int64
}

// Metrics holds Prometheus metrics for job executions.
type Metrics struct {
	Executions    *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	LastExecution *prometheus.GaugeVec
	PlatformTotals *prometheus.GaugeVec
}

// Scheduler runs interval jobs until stopped.
type Scheduler struct {
	logger  *zap.Logger
	metrics *Metrics

	mu      sync.Mutex
	jobs    []*Job
	stops   []chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		metrics: &Metrics{
			Executions: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "acader_job_executions_total",
				Help: "Total number of background job executions",
			}, []string{"job", "status"}),
			Duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "acader_job_duration_seconds",
				Help:    "Duration of background job executions",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			}, []string{"job"}),
			LastExecution: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "acader_job_last_execution_timestamp",
				Help: "Unix timestamp of the last execution per job",
			}, []string{"job"}),
			PlatformTotals: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "acader_platform_balance_total",
				Help: "Platform-owned ledger totals per balance type",
			}, []string{"balance_type"}),
		},
	}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

// Jobs returns a snapshot of the registered jobs and their run state.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	return out
}

// Start launches one goroutine per job. With runAtStartup each job
// fires once immediately instead of waiting a full interval.
func (s *Scheduler) Start(ctx context.Context, runAtStartup bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	for _, job := range s.jobs {
		stop := make(chan struct{})
		s.stops = append(s.stops, stop)
		s.wg.Add(1)
		go s.loop(ctx, job, stop, runAtStartup)
	}
	s.logger.Info("job scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop signals all job loops and waits for them to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for _, stop := range s.stops {
		close(stop)
	}
	s.stops = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("job scheduler stopped")
}

// RunNow executes a registered job by name, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var target *Job
	for _, job := range s.jobs {
		if job.Name == name {
			target = job
			break
		}
	}
	s.mu.Unlock()

	if target == nil {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.execute(ctx, target)
}

func (s *Scheduler) loop(ctx context.Context, job *Job, stop chan struct{}, runAtStartup bool) {
	defer s.wg.Done()

	if runAtStartup {
		if err := s.execute(ctx, job); err != nil {
			s.logger.Error("startup job run failed",
				zap.String("job", job.Name), zap.Error(err))
		}
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.execute(ctx, job); err != nil {
				s.logger.Error("scheduled job run failed",
					zap.String("job", job.Name), zap.Error(err))
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job *Job) error {
	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	now := start.UTC()
	job.LastRun = &now
	job.RunCount++
	if err != nil {
		job.LastError = err.Error()
	} else {
		job.LastError = ""
	}
	s.mu.Unlock()

	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.Executions.WithLabelValues(job.Name, status).Inc()
	s.metrics.Duration.WithLabelValues(job.Name).Observe(elapsed.Seconds())
	s.metrics.LastExecution.WithLabelValues(job.Name).SetToCurrentTime()

	if err == nil {
		s.logger.Info("job run finished",
			zap.String("job", job.Name),
			zap.Duration("elapsed", elapsed))
	}
	return err
}

// NewReconciliationJob wraps the full reconciliation run.
func NewReconciliationJob(svc reconciliation.ReconciliationService, interval time.Duration) *Job {
	return &Job{
		Name:     "reconciliation",
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := svc.Run(ctx)
			return err
		},
	}
}

// NewSettlementReportJob publishes platform-level ledger totals as
// metrics and logs a periodic settlement summary.
func NewSettlementReportJob(ledgerSvc ledger.LedgerService, scheduler *Scheduler, logger *zap.Logger, interval time.Duration) *Job {
	return &Job{
		Name:     "settlement_report",
		Interval: interval,
		Run: func(ctx context.Context) error {
			totals := map[models.BalanceType]decimal.Decimal{}
			for _, bt := range []models.BalanceType{models.BalancePlatform, models.BalanceRevenue} {
				total, err := ledgerSvc.GetBalance(ctx, nil, bt)
				if err != nil {
					return err
				}
				totals[bt] = total
				value, _ := total.Float64()
				scheduler.metrics.PlatformTotals.WithLabelValues(string(bt)).Set(value)
			}
			logger.Info("settlement report",
				zap.String("platform", totals[models.BalancePlatform].StringFixed(2)),
				zap.String("revenue", totals[models.BalanceRevenue].StringFixed(2)))
			return nil
		},
	}
}

// NewStalledTransferJob sweeps processing withdrawals whose webhook
// never arrived and applies the provider's answer.
func NewStalledTransferJob(svc withdrawal.WithdrawalService, logger *zap.Logger, interval, olderThan time.Duration) *Job {
	return &Job{
		Name:     "stalled_transfers",
		Interval: interval,
		Run: func(ctx context.Context) error {
			resolved, err := svc.VerifyStalled(ctx, olderThan)
			if err != nil {
				return err
			}
			if resolved > 0 {
				logger.Info("stalled transfers resolved", zap.Int("count", resolved))
			}
			return nil
		},
	}
}
