// Package reconcile repairs tasks and grants left inconsistent by crashes or
// failed refunds.
package reconcile

import (
	"context"
	"errors"
	"time"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/lifecycle"
)

// Auditor checks a grant against its ledger entries.
type Auditor interface {
	Audit(ctx context.Context, grantID string) error
}

// Options wires a Sweeper.
type Options struct {
	Tasks       domain.TaskRepository
	Grants      domain.GrantRepository
	Compensator *lifecycle.Compensator
	Machine     *lifecycle.Machine
	Auditor     Auditor
	Interval    time.Duration
	Lease       time.Duration
	Batch       int
	// MaxRefundAttempts stops backfilling a task after this many failures.
	MaxRefundAttempts int
	Logger            infra.Logger
}

// Report counts what one sweep did.
type Report struct {
	Refunded   int
	Redriven   int
	Audited    int
	Mismatches int
	Errors     int
}

// Sweeper backfills missing refunds, re-drives stale claims and audits
// recently touched grants.
type Sweeper struct {
	tasks       domain.TaskRepository
	grants      domain.GrantRepository
	compensator *lifecycle.Compensator
	machine     *lifecycle.Machine
	auditor     Auditor
	interval    time.Duration
	lease       time.Duration
	batch       int
	maxAttempts int
	logger      infra.Logger
	now         func() time.Time
	lastSweep   time.Time
}

// New constructs a Sweeper, defaulting to a one minute interval, a ten minute
// lease, batches of 50 and 20 refund attempts per task.
func New(opts Options) *Sweeper {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	lease := opts.Lease
	if lease <= 0 {
		lease = 10 * time.Minute
	}
	batch := opts.Batch
	if batch <= 0 {
		batch = 50
	}
	maxAttempts := opts.MaxRefundAttempts
	if maxAttempts <= 0 {
		maxAttempts = 20
	}
	return &Sweeper{
		tasks:       opts.Tasks,
		grants:      opts.Grants,
		compensator: opts.Compensator,
		machine:     opts.Machine,
		auditor:     opts.Auditor,
		interval:    interval,
		lease:       lease,
		batch:       batch,
		maxAttempts: maxAttempts,
		logger:      opts.Logger.With().Str("component", "reconcile").Logger(),
		now:         time.Now,
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Dur("lease", s.lease).Msg("reconcile: started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("reconcile: sweep failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep performs one pass. Per-item failures are logged and counted; only
// listing failures are returned.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	started := s.now()
	var report Report

	if err := s.backfillRefunds(ctx, &report); err != nil {
		return report, err
	}
	if err := s.redriveStale(ctx, started, &report); err != nil {
		return report, err
	}
	if err := s.audit(ctx, started, &report); err != nil {
		return report, err
	}
	s.lastSweep = started

	if report != (Report{}) {
		s.logger.Info().
			Int("refunded", report.Refunded).
			Int("redriven", report.Redriven).
			Int("audited", report.Audited).
			Int("mismatches", report.Mismatches).
			Int("errors", report.Errors).
			Msg("reconcile: sweep finished")
	}
	return report, nil
}

func (s *Sweeper) backfillRefunds(ctx context.Context, report *Report) error {
	tasks, err := s.tasks.ListUnrefundedFailures(ctx, s.batch, s.maxAttempts)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if err := s.compensator.Backfill(ctx, task); err != nil {
			report.Errors++
			s.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("reconcile: refund backfill failed")
			// Moves the task behind untried ones on the next sweep.
			if _, recErr := s.tasks.RecordRefundAttempt(ctx, task.TaskID); recErr != nil {
				s.logger.Error().Err(recErr).Str("task_id", task.TaskID).Msg("reconcile: record refund attempt failed")
			}
			continue
		}
		report.Refunded++
	}
	return nil
}

func (s *Sweeper) redriveStale(ctx context.Context, now time.Time, report *Report) error {
	tasks, err := s.tasks.ListStaleClaims(ctx, now.Add(-s.lease), s.batch)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.ClaimedAt == nil {
			continue
		}
		ok, err := s.tasks.Reclaim(ctx, task.TaskID, *task.ClaimedAt)
		if err != nil {
			report.Errors++
			s.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("reconcile: reclaim failed")
			continue
		}
		if !ok {
			continue
		}
		if err := s.machine.Redrive(ctx, task); err != nil {
			report.Errors++
			s.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("reconcile: redrive failed")
			continue
		}
		report.Redriven++
	}
	return nil
}

func (s *Sweeper) audit(ctx context.Context, now time.Time, report *Report) error {
	since := s.lastSweep
	if since.IsZero() {
		since = now.Add(-s.lease)
	}
	grantIDs, err := s.grants.ListTouchedSince(ctx, since, s.batch)
	if err != nil {
		return err
	}
	for _, id := range grantIDs {
		report.Audited++
		if err := s.auditor.Audit(ctx, id); err != nil {
			if errors.Is(err, domain.ErrLedgerMismatch) {
				report.Mismatches++
				s.logger.Error().Err(err).Str("grant_id", id).Msg("reconcile: ledger mismatch")
				continue
			}
			report.Errors++
			s.logger.Error().Err(err).Str("grant_id", id).Msg("reconcile: audit failed")
		}
	}
	return nil
}
