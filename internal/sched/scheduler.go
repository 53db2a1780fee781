// Package sched runs the recurring background jobs: the nightly ledger
// integrity check and optional periodic reconciliation per bank account.
package sched

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/minerva-erp/glcore/internal/service/aggregate"
	"github.com/minerva-erp/glcore/internal/service/recon"
)

// jobTimeout bounds one run of a background job.
const jobTimeout = 5 * time.Minute

// Schedules holds the cron expressions. An empty string disables the job.
type Schedules struct {
	Integrity string
	Reconcile string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	integrity aggregate.Service
	recon     recon.Service
	accounts  []uuid.UUID
	schedules Schedules
	log       *slog.Logger
}

// New creates a scheduler; jobs recover from panics into the log.
func New(integrity aggregate.Service, reconSvc recon.Service, accounts []uuid.UUID, schedules Schedules, log *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:      c,
		integrity: integrity,
		recon:     reconSvc,
		accounts:  accounts,
		schedules: schedules,
		log:       log,
	}
}

// Start registers the configured jobs and starts the cron loop.
func (s *Scheduler) Start() {
	if s.schedules.Integrity != "" {
		if _, err := s.cron.AddFunc(s.schedules.Integrity, s.runIntegrity); err != nil {
			s.log.Error("failed to schedule integrity check", "error", err)
		} else {
			s.log.Info("scheduled integrity check", "schedule", s.schedules.Integrity)
		}
	}

	if s.schedules.Reconcile != "" && len(s.accounts) > 0 {
		if _, err := s.cron.AddFunc(s.schedules.Reconcile, s.runReconcile); err != nil {
			s.log.Error("failed to schedule reconciliation", "error", err)
		} else {
			s.log.Info("scheduled reconciliation",
				"schedule", s.schedules.Reconcile, "bank_accounts", len(s.accounts))
		}
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runIntegrity() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	report, err := s.integrity.VerifyIntegrity(ctx)
	if err != nil {
		s.log.Error("integrity check failed", "error", err)
		return
	}
	if !report.Balanced || len(report.Drift) > 0 || len(report.SequenceGaps) > 0 {
		s.log.Warn("integrity check found problems",
			"balanced", report.Balanced,
			"drift_accounts", len(report.Drift),
			"sequence_gaps", len(report.SequenceGaps))
		return
	}
	s.log.Info("integrity check clean", "last_entry_number", report.LastNumber)
}

// runReconcile re-runs the current month for every configured bank account.
// Re-runs are idempotent, decided items survive.
func (s *Scheduler) runReconcile() {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	for _, id := range s.accounts {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		rec, err := s.recon.Reconcile(ctx, recon.RunRequest{
			BankAccountID: id,
			PeriodStart:   start,
			PeriodEnd:     now,
		})
		cancel()
		if err != nil {
			s.log.Error("scheduled reconciliation failed", "bank_account_id", id, "error", err)
			continue
		}
		matched := 0
		for _, it := range rec.Items {
			if it.IsMatched() {
				matched++
			}
		}
		s.log.Info("scheduled reconciliation done",
			"bank_account_id", id, "items", len(rec.Items), "matched", matched)
	}
}
