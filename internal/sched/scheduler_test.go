package sched

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minerva-erp/glcore/internal/ledger"
	"github.com/minerva-erp/glcore/internal/service/aggregate"
	"github.com/minerva-erp/glcore/internal/service/recon"
)

type fakeIntegrity struct {
	aggregate.Service
	report aggregate.IntegrityReport
	err    error
	calls  int
}

func (f *fakeIntegrity) VerifyIntegrity(ctx context.Context) (aggregate.IntegrityReport, error) {
	f.calls++
	return f.report, f.err
}

type fakeRecon struct {
	recon.Service
	reqs []recon.RunRequest
}

func (f *fakeRecon) Reconcile(ctx context.Context, req recon.RunRequest) (ledger.BankReconciliation, error) {
	f.reqs = append(f.reqs, req)
	return ledger.BankReconciliation{ID: uuid.New(), Items: []ledger.ReconciliationItem{
		{Status: ledger.ReconAuto},
		{Status: ledger.ReconUnmatched},
	}}, nil
}

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, nil))
}

func TestStartRegistersConfiguredJobs(t *testing.T) {
	s := New(&fakeIntegrity{}, &fakeRecon{}, []uuid.UUID{uuid.New()},
		Schedules{Integrity: "@daily", Reconcile: "@hourly"}, testLogger(&bytes.Buffer{}))
	s.Start()
	defer func() { <-s.Stop().Done() }()

	assert.Len(t, s.cron.Entries(), 2)
}

func TestStartSkipsDisabledJobs(t *testing.T) {
	// A reconcile schedule without bank accounts is a no-op.
	s := New(&fakeIntegrity{}, &fakeRecon{}, nil,
		Schedules{Integrity: "@daily", Reconcile: "@hourly"}, testLogger(&bytes.Buffer{}))
	s.Start()
	defer func() { <-s.Stop().Done() }()
	assert.Len(t, s.cron.Entries(), 1)

	idle := New(&fakeIntegrity{}, &fakeRecon{}, nil, Schedules{}, testLogger(&bytes.Buffer{}))
	idle.Start()
	defer func() { <-idle.Stop().Done() }()
	assert.Empty(t, idle.cron.Entries())
}

func TestStartLogsBadSpec(t *testing.T) {
	var buf bytes.Buffer
	s := New(&fakeIntegrity{}, &fakeRecon{}, nil,
		Schedules{Integrity: "not a cron spec"}, testLogger(&buf))
	s.Start()
	defer func() { <-s.Stop().Done() }()

	assert.Empty(t, s.cron.Entries())
	assert.Contains(t, buf.String(), "failed to schedule integrity check")
}

func TestRunIntegrityLogsOutcome(t *testing.T) {
	var buf bytes.Buffer
	clean := &fakeIntegrity{report: aggregate.IntegrityReport{Balanced: true, LastNumber: 42}}
	New(clean, &fakeRecon{}, nil, Schedules{}, testLogger(&buf)).runIntegrity()
	assert.Equal(t, 1, clean.calls)
	assert.Contains(t, buf.String(), "integrity check clean")

	buf.Reset()
	dirty := &fakeIntegrity{report: aggregate.IntegrityReport{SequenceGaps: []int64{7}}}
	New(dirty, &fakeRecon{}, nil, Schedules{}, testLogger(&buf)).runIntegrity()
	assert.Contains(t, buf.String(), "integrity check found problems")
}

func TestRunReconcileCoversEveryAccount(t *testing.T) {
	var buf bytes.Buffer
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	rc := &fakeRecon{}

	New(&fakeIntegrity{}, rc, ids, Schedules{}, testLogger(&buf)).runReconcile()

	require.Len(t, rc.reqs, 2)
	for i, req := range rc.reqs {
		assert.Equal(t, ids[i], req.BankAccountID)
		monthStart := time.Date(req.PeriodEnd.Year(), req.PeriodEnd.Month(), 1, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, monthStart, req.PeriodStart)
		assert.False(t, req.PeriodEnd.Before(req.PeriodStart))
	}
	assert.Contains(t, buf.String(), "matched=1")
}
