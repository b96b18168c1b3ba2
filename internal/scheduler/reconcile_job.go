package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwalther/belegmatch/internal/modules/reconcile"
)

// Reconciler runs one reconciliation pass over a date range.
type Reconciler interface {
	ReconcileRange(ctx context.Context, from, to time.Time) (*reconcile.RunStats, []reconcile.Outcome, error)
}

// ReconcileJob runs the nightly reconciliation over the trailing
// window. Only unassigned transactions are touched, so overlapping
// windows between runs are harmless.
type ReconcileJob struct {
	log          zerolog.Logger
	service      Reconciler
	lookbackDays int
	timeout      time.Duration

	mu sync.Mutex
}

// NewReconcileJob creates a new reconciliation job
func NewReconcileJob(service Reconciler, lookbackDays int, log zerolog.Logger) *ReconcileJob {
	if lookbackDays < 1 {
		lookbackDays = 30
	}
	return &ReconcileJob{
		log:          log.With().Str("job", "reconcile").Logger(),
		service:      service,
		lookbackDays: lookbackDays,
		timeout:      10 * time.Minute,
	}
}

// Name returns the job name
func (j *ReconcileJob) Name() string {
	return "reconcile"
}

// Run reconciles the trailing lookback window up to tomorrow, so
// today's transactions are included.
func (j *ReconcileJob) Run() error {
	if !j.mu.TryLock() {
		j.log.Warn().Msg("Reconciliation already running, skipping")
		return nil
	}
	defer j.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	to := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	from := to.AddDate(0, 0, -j.lookbackDays)

	stats, _, err := j.service.ReconcileRange(ctx, from, to)
	if err != nil {
		return fmt.Errorf("reconciliation run failed: %w", err)
	}

	j.log.Info().
		Int("total", stats.TotalTransactions).
		Int("matched_document", stats.MatchedDocument).
		Int("matched_account", stats.MatchedAccount).
		Int("unmatched", stats.Unmatched).
		Msg("Nightly reconciliation completed")

	return nil
}
