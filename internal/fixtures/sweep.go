package fixtures

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/gitlab-skills/live-harness/internal/models"
	"github.com/gitlab-skills/live-harness/pkg/scheduler"
)

// SweepLedger lists pending fixtures and records teardown results.
type SweepLedger interface {
	Ledger
	List(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerEntry, error)
}

type SweepOptions struct {
	// GitLabURL is the instance api talks to. Only fixtures of runs recorded
	// against it are swept.
	GitLabURL string
	// RunID limits the sweep to one run. Empty sweeps every finished run.
	RunID string
	// IncludeRunning also sweeps runs that have not finished.
	IncludeRunning bool
	// DryRun lists what would be removed without calling the API.
	DryRun bool
}

var errSweepURL = errors.New("sweep needs the GitLab URL the ledger runs were recorded against")

type SweepReport struct {
	Pending []models.LedgerEntry
	CleanupReport
}

// Sweep replays teardown for fixtures a previous run left behind.
func Sweep(ctx context.Context, api API, ledger SweepLedger, sched *scheduler.Scheduler, opts SweepOptions) (SweepReport, error) {
	if opts.GitLabURL == "" {
		return SweepReport{}, errSweepURL
	}

	// A run named explicitly is swept even while it is still open.
	pending, err := ledger.List(ctx, models.LedgerFilter{
		RunID:            opts.RunID,
		PendingOnly:      true,
		GitLabURL:        opts.GitLabURL,
		FinishedRunsOnly: opts.RunID == "" && !opts.IncludeRunning,
	})
	if err != nil {
		return SweepReport{}, err
	}

	report := SweepReport{Pending: pending}
	if opts.DryRun || len(pending) == 0 {
		return report, nil
	}

	t := NewTracker(api,
		WithScheduler(sched),
		WithTrackerLogger(zap.S().Named("sweep")),
	)
	t.ledger = ledger
	for _, e := range pending {
		t.mu.Lock()
		t.tracked[e.Fixture.Kind] = append(t.tracked[e.Fixture.Kind], tracked{fixture: e.Fixture, ledgerID: e.ID})
		t.mu.Unlock()
	}

	report.CleanupReport = t.Cleanup(ctx)
	return report, nil
}
