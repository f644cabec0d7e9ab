package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gitlab-skills/live-harness/internal/config"
	"github.com/gitlab-skills/live-harness/internal/fixtures"
	"github.com/gitlab-skills/live-harness/internal/store"
	"github.com/gitlab-skills/live-harness/pkg/glab"
	"github.com/gitlab-skills/live-harness/pkg/scheduler"
)

var (
	okColor      = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	failColor    = color.New(color.FgRed, color.Bold)
	headingColor = color.New(color.Bold)
)

// NewSweepCommand replays teardown for fixtures a crashed run left behind.
func NewSweepCommand(cfg *config.Configuration) *cobra.Command {
	var (
		runID          string
		dryRun         bool
		includeRunning bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete fixtures the ledger still lists as pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			if err := requireToken(cfg); err != nil {
				return err
			}

			s, err := openLedger(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			client, err := sweepClient(cfg)
			if err != nil {
				return err
			}

			sched := scheduler.NewScheduler(cfg.Fixtures.CleanupWorkers)
			defer sched.Close()

			report, err := fixtures.Sweep(ctx, client, s.Fixtures(), sched, fixtures.SweepOptions{
				GitLabURL:      cfg.GitLab.URL,
				RunID:          runID,
				IncludeRunning: includeRunning,
				DryRun:         dryRun,
			})
			if err != nil {
				return err
			}

			printSweepReport(cmd.OutOrStdout(), report, dryRun)
			return report.Err()
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Only sweep fixtures of this run")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List pending fixtures without deleting them")
	cmd.Flags().BoolVar(&includeRunning, "include-running", false, "Also sweep runs that have not finished")

	return cmd
}

// sweepClient prefers the root token: fixtures of every role must go.
func sweepClient(cfg *config.Configuration) (*glab.Client, error) {
	if cfg.GitLab.RootToken == "" {
		return newClient(cfg, "")
	}
	return newClient(cfg, string(glab.RoleRoot))
}

func openLedger(ctx context.Context, cfg *config.Configuration) (*store.Store, error) {
	if !cfg.Ledger.Enabled {
		return nil, fmt.Errorf("ledger is disabled")
	}
	return store.Open(ctx, cfg.Ledger.Path)
}

func printSweepReport(w io.Writer, report fixtures.SweepReport, dryRun bool) {
	if len(report.Pending) == 0 {
		_, _ = okColor.Fprintln(w, "nothing to sweep")
		return
	}

	if dryRun {
		_, _ = headingColor.Fprintf(w, "%d pending fixtures\n", len(report.Pending))
		for _, e := range report.Pending {
			_, _ = warnColor.Fprintf(w, "  %s", e.Fixture)
			_, _ = fmt.Fprintf(w, " (run %s)\n", e.RunID)
		}
		return
	}

	_, _ = okColor.Fprintf(w, "cleaned: %d\n", report.Cleaned)
	if n := len(report.Ignored); n > 0 {
		_, _ = warnColor.Fprintf(w, "already gone or rejected: %d\n", n)
		for _, err := range report.Ignored {
			_, _ = fmt.Fprintf(w, "  %v\n", err)
		}
	}
	if n := len(report.Failed); n > 0 {
		_, _ = failColor.Fprintf(w, "failed: %d\n", n)
		for _, err := range report.Failed {
			_, _ = fmt.Fprintf(w, "  %v\n", err)
		}
	}
}
