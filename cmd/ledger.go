package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"

	"github.com/gitlab-skills/live-harness/internal/config"
	"github.com/gitlab-skills/live-harness/internal/models"
)

const (
	fixturesSheet = "Fixtures"
	summarySheet  = "Summary"
	runsSheet     = "Runs"
	timeLayout    = time.RFC3339
)

// NewLedgerCommand inspects the fixture ledger.
func NewLedgerCommand(cfg *config.Configuration) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the fixture ledger",
	}

	cmd.AddCommand(
		newLedgerListCommand(cfg),
		newLedgerRunsCommand(cfg),
		newLedgerExportCommand(cfg),
		newLedgerPruneCommand(cfg),
	)

	return cmd
}

func newLedgerListCommand(cfg *config.Configuration) *cobra.Command {
	var (
		filter  models.LedgerFilter
		kind    string
		summary bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded fixtures",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			if kind != "" {
				k, err := models.ParseFixtureKind(kind)
				if err != nil {
					return err
				}
				filter.Kind = k
			}

			s, err := openLedger(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if summary {
				sums, err := s.Fixtures().Summary(ctx, filter.RunID)
				if err != nil {
					return err
				}
				return printSummary(cmd.OutOrStdout(), sums)
			}

			entries, err := s.Fixtures().List(ctx, filter)
			if err != nil {
				return err
			}
			return printEntries(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().StringVar(&filter.RunID, "run", "", "Only list fixtures of this run")
	cmd.Flags().StringVar(&kind, "kind", "", "Only list fixtures of this kind")
	cmd.Flags().BoolVar(&filter.PendingOnly, "pending", false, "Only list fixtures not cleaned up yet")
	cmd.Flags().Uint64Var(&filter.Limit, "limit", 0, "Maximum number of entries (0 lists all)")
	cmd.Flags().BoolVar(&summary, "summary", false, "Count fixtures per kind instead of listing them")

	return cmd
}

func newLedgerRunsCommand(cfg *config.Configuration) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, err := openLedger(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			runs, err := s.Runs().List(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "RUN\tURL\tPROJECT\tSTARTED\tFINISHED")
			for _, r := range runs {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.GitLabURL, r.Project, r.StartedAt.Format(timeLayout), formatTime(r.FinishedAt))
			}
			return tw.Flush()
		},
	}
}

func newLedgerExportCommand(cfg *config.Configuration) *cobra.Command {
	var (
		path  string
		runID string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the ledger to a spreadsheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, err := openLedger(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.Fixtures().List(ctx, models.LedgerFilter{RunID: runID})
			if err != nil {
				return err
			}
			sums, err := s.Fixtures().Summary(ctx, runID)
			if err != nil {
				return err
			}
			runs, err := s.Runs().List(ctx)
			if err != nil {
				return err
			}

			if err := exportLedger(path, entries, sums, runs); err != nil {
				return err
			}
			_, _ = okColor.Fprintf(cmd.OutOrStdout(), "exported %d fixtures to %s\n", len(entries), path)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "xlsx", "ledger.xlsx", "Spreadsheet to write")
	cmd.Flags().StringVar(&runID, "run", "", "Only export fixtures of this run")

	return cmd
}

func newLedgerPruneCommand(cfg *config.Configuration) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete cleaned entries older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, err := openLedger(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.Fixtures().Prune(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			_, _ = okColor.Fprintf(cmd.OutOrStdout(), "pruned %d entries\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age of the cleaned entries to delete")

	return cmd
}

func printEntries(w io.Writer, entries []models.LedgerEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tRUN\tKIND\tPROJECT\tKEY\tCREATED\tSTATUS")
	for _, e := range entries {
		status := okColor.Sprint("cleaned")
		if e.Pending() {
			status = warnColor.Sprint("pending")
			if e.LastError != "" {
				status = failColor.Sprint("failed: " + e.LastError)
			}
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			e.ID, e.RunID, e.Fixture.Kind, e.Fixture.ProjectID, e.Fixture.Key, e.CreatedAt.Format(timeLayout), status)
	}
	return tw.Flush()
}

func printSummary(w io.Writer, sums []models.LedgerSummary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KIND\tTOTAL\tPENDING")
	for _, s := range sums {
		pending := okColor.Sprint(s.Pending)
		if s.Pending > 0 {
			pending = warnColor.Sprint(s.Pending)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Kind, s.Total, pending)
	}
	return tw.Flush()
}

// exportLedger writes one sheet of fixtures, one of per-kind counts and one
// of runs.
func exportLedger(path string, entries []models.LedgerEntry, sums []models.LedgerSummary, runs []models.Run) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", fixturesSheet); err != nil {
		return err
	}
	for _, sheet := range []string{summarySheet, runsSheet} {
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	fixtureRows := make([][]any, 0, len(entries))
	for _, e := range entries {
		fixtureRows = append(fixtureRows, []any{
			e.ID, e.RunID, string(e.Fixture.Kind), e.Fixture.ProjectID, e.Fixture.Key,
			e.CreatedAt.Format(timeLayout), formatTime(e.CleanedAt), e.LastError,
		})
	}
	if err := writeSheet(f, fixturesSheet, bold,
		[]any{"ID", "Run", "Kind", "Project", "Key", "Created", "Cleaned", "Last error"}, fixtureRows); err != nil {
		return err
	}

	summaryRows := make([][]any, 0, len(sums))
	for _, s := range sums {
		summaryRows = append(summaryRows, []any{string(s.Kind), s.Total, s.Pending})
	}
	if err := writeSheet(f, summarySheet, bold, []any{"Kind", "Total", "Pending"}, summaryRows); err != nil {
		return err
	}

	runRows := make([][]any, 0, len(runs))
	for _, r := range runs {
		runRows = append(runRows, []any{r.ID, r.GitLabURL, r.Project, r.StartedAt.Format(timeLayout), formatTime(r.FinishedAt)})
	}
	if err := writeSheet(f, runsSheet, bold, []any{"Run", "URL", "Project", "Started", "Finished"}, runRows); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, headerStyle int, header []any, rows [][]any) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	last, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", last, 22)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(timeLayout)
}
