package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/artifact"
	"github.com/sells-group/intel-cli/internal/collector"
	"github.com/sells-group/intel-cli/internal/ledger"
	"github.com/sells-group/intel-cli/internal/model"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run enabled collectors and record observations",
	Long:  "Creates a run, executes the enabled collectors, and records one observation per entity. The run finishes as completed, partial, or failed depending on how much of the collection succeeded.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		only, _ := cmd.Flags().GetStringSlice("only")
		concurrent, _ := cmd.Flags().GetBool("concurrent")
		notes, _ := cmd.Flags().GetString("notes")

		if err := cfg.Validate(); err != nil {
			return err
		}

		lg, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer lg.Close() //nolint:errcheck
		if err := lg.Migrate(ctx); err != nil {
			return err
		}

		run, err := lg.CreateRun(ctx, notes)
		if err != nil {
			return eris.Wrap(err, "collect: create run")
		}

		fmt.Printf("Run ID: %d\n", run.ID)
		fmt.Printf("Started: %s\n\n", run.StartedAt.Format("2006-01-02 15:04:05 UTC"))

		runner := collector.NewRunner(cfg, lg, artifact.NewStore(cfg.Artifacts.Root))
		collectors, err := runner.Collectors(run, only)
		if err != nil {
			return err
		}

		names := make([]string, len(collectors))
		for i, c := range collectors {
			names[i] = c.Name()
		}
		fmt.Printf("Collectors: %s\n\n", strings.Join(names, ", "))

		totals, execErr := runner.Execute(ctx, collectors, concurrent)
		if execErr != nil {
			// An aborted run keeps its in-progress status so it can be
			// distinguished from runs that ran to a verdict.
			zap.L().Error("collection aborted", zap.Int64("run_id", run.ID), zap.Error(execErr))
			return execErr
		}

		finished := time.Now().UTC()
		run.FinishedAt = &finished
		run.Status = model.ClassifyOutcome(totals.Observations, totals.Errors)
		if err := lg.UpdateRun(ctx, run); err != nil {
			return eris.Wrap(err, "collect: update run")
		}

		printCollectSummary(run, collectors, totals)
		printLedgerStats(cmd, lg, run.ID)

		zap.L().Info("collection run finished",
			zap.Int64("run_id", run.ID),
			zap.String("status", string(run.Status)),
			zap.Int("observations", totals.Observations),
			zap.Int("errors", totals.Errors))

		return nil
	},
}

func printCollectSummary(run *model.Run, collectors []collector.Collector, totals *collector.Totals) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, c := range collectors {
		res := totals.PerCollector[c.Name()]
		fmt.Fprintf(w, "%s:\t%d observations\t%d errors\n", c.Name(), res.Observations, res.Errors)
	}
	fmt.Fprintf(w, "total:\t%d observations\t%d errors\n", totals.Observations, totals.Errors)
	_ = w.Flush()

	duration := run.FinishedAt.Sub(run.StartedAt)
	fmt.Printf("\nStatus: %s\n", run.Status)
	fmt.Printf("Duration: %.1fs\n", duration.Seconds())
}

func printLedgerStats(cmd *cobra.Command, lg ledger.Ledger, runID int64) {
	stats, err := lg.GetRunStats(cmd.Context(), runID)
	if err != nil {
		zap.L().Warn("run stats unavailable", zap.Int64("run_id", runID), zap.Error(err))
		return
	}
	fmt.Printf("Ledger: %d successful, %d errors, %d sources\n",
		stats.Successful, stats.Errors, stats.DistinctSources)
}

func init() {
	collectCmd.Flags().StringSlice("only", nil, "run only the named collectors (web, jobs, ads, email)")
	collectCmd.Flags().Bool("concurrent", false, "run collectors concurrently")
	collectCmd.Flags().String("notes", "", "free-form note stored on the run")
	rootCmd.AddCommand(collectCmd)
}
