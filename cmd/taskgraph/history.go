package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/taskgraph/internal/config"
	"github.com/aristath/taskgraph/internal/journal"
)

var (
	historyLimit int
	historyRun   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List journaled runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to list (0 for all)")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "Show the tasks of this run")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadDefault()
	if err != nil {
		return err
	}
	path, err := cfg.JournalPath()
	if err != nil {
		return err
	}

	store, err := journal.NewSQLiteStore(cmd.Context(), path)
	if err != nil {
		return err
	}
	defer store.Close()

	if historyRun != "" {
		return printTaskRuns(cmd, store, historyRun)
	}
	return printRuns(cmd, store, historyLimit)
}

func printRuns(cmd *cobra.Command, store journal.Store, limit int) error {
	runs, err := store.Runs(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no runs journaled yet")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tPIPELINE\tSTATUS\tTASKS\tFAILED\tSTARTED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.Pipeline, r.Status, r.Total, r.Failed, since(r.StartedAt), span(r.StartedAt, r.FinishedAt))
	}
	return tw.Flush()
}

func printTaskRuns(cmd *cobra.Command, store journal.Store, runID string) error {
	tasks, err := store.TaskRuns(cmd.Context(), runID)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return fmt.Errorf("run %s has no journaled tasks", runID)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTATUS\tSTARTED\tDURATION\tDETAIL")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			t.Task, t.Status, since(t.StartedAt), span(t.StartedAt, t.FinishedAt), taskDetail(t))
	}
	return tw.Flush()
}

func taskDetail(t journal.TaskRun) string {
	switch {
	case t.Origin != "" && t.Origin != t.Task:
		return "skipped: " + t.Origin + " failed"
	case t.Error != "":
		return firstLine(t.Error)
	default:
		return firstLine(t.Result)
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i] + " ..."
		}
	}
	return s
}

// span renders the duration between two instants, "-" while unfinished.
func span(start, end time.Time) string {
	if start.IsZero() || end.IsZero() {
		return "-"
	}
	return end.Sub(start).Round(time.Millisecond).String()
}

