package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fusionctl/fusionctl/pkg/stores"
)

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	var (
		limit int
		prune time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded configure runs",
		Long: `List recorded configure runs, newest first, or show the changes of one
run. Runs are recorded when a history database is configured through
--history-db or FUSION_HISTORY_DB.`,
		Example: `  # Recent runs
  fusionctl history --history-db ~/.fusionctl/history.db

  # Changes of one run
  fusionctl history 0b9f3c1e-5d7a-4a8e-9d39-0f1f8d0c2a11

  # Forget runs older than 30 days
  fusionctl history --prune 720h`,
		Args: maxArgs(1, "Name at most one run."),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			store, err := a.history(ctx)
			if err != nil {
				return err
			}
			if store == nil {
				return usageError("no history database configured; set --history-db or FUSION_HISTORY_DB")
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if prune > 0 {
				n, err := store.DeleteRunsBefore(ctx, time.Now().Add(-prune))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %d run(s).\n", n)
				return nil
			}

			if len(args) == 1 {
				run, err := store.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				if a.json {
					return printJSON(out, run)
				}
				return printRun(out, run)
			}

			runs, err := store.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}
			if a.json {
				return printJSON(out, runs)
			}
			return printRuns(out, runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list (0 for all)")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete runs older than this duration")

	return cmd
}

func printRuns(w io.Writer, runs []*stores.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tOPERATION\tMODE\tOUTCOME\tSOURCE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Operation, r.Mode, r.Outcome, r.Source)
	}
	return tw.Flush()
}

func printRun(w io.Writer, run *stores.Run) error {
	fmt.Fprintf(w, "Run:       %s\n", run.ID)
	fmt.Fprintf(w, "Operation: %s (%s)\n", run.Operation, run.Mode)
	fmt.Fprintf(w, "Source:    %s\n", run.Source)
	fmt.Fprintf(w, "Started:   %s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "Duration:  %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(w, "Outcome:   %s\n", run.Outcome)
	if run.TraceID != "" {
		fmt.Fprintf(w, "Trace:     %s\n", run.TraceID)
	}
	if run.Failed() {
		fmt.Fprintf(w, "Error:     %s\n", *run.Error)
	}
	if len(run.Changes) == 0 {
		fmt.Fprintln(w, "\nNo changes.")
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tKIND\tSCOPE\tIDENTITY\tAPPLIED")
	for _, c := range run.Changes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", c.Action, c.Kind, c.Scope, c.Identity, c.Applied)
	}
	return tw.Flush()
}
