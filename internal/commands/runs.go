package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finease/internal/runs"
)

func newRunsCommand(e *env) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List past analysis runs of the signed-in identity",
		Long: `Lists recorded analysis runs, newest first. Runs persist between
invocations only when FINEASE_RUNS_BACKEND=bigquery.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			id := a.Session.Current()
			if id == nil {
				return errNotSignedIn
			}

			list, err := a.Runs.ListRuns(cmd.Context(), runs.Filter{
				UserID: id.ID,
				Status: runs.Status(status),
				Limit:  limit,
			})
			if err != nil {
				return fmt.Errorf("listing runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTARTED\tINPUT\tSTATUS\tSCORE\tLEVEL")
			for _, r := range list {
				score := "-"
				if r.Score != nil {
					score = fmt.Sprintf("%d", *r.Score)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.RunID, r.StartedAt.Format(time.RFC3339), r.InputKind, r.Status, score, r.Level)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only runs with this status (running, completed, failed, discarded)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")

	return cmd
}
