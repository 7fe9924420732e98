package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finease/internal/aggregate"
	"github.com/dvloznov/finease/internal/analysis"
	"github.com/dvloznov/finease/internal/app"
	"github.com/dvloznov/finease/internal/input"
	"github.com/dvloznov/finease/internal/workflow"
)

type analyzeOptions struct {
	file   string
	text   string
	gcsURI string
}

func newAnalyzeCommand(e *env) *cobra.Command {
	var opts analyzeOptions

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Assess spending behaviour from a statement file or pasted text",
		Long: `Runs one assessment and prints the score, observations, recommendations and
a daily spending table. Exactly one of --file, --text or --gcs-uri is required.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			return runAnalyze(cmd, a, opts)
		},
	}

	cmd.Flags().StringVar(&opts.file, "file", "", "statement file (CSV, TXT, JSON, PDF or image)")
	cmd.Flags().StringVar(&opts.text, "text", "", "transaction data as text")
	cmd.Flags().StringVar(&opts.gcsURI, "gcs-uri", "", "statement stored at gs://bucket/object")
	cmd.MarkFlagsMutuallyExclusive("file", "text", "gcs-uri")
	cmd.MarkFlagsOneRequired("file", "text", "gcs-uri")

	return cmd
}

func runAnalyze(cmd *cobra.Command, a *app.App, opts analyzeOptions) error {
	ctx := cmd.Context()

	if a.Session.Current() == nil {
		return errNotSignedIn
	}

	req, err := readInput(cmd, a, opts)
	if err != nil {
		return err
	}

	runID, err := a.Workflow.Submit(ctx, req)
	if err != nil {
		return fmt.Errorf("submitting analysis: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Analyzing (run %s)...\n", runID)

	a.Workflow.Wait()

	state := a.Workflow.State()
	switch state.Phase {
	case workflow.PhaseComplete:
		printResult(cmd.OutOrStdout(), state.Result)
		return nil
	case workflow.PhaseError:
		return errors.New(state.Message)
	default:
		return fmt.Errorf("analysis ended in unexpected state %q", state.Phase)
	}
}

func readInput(cmd *cobra.Command, a *app.App, opts analyzeOptions) (input.Request, error) {
	sel := input.NewSelection(a.Normalizer)

	switch {
	case opts.file != "":
		data, err := os.ReadFile(opts.file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", opts.file, err)
		}
		if err := sel.SelectFile(filepath.Base(opts.file), "", data); err != nil {
			return nil, err
		}
	case opts.gcsURI != "":
		if a.Fetcher == nil {
			return nil, errors.New("gs:// input is disabled: set FINEASE_GCS_INPUT=true")
		}
		obj, err := a.Fetcher.FetchFromGCS(cmd.Context(), opts.gcsURI)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", opts.gcsURI, err)
		}
		if err := sel.SelectFile(obj.Name, obj.ContentType, obj.Data); err != nil {
			return nil, err
		}
	default:
		if err := sel.SetText(opts.text); err != nil {
			return nil, err
		}
	}

	return sel.Request()
}

func printResult(out io.Writer, r *analysis.Result) {
	fmt.Fprintf(out, "Score: %d (%s)\n", r.Score, r.Level)

	printList(out, "Observations", r.Observations)
	if r.RecentChanges != "" {
		fmt.Fprintf(out, "\nRecent changes:\n  %s\n", r.RecentChanges)
	}
	if r.Importance != "" {
		fmt.Fprintf(out, "\nWhy it matters:\n  %s\n", r.Importance)
	}
	printList(out, "Recommendations", r.Recommendations)
	printList(out, "Warnings", r.Warnings)

	days := aggregate.Daily(r.Transactions)
	if len(days) == 0 {
		return
	}

	fmt.Fprintln(out, "\nDaily spending:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "DATE\tTOTAL\tESSENTIAL\tDISCRETIONARY\t")
	for _, d := range days {
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t\n", d.Date, d.Total, d.Essential, d.Discretionary)
	}
	w.Flush()
}

func printList(out io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(out, "  - %s\n", strings.TrimSpace(item))
	}
}
