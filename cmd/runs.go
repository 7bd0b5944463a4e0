package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/riskmap-cli/internal/model"
	"github.com/sells-group/riskmap-cli/internal/report"
	"github.com/sells-group/riskmap-cli/internal/store"
)

var runsShowJSON bool

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded runs and saved statistics",
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a recorded run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		if runsShowJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		}
		formatRun(os.Stdout, run)
		if run.Error != "" {
			fmt.Fprintf(os.Stdout, "\nError: %s\n", run.Error)
		}
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats [risk-type]",
	Short: "Print saved statistics as CSV",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		riskType := ""
		if len(args) == 1 {
			riskType = args[0]
		}
		recs, err := st.ListStats(ctx, riskType)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No statistics found.")
			return nil
		}
		return report.Encode(os.Stdout, recs, true)
	},
}

func openStore(cmd *cobra.Command) (store.Store, error) {
	st, err := store.Open(cmd.Context(), cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if st == nil {
		return nil, eris.New("no store configured (set store.driver)")
	}
	return st, nil
}

func formatRun(out io.Writer, r *model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCOMMAND\tSTATUS\tLAYERS\tCREATED\tDURATION")
	duration := "-"
	if r.CompletedAt != nil {
		duration = r.CompletedAt.Sub(r.CreatedAt).Round(time.Millisecond).String()
	}
	_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
		r.ID, r.Command, r.Status, len(r.Layers), r.CreatedAt.Format("2006-01-02 15:04:05"), duration)
	_ = w.Flush()
}

func init() {
	runsShowCmd.Flags().BoolVar(&runsShowJSON, "json", false, "print the run as JSON")
	runsCmd.AddCommand(runsShowCmd, runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}
