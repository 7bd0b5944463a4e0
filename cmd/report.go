package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var reportOut string

var reportCmd = &cobra.Command{
	Use:   "report [layer-dirs...]",
	Short: "Combine per-layer statistics into the country report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if reportOut != "" {
			cfg.Output.Report = reportOut
		}
		dirs, err := layerDirs(args)
		if err != nil {
			return err
		}
		p, cleanup, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		return p.Track(ctx, "report", dirs, func(ctx context.Context) error {
			return p.Report(ctx, dirs)
		})
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportOut, "out", "", "report file name under output.dir (overrides output.report)")
	rootCmd.AddCommand(reportCmd)
}
