package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats [layer-dirs...]",
	Short: "Compute per-country risk statistics",
	Long:  "Aggregates each classified risk raster over the country boundaries and writes stats_by_country.csv per layer.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dirs, err := layerDirs(args)
		if err != nil {
			return err
		}
		p, cleanup, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		return p.Track(ctx, "stats", dirs, func(ctx context.Context) error {
			_, err := p.Aggregate(ctx, dirs)
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
