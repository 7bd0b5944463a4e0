package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [layer-dirs...]",
	Short: "Classify stitched maps into risk rasters",
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

		return p.Track(ctx, "classify", dirs, func(ctx context.Context) error {
			return p.Classify(ctx, dirs)
		})
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}
