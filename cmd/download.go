package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var downloadZoom int

var downloadCmd = &cobra.Command{
	Use:   "download [codes...]",
	Short: "Download and stitch risk map tiles",
	Long:  "Fetches every tile of each layer at the configured zoom and writes map.png, map.pgw and layer.yaml per layer.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("zoom") {
			cfg.Tiles.Zoom = downloadZoom
		}

		p, cleanup, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		codes := layerCodes(args)
		return p.Track(ctx, "download", codes, func(ctx context.Context) error {
			dirs, err := p.Download(ctx, codes)
			if err != nil {
				return err
			}
			zap.L().Info("download complete", zap.Strings("dirs", dirs))
			return nil
		})
	},
}

func init() {
	downloadCmd.Flags().IntVar(&downloadZoom, "zoom", 5, "tile zoom level (overrides tiles.zoom)")
	rootCmd.AddCommand(downloadCmd)
}
