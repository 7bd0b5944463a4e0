package main

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/riskmap-cli/internal/pipeline"
)

var (
	previewCountry string
	previewOut     string
)

var previewCmd = &cobra.Command{
	Use:   "preview <layer-dir>",
	Short: "Render a risk raster as a colored PNG",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		out := previewOut
		if out == "" {
			out = previewPath(dir, previewCountry)
		}

		p, cleanup, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if err := p.Preview(dir, previewCountry, out); err != nil {
			return err
		}
		zap.L().Info("preview written", zap.String("path", out))
		return nil
	},
}

// previewPath is the default output: preview.png for the whole layer,
// preview_<country>.png when clipped.
func previewPath(dir, country string) string {
	if country == "" {
		return filepath.Join(dir, pipeline.PreviewFile)
	}
	name := strings.ToLower(strings.Join(strings.Fields(country), "_"))
	return filepath.Join(dir, "preview_"+name+".png")
}

func init() {
	previewCmd.Flags().StringVar(&previewCountry, "country", "", "clip to a country (ADMIN name or SOV_A3)")
	previewCmd.Flags().StringVar(&previewOut, "out", "", "output PNG path")
	rootCmd.AddCommand(previewCmd)
}
