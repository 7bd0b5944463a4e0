package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/riskmap-cli/internal/tiles"
)

var layersCmd = &cobra.Command{
	Use:   "layers [codes...]",
	Short: "List risk map layers and their tile grids",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		p, cleanup, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		summaries, err := p.Downloader().Describe(ctx, layerCodes(args))
		if err != nil {
			return eris.Wrap(err, "layers")
		}
		formatLayers(os.Stdout, summaries)
		return nil
	},
}

func formatLayers(out io.Writer, summaries []tiles.LayerSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CODE\tSUBJECT\tTILES\tERROR")
	for _, s := range summaries {
		tilesCol, errCol := "", ""
		if s.Err != nil {
			errCol = s.Err.Error()
		} else {
			tilesCol = fmt.Sprintf("%dx%d", s.TilesX, s.TilesY)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Code, s.Subject, tilesCol, errCol)
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(layersCmd)
}
