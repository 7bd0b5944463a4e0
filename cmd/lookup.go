package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/riskmap-cli/pkg/geocode"
)

var (
	lookupFile   string
	lookupOut    string
	lookupLayers []string
)

var lookupCmd = &cobra.Command{
	Use:   "lookup [addresses...]",
	Short: "Report the risk level at street addresses",
	Long:  "Geocodes each address with Nominatim and samples every classified risk layer at its location.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		addresses := args
		if lookupFile != "" {
			f, err := os.Open(lookupFile)
			if err != nil {
				return eris.Wrapf(err, "open %s", lookupFile)
			}
			fromFile, err := readAddresses(f)
			_ = f.Close()
			if err != nil {
				return err
			}
			addresses = append(addresses, fromFile...)
		}
		if len(addresses) == 0 {
			return eris.New("no addresses given")
		}

		dirs, err := layerDirs(lookupLayers)
		if err != nil {
			return err
		}
		p, cleanup, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		opts := []geocode.Option{
			geocode.WithBaseURL(cfg.Geocode.BaseURL),
			geocode.WithUserAgent(cfg.Geocode.UserAgent),
			geocode.WithRateLimit(cfg.Geocode.RateLimit),
		}
		if cfg.Geocode.TimeoutSecs > 0 {
			opts = append(opts, geocode.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Geocode.TimeoutSecs) * time.Second,
			}))
		}

		svc, err := p.NewLookup(geocode.NewClient(opts...), dirs)
		if err != nil {
			return err
		}
		rows, err := svc.Lookup(ctx, addresses)
		if err != nil {
			return err
		}

		out, err := createOutput(lookupOut)
		if err != nil {
			return err
		}
		if err := svc.WriteCSV(out, rows); err != nil {
			_ = out.Close()
			return err
		}
		return out.Close()
	},
}

func init() {
	lookupCmd.Flags().StringVar(&lookupFile, "file", "", "file with one address per line")
	lookupCmd.Flags().StringVar(&lookupOut, "out", "", "output CSV path (default stdout)")
	lookupCmd.Flags().StringSliceVar(&lookupLayers, "layer", nil, "layer directories to sample (default: all under output.dir)")
	rootCmd.AddCommand(lookupCmd)
}
