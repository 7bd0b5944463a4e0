package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/riskmap-cli/internal/pipeline"
	"github.com/sells-group/riskmap-cli/internal/store"
)

// initPipeline opens the configured store and builds a pipeline. The
// returned cleanup closes the store.
func initPipeline(ctx context.Context) (*pipeline.Pipeline, func(), error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, nil, eris.Wrap(err, "open store")
	}
	cleanup := func() {
		if st != nil {
			_ = st.Close()
		}
	}
	return pipeline.New(cfg, st), cleanup, nil
}

// layerDirs returns args when given, otherwise every layer directory under
// the output directory.
func layerDirs(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	dirs, err := pipeline.Discover(cfg.Output.Dir)
	if err != nil {
		return nil, err
	}
	if len(dirs) == 0 {
		return nil, eris.Errorf("no layers found under %s; run download first", cfg.Output.Dir)
	}
	return dirs, nil
}

// layerCodes returns args when given, otherwise the configured layers.
func layerCodes(args []string) []string {
	if len(args) > 0 {
		return args
	}
	return cfg.Layers
}

// readAddresses reads one address per line, skipping blanks and # comments.
func readAddresses(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, eris.Wrap(sc.Err(), "read addresses")
}

// createOutput opens path for writing, or returns stdout for "" and "-".
func createOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrapf(err, "create %s", path)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
