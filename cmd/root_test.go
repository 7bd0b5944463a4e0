package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskmap-cli/internal/config"
	"github.com/sells-group/riskmap-cli/internal/model"
	"github.com/sells-group/riskmap-cli/internal/tiles"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"layers", "download", "classify", "stats", "report", "run", "lookup", "preview", "runs"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "riskmap-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestCommand_Flags(t *testing.T) {
	flag := downloadCmd.Flags().Lookup("zoom")
	require.NotNil(t, flag, "download should have --zoom flag")
	assert.Equal(t, "5", flag.DefValue)

	for _, name := range []string{"file", "out", "layer"} {
		assert.NotNil(t, lookupCmd.Flags().Lookup(name), "lookup should have --%s flag", name)
	}
	for _, name := range []string{"country", "out"} {
		assert.NotNil(t, previewCmd.Flags().Lookup(name), "preview should have --%s flag", name)
	}
	assert.NotNil(t, reportCmd.Flags().Lookup("out"))
	assert.NotNil(t, runsShowCmd.Flags().Lookup("json"))
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["show"])
	assert.True(t, names["stats"])
}

func TestReadAddresses(t *testing.T) {
	in := "10 Downing St, London\n\n  # comment\n  1600 Pennsylvania Ave NW, Washington  \n"
	got, err := readAddresses(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"10 Downing St, London", "1600 Pennsylvania Ave NW, Washington"}, got)
}

func TestLayerCodesAndDirs(t *testing.T) {
	cfg = &config.Config{
		Layers: []string{"A", "B"},
		Output: config.OutputConfig{Dir: t.TempDir()},
	}
	t.Cleanup(func() { cfg = nil })

	assert.Equal(t, []string{"A", "B"}, layerCodes(nil))
	assert.Equal(t, []string{"C"}, layerCodes([]string{"C"}))

	dirs, err := layerDirs([]string{"x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, dirs)

	_, err = layerDirs(nil)
	assert.ErrorContains(t, err, "no layers found")
}

func TestPreviewPath(t *testing.T) {
	assert.Equal(t, filepath.Join("d", "preview.png"), previewPath("d", ""))
	assert.Equal(t, filepath.Join("d", "preview_south_africa.png"), previewPath("d", "South  Africa"))
}

func TestFormatLayers(t *testing.T) {
	var buf bytes.Buffer
	formatLayers(&buf, []tiles.LayerSummary{
		{Code: "FL", Subject: "River Flood", TilesX: 32, TilesY: 32},
		{Code: "XX", Err: errors.New("http 500")},
	})
	out := buf.String()
	assert.Contains(t, out, "CODE")
	assert.Contains(t, out, "River Flood")
	assert.Contains(t, out, "32x32")
	assert.Contains(t, out, "http 500")
}

func TestFormatRun(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	done := created.Add(90 * time.Second)
	var buf bytes.Buffer
	formatRun(&buf, &model.Run{
		ID: "run-1", Command: "run", Layers: []string{"A", "B"},
		Status: model.RunStatusComplete, CreatedAt: created, CompletedAt: &done,
	})
	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "2026-03-01 12:00:00")
	assert.Contains(t, out, "1m30s")
}

func TestCreateOutput(t *testing.T) {
	w, err := createOutput("")
	require.NoError(t, err)
	assert.NoError(t, w.Close())

	path := filepath.Join(t.TempDir(), "out.csv")
	w, err = createOutput(path)
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.FileExists(t, path)
}
