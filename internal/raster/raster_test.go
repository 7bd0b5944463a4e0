package raster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransform_IndexAndCenter(t *testing.T) {
	tr := NewNorthUp(-100, 100, 10)

	x, y := tr.Center(0, 0)
	assert.InDelta(t, -95, x, 1e-9)
	assert.InDelta(t, 95, y, 1e-9)

	row, col, err := tr.Index(-95, 95)
	require.NoError(t, err)
	assert.Equal(t, 0, row)
	assert.Equal(t, 0, col)

	row, col, err = tr.Index(5, -5)
	require.NoError(t, err)
	assert.Equal(t, 10, row)
	assert.Equal(t, 10, col)

	row, col, err = tr.Index(-101, 101)
	require.NoError(t, err)
	assert.Equal(t, -1, row)
	assert.Equal(t, -1, col)
}

func TestTransform_NotInvertible(t *testing.T) {
	_, err := Transform{}.Invert()
	assert.Error(t, err)
}

func TestTransform_Shift(t *testing.T) {
	tr := NewNorthUp(0, 0, 2)
	s := tr.Shift(3, 4)
	assert.InDelta(t, 6, s.C, 1e-9)
	assert.InDelta(t, -8, s.F, 1e-9)
	assert.Equal(t, tr.A, s.A)
	assert.Equal(t, tr.E, s.E)
}

func TestWorldFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "map.pgw")
	tr := NewNorthUp(-20037508.342789244, 20037508.342789244, 4891.96981025128)

	require.NoError(t, WriteWorldFile(path, tr))

	got, err := ReadWorldFile(path)
	require.NoError(t, err)
	assert.InDelta(t, tr.A, got.A, 1e-9)
	assert.InDelta(t, tr.E, got.E, 1e-9)
	assert.InDelta(t, tr.C, got.C, 1e-6)
	assert.InDelta(t, tr.F, got.F, 1e-6)
}

func TestWorldFileText_PixelCentre(t *testing.T) {
	text := WorldFileText(NewNorthUp(-100, 100, 10))
	assert.Equal(t, "10\n0\n0\n-10\n-95\n95\n", text)
}

func TestReadWorldFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadWorldFile(filepath.Join(dir, "missing.pgw"))
	assert.Error(t, err)

	short := filepath.Join(dir, "short.pgw")
	require.NoError(t, os.WriteFile(short, []byte("1\n0\n0\n-1\n"), 0o644))
	_, err = ReadWorldFile(short)
	assert.ErrorContains(t, err, "want 6")

	bad := filepath.Join(dir, "bad.pgw")
	require.NoError(t, os.WriteFile(bad, []byte("1\n0\n0\n-1\nabc\n0\n"), 0o644))
	_, err = ReadWorldFile(bad)
	assert.Error(t, err)
}

func TestWorldFilePath(t *testing.T) {
	assert.Equal(t, "dir/map.pgw", WorldFilePath("dir/map.png"))
	assert.Equal(t, "risk_map.tfw", WorldFilePath("risk_map.tif"))
	assert.Equal(t, "risk_map.tfw", WorldFilePath("risk_map.tiff"))
	assert.Equal(t, "image.jgw", WorldFilePath("image.jpg"))
}

func TestGrid_AtSetSample(t *testing.T) {
	g := NewGrid(4, 3, NewNorthUp(0, 30, 10))
	g.Set(2, 1, 7)
	g.Set(9, 9, 1) // ignored

	v, ok := g.At(2, 1)
	assert.True(t, ok)
	assert.Equal(t, uint8(7), v)

	_, ok = g.At(4, 0)
	assert.False(t, ok)

	v, ok, err := g.Sample(25, 15)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint8(7), v)

	_, ok, err = g.Sample(-5, 15)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, g.Valid())
}

func TestGrid_WindowAndCrop(t *testing.T) {
	g := NewGrid(10, 10, NewNorthUp(0, 100, 10))
	for i := range g.Pix {
		g.Pix[i] = uint8(i % 10)
	}

	w, err := g.WindowForBounds(21, 41, 49, 79)
	require.NoError(t, err)
	assert.Equal(t, Window{Col: 2, Row: 2, Width: 3, Height: 4}, w)

	c := g.Crop(w)
	assert.Equal(t, 3, c.Width)
	assert.Equal(t, 4, c.Height)
	assert.Equal(t, []uint8{2, 3, 4}, c.Pix[:3])
	assert.InDelta(t, 20, c.Transform.C, 1e-9)
	assert.InDelta(t, 80, c.Transform.F, 1e-9)

	// Entirely outside the raster.
	w, err = g.WindowForBounds(500, 500, 600, 600)
	require.NoError(t, err)
	assert.True(t, w.Empty())
	assert.Equal(t, 0, g.Crop(w).Width)
}

func TestTIFF_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "risk_map.tif")

	g := NewGrid(5, 4, NewNorthUp(-50, 40, 10))
	for i := range g.Pix {
		g.Pix[i] = uint8(i % 11)
	}

	require.NoError(t, WriteTIFF(path, g))
	assert.FileExists(t, filepath.Join(dir, "risk_map.tfw"))

	got, err := ReadTIFF(path)
	require.NoError(t, err)
	assert.Equal(t, g.Width, got.Width)
	assert.Equal(t, g.Height, got.Height)
	assert.Equal(t, g.Pix, got.Pix)
	assert.InDelta(t, g.Transform.C, got.Transform.C, 1e-9)
	assert.InDelta(t, g.Transform.F, got.Transform.F, 1e-9)
}
