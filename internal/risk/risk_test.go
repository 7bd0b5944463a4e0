package risk

import (
	"context"
	"image"
	"image/color"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskmap-cli/internal/raster"
)

func TestParseHex(t *testing.T) {
	r, g, b, err := ParseHex("#FF8000")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r, 1e-9)
	assert.InDelta(t, 128.0/255, g, 1e-9)
	assert.InDelta(t, 0.0, b, 1e-9)

	_, _, _, err = ParseHex("B3B3B3")
	assert.NoError(t, err)

	for _, bad := range []string{"", "#FFF", "#GGGGGG", "#1234567"} {
		_, _, _, err := ParseHex(bad)
		assert.Error(t, err, bad)
	}
}

func TestDefaultPalette(t *testing.T) {
	p := DefaultPalette()
	require.Len(t, p, 11)
	assert.Equal(t, NoData, p[0].Level)
	for i := 1; i < len(p); i++ {
		assert.Equal(t, Level(i), p[i].Level)
	}
	assert.Equal(t, color.RGBA{R: 0xD4, G: 0x2C, B: 0x1F, A: 0xff}, p[10].RGBA())
}

func TestPalette_NearestExactColors(t *testing.T) {
	p := DefaultPalette()
	for _, e := range p {
		assert.Equal(t, e.Level, p.Nearest(e.R, e.G, e.B), e.Hex)
	}
}

func TestPalette_NearestTieTakesFirst(t *testing.T) {
	p := Palette{
		{Level: 3, R: 0, G: 0, B: 0},
		{Level: 7, R: 1, G: 0, B: 0},
	}
	assert.Equal(t, Level(3), p.Nearest(0.5, 0, 0))
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "nodata", NoData.String())
	assert.Equal(t, "7", Level(7).String())
}

func paletteImage(p Palette, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA(p[(x+y)%len(p)].RGBA()))
		}
	}
	return img
}

func TestClassify_PaletteColors(t *testing.T) {
	p := DefaultPalette()
	img := paletteImage(p, 23, 17)

	g, err := NewClassifier().Classify(context.Background(), img, raster.NewNorthUp(0, 0, 1))
	require.NoError(t, err)
	require.Equal(t, 23, g.Width)
	require.Equal(t, 17, g.Height)

	for y := 0; y < 17; y++ {
		for x := 0; x < 23; x++ {
			want := uint8(p[(x+y)%len(p)].Level)
			v, _ := g.At(x, y)
			assert.Equal(t, want, v, "pixel %d,%d", x, y)
		}
	}
}

func TestClassify_TransparentIsMasked(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 40, 30))

	g, err := NewClassifier().Classify(context.Background(), img, raster.NewNorthUp(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, g.Valid())
}

func TestClassify_TransparentIgnoresColor(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 0xD4, G: 0x2C, B: 0x1F, A: 0})
	img.SetNRGBA(1, 0, color.NRGBA{R: 0xD4, G: 0x2C, B: 0x1F, A: 0xff})

	g, err := NewClassifier().Classify(context.Background(), img, raster.NewNorthUp(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 10}, g.Pix)
}

func TestClassify_ChunkInvariant(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	img := image.NewNRGBA(image.Rect(0, 0, 97, 61))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.IntN(256))
	}

	ctx := context.Background()
	tr := raster.NewNorthUp(0, 0, 1)

	base, err := NewClassifier(WithChunks(1)).Classify(ctx, img, tr)
	require.NoError(t, err)

	for _, n := range []int{2, 5, 12, 200} {
		g, err := NewClassifier(WithChunks(n), WithWorkers(3)).Classify(ctx, img, tr)
		require.NoError(t, err)
		assert.Equal(t, base.Pix, g.Pix, "chunks=%d", n)
	}

	again, err := NewClassifier(WithChunks(1)).Classify(ctx, img, tr)
	require.NoError(t, err)
	assert.Equal(t, base.Pix, again.Pix)
}

func TestClassify_GenericImageMatchesNRGBA(t *testing.T) {
	p := DefaultPalette()
	src := paletteImage(p, 15, 9)

	rgba := image.NewRGBA(src.Bounds())
	for y := 0; y < 9; y++ {
		for x := 0; x < 15; x++ {
			rgba.Set(x, y, src.At(x, y))
		}
	}

	ctx := context.Background()
	tr := raster.NewNorthUp(0, 0, 1)
	a, err := NewClassifier().Classify(ctx, src, tr)
	require.NoError(t, err)
	b, err := NewClassifier().Classify(ctx, rgba, tr)
	require.NoError(t, err)
	assert.Equal(t, a.Pix, b.Pix)
}

func TestClassify_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClassifier().Classify(ctx, image.NewNRGBA(image.Rect(0, 0, 50, 50)), raster.NewNorthUp(0, 0, 1))
	assert.Error(t, err)
}

func TestClassify_EmptyPalette(t *testing.T) {
	_, err := NewClassifier(WithPalette(Palette{})).Classify(context.Background(), image.NewNRGBA(image.Rect(0, 0, 1, 1)), raster.Transform{})
	assert.ErrorContains(t, err, "empty palette")
}

func TestChunks(t *testing.T) {
	c := Chunks(25, 12, 12)
	// 25/12 = 2 px wide -> 13 columns; 12/12 = 1 px tall -> 12 rows.
	assert.Len(t, c, 13*12)
	assert.Equal(t, Chunk{X0: 24, Y0: 0, X1: 25, Y1: 1}, c[12])

	assert.Len(t, Chunks(5, 5, 12), 25)
	assert.Nil(t, Chunks(0, 5, 12))
}

func TestWritePreview(t *testing.T) {
	g := raster.NewGrid(4, 2, raster.NewNorthUp(0, 0, 1))
	copy(g.Pix, []uint8{0, 1, 5, 10, 10, 5, 1, 0})

	img := Render(g, DefaultPalette(), "test")
	assert.Equal(t, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 0xD4, G: 0x2C, B: 0x1F, A: 0xff}, img.RGBAAt(3, 0))
	assert.Equal(t, 2+legendHeight, img.Bounds().Dy())

	path := filepath.Join(t.TempDir(), "preview.png")
	require.NoError(t, WritePreview(path, g, DefaultPalette(), "test"))
	assert.FileExists(t, path)
}
