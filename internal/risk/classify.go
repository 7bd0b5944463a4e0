package risk

import (
	"context"
	"image"
	"image/color"
	"runtime"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/riskmap-cli/internal/raster"
)

// Option configures a Classifier.
type Option func(*Classifier)

// WithPalette overrides the default palette.
func WithPalette(p Palette) Option {
	return func(c *Classifier) {
		c.palette = p
	}
}

// WithChunks sets the number of chunks per image axis.
func WithChunks(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.chunks = n
		}
	}
}

// WithWorkers caps the number of chunks classified concurrently.
func WithWorkers(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.workers = n
		}
	}
}

// Classifier maps image pixels to the nearest palette level.
type Classifier struct {
	palette Palette
	chunks  int
	workers int
}

// NewClassifier creates a Classifier using the default palette and a 12x12
// chunk grid.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		palette: DefaultPalette(),
		chunks:  12,
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Palette returns the palette in use.
func (c *Classifier) Palette() Palette { return c.palette }

// Chunk is a rectangular block of the image, in image-relative pixels.
type Chunk struct {
	X0, Y0, X1, Y1 int
}

// Chunks partitions a width x height image into blocks of max(dim/n, 1)
// pixels per side. Trailing blocks may be smaller.
func Chunks(width, height, n int) []Chunk {
	if width <= 0 || height <= 0 {
		return nil
	}
	cw := max(width/n, 1)
	ch := max(height/n, 1)
	var out []Chunk
	for y := 0; y < height; y += ch {
		for x := 0; x < width; x += cw {
			out = append(out, Chunk{X0: x, Y0: y, X1: min(x+cw, width), Y1: min(y+ch, height)})
		}
	}
	return out
}

// Classify converts img into a risk grid georeferenced by t. Fully
// transparent pixels, and pixels nearest the no-data color, are masked.
func (c *Classifier) Classify(ctx context.Context, img image.Image, t raster.Transform) (*raster.Grid, error) {
	if len(c.palette) == 0 {
		return nil, eris.New("risk: empty palette")
	}

	b := img.Bounds()
	grid := raster.NewGrid(b.Dx(), b.Dy(), t)
	chunks := Chunks(b.Dx(), b.Dy(), c.chunks)

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.workers)

	for _, ch := range chunks {
		eg.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			c.classifyChunk(img, grid, ch)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, eris.Wrap(err, "risk: classify")
	}

	zap.L().Debug("risk: classified image",
		zap.Int("width", grid.Width),
		zap.Int("height", grid.Height),
		zap.Int("chunks", len(chunks)),
		zap.Int("valid", grid.Valid()),
	)
	return grid, nil
}

// classifyChunk writes the rows and columns of ch only, so chunks never share
// output cells.
func (c *Classifier) classifyChunk(img image.Image, grid *raster.Grid, ch Chunk) {
	b := img.Bounds()
	memo := make(map[uint32]Level, 32)

	lookup := func(r, g, bl uint8) Level {
		key := uint32(r)<<16 | uint32(g)<<8 | uint32(bl)
		if l, ok := memo[key]; ok {
			return l
		}
		l := c.palette.Nearest(float64(r)/255, float64(g)/255, float64(bl)/255)
		memo[key] = l
		return l
	}

	nrgba, fast := img.(*image.NRGBA)
	for y := ch.Y0; y < ch.Y1; y++ {
		row := grid.Pix[y*grid.Width : (y+1)*grid.Width]
		for x := ch.X0; x < ch.X1; x++ {
			var px color.NRGBA
			if fast {
				i := nrgba.PixOffset(b.Min.X+x, b.Min.Y+y)
				px = color.NRGBA{R: nrgba.Pix[i], G: nrgba.Pix[i+1], B: nrgba.Pix[i+2], A: nrgba.Pix[i+3]}
			} else {
				px = color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			}
			if px.A == 0 {
				row[x] = raster.NoData
				continue
			}
			row[x] = uint8(lookup(px.R, px.G, px.B))
		}
	}
}
