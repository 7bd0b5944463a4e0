package raster

import (
	"image"
	"image/draw"
	"os"

	"github.com/rotisserie/eris"
	"golang.org/x/image/tiff"
)

// WriteTIFF writes g as a Deflate-compressed 8-bit grayscale TIFF with a
// world-file sidecar next to it.
func WriteTIFF(path string, g *Grid) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "raster: create %s", path)
	}
	if err := tiff.Encode(f, g.Gray(), &tiff.Options{Compression: tiff.Deflate}); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "raster: encode %s", path)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "raster: close %s", path)
	}
	return WriteWorldFile(WorldFilePath(path), g.Transform)
}

// ReadTIFF loads a single-band raster written by WriteTIFF.
func ReadTIFF(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: decode %s", path)
	}

	gray, ok := img.(*image.Gray)
	if !ok {
		b := img.Bounds()
		gray = image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	}

	t, err := ReadWorldFile(WorldFilePath(path))
	if err != nil {
		return nil, err
	}

	b := gray.Bounds()
	g := NewGrid(b.Dx(), b.Dy(), t)
	for r := 0; r < g.Height; r++ {
		off := gray.PixOffset(b.Min.X, b.Min.Y+r)
		copy(g.Pix[r*g.Width:(r+1)*g.Width], gray.Pix[off:off+g.Width])
	}
	return g, nil
}
