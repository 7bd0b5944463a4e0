package risk

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	"github.com/rotisserie/eris"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/sells-group/riskmap-cli/internal/raster"
)

const legendHeight = 36

// Render paints a risk grid with palette colors, masked pixels white, and a
// legend strip carrying the title below the map.
func Render(g *raster.Grid, p Palette, title string) *image.RGBA {
	width := max(g.Width, 11*24)
	img := image.NewRGBA(image.Rect(0, 0, width, g.Height+legendHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	lut := make([]color.RGBA, 256)
	for i := range lut {
		lut[i] = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	}
	for _, e := range p {
		if e.Level != NoData {
			lut[e.Level] = e.RGBA()
		}
	}

	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			img.SetRGBA(x, y, lut[g.Pix[y*g.Width+x]])
		}
	}

	face := basicfont.Face7x13
	top := g.Height + 4
	for i := Level(1); i <= MaxLevel; i++ {
		e, ok := p.Entry(i)
		if !ok {
			continue
		}
		x0 := int(i-1) * 24
		draw.Draw(img, image.Rect(x0+2, top, x0+22, top+14), image.NewUniform(e.RGBA()), image.Point{}, draw.Src)
		drawText(img, i.String(), x0+5, top+26, face)
	}
	if title != "" {
		drawText(img, title, 11*24, top+12, face)
	}
	return img
}

// WritePreview renders g and saves it as a PNG.
func WritePreview(path string, g *raster.Grid, p Palette, title string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "risk: create preview %s", path)
	}
	if err := png.Encode(f, Render(g, p, title)); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "risk: encode preview %s", path)
	}
	return eris.Wrap(f.Close(), "risk: close preview")
}

func drawText(img *image.RGBA, text string, x, y int, face font.Face) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
