// Package risk turns rendered risk-map imagery back into risk levels.
package risk

import (
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Level is a discrete risk level. NoData marks the "undefined" palette entry
// and masked pixels.
type Level uint8

// NoData is the undefined risk level.
const NoData Level = 0

// MaxLevel is the highest risk level in the palette.
const MaxLevel Level = 10

// String returns the level number or "nodata".
func (l Level) String() string {
	if l == NoData {
		return "nodata"
	}
	return strconv.Itoa(int(l))
}

// Entry is one palette color with its channels normalized to [0,1].
type Entry struct {
	Level   Level
	Hex     string
	R, G, B float64
}

// RGBA returns the entry as an opaque color.
func (e Entry) RGBA() color.RGBA {
	return color.RGBA{
		R: uint8(math.Round(e.R * 255)),
		G: uint8(math.Round(e.G * 255)),
		B: uint8(math.Round(e.B * 255)),
		A: 0xff,
	}
}

// Palette is an ordered list of reference colors. Order matters for ties.
type Palette []Entry

var defaultHex = []struct {
	level Level
	hex   string
}{
	{NoData, "#B3B3B3"},
	{1, "#EDFDC5"},
	{2, "#EBFD88"},
	{3, "#FFFE89"},
	{4, "#FEF086"},
	{5, "#FAD649"},
	{6, "#F4AC3C"},
	{7, "#F08833"},
	{8, "#ED612B"},
	{9, "#E23021"},
	{10, "#D42C1F"},
}

// DefaultPalette returns the 11-entry palette used by the published risk maps.
func DefaultPalette() Palette {
	p := make(Palette, 0, len(defaultHex))
	for _, d := range defaultHex {
		e, err := NewEntry(d.level, d.hex)
		if err != nil {
			panic(err) // constants above are valid
		}
		p = append(p, e)
	}
	return p
}

// NewEntry builds a palette entry from an HTML hex color.
func NewEntry(level Level, hex string) (Entry, error) {
	r, g, b, err := ParseHex(hex)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Level: level, Hex: strings.ToUpper(hex), R: r, G: g, B: b}, nil
}

// ParseHex parses "#RRGGBB" (or "RRGGBB") into channels in [0,1].
func ParseHex(hex string) (r, g, b float64, err error) {
	s := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(s) != 6 {
		return 0, 0, 0, eris.Errorf("risk: invalid hex color %q", hex)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, 0, eris.Wrapf(err, "risk: invalid hex color %q", hex)
	}
	return float64(v>>16&0xff) / 255, float64(v>>8&0xff) / 255, float64(v&0xff) / 255, nil
}

// Nearest returns the level of the entry closest to (r, g, b) by Euclidean
// distance. The first entry wins ties.
func (p Palette) Nearest(r, g, b float64) Level {
	best := NoData
	bestDist := math.Inf(1)
	for _, e := range p {
		dr, dg, db := r-e.R, g-e.G, b-e.B
		// Squared distance preserves the ordering of the Euclidean norm.
		d := dr*dr + dg*dg + db*db
		if d < bestDist {
			bestDist = d
			best = e.Level
		}
	}
	return best
}

// Entry returns the palette entry for a level.
func (p Palette) Entry(l Level) (Entry, bool) {
	for _, e := range p {
		if e.Level == l {
			return e, true
		}
	}
	return Entry{}, false
}
