package raster

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// WorldFileText renders a world file. World files reference the centre of the
// upper-left pixel, so the corner origin of t is shifted by half a pixel.
func WorldFileText(t Transform) string {
	cx, cy := t.Center(0, 0)
	return fmt.Sprintf("%s\n%s\n%s\n%s\n%s\n%s\n",
		fmtFloat(t.A), fmtFloat(t.D), fmtFloat(t.B), fmtFloat(t.E), fmtFloat(cx), fmtFloat(cy))
}

// WriteWorldFile writes the world file for t at path.
func WriteWorldFile(path string, t Transform) error {
	if err := os.WriteFile(path, []byte(WorldFileText(t)), 0o644); err != nil {
		return eris.Wrapf(err, "raster: write world file %s", path)
	}
	return nil
}

// ReadWorldFile parses a six-line world file into a corner-origin transform.
func ReadWorldFile(path string) (Transform, error) {
	f, err := os.Open(path)
	if err != nil {
		return Transform{}, eris.Wrapf(err, "raster: open world file %s", path)
	}
	defer f.Close() //nolint:errcheck

	var vals []float64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return Transform{}, eris.Wrapf(err, "raster: parse world file %s line %q", path, line)
		}
		vals = append(vals, v)
	}
	if err := sc.Err(); err != nil {
		return Transform{}, eris.Wrapf(err, "raster: read world file %s", path)
	}
	if len(vals) != 6 {
		return Transform{}, eris.Errorf("raster: world file %s has %d values, want 6", path, len(vals))
	}

	a, d, b, e, cx, cy := vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]
	t := Transform{A: a, B: b, D: d, E: e}
	// Move from pixel centre to pixel corner.
	t.C = cx - 0.5*a - 0.5*b
	t.F = cy - 0.5*d - 0.5*e
	return t, nil
}

// WorldFilePath returns the conventional sidecar path for an image:
// map.png -> map.pgw, risk_map.tif -> risk_map.tfw.
func WorldFilePath(imagePath string) string {
	ext := filepath.Ext(imagePath)
	base := strings.TrimSuffix(imagePath, ext)
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if len(ext) < 2 {
		return base + ".wld"
	}
	return base + "." + ext[:1] + ext[len(ext)-1:] + "w"
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
