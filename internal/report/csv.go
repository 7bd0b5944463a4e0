// Package report writes zonal statistics as CSV, XLSX and charts.
package report

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/riskmap-cli/internal/model"
)

// Columns is the header of every statistics CSV.
var Columns = []string{
	"SOV_A3",
	"SOVEREIGNTY",
	"ADMIN",
	"RISK_TYPE",
	"RISK_MEDIAN",
	"RISK_MEAN",
	"RISK_STD",
	"RISK_MAX",
	"RISK_MIN",
	"RISK_PIXELS",
}

// LayerFile is the per-layer statistics file name.
const LayerFile = "stats_by_country.csv"

// WriteCSV writes records to path. NaN statistics are written as empty cells.
func WriteCSV(path string, recs []model.StatsRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	if err := Encode(f, recs, true); err != nil {
		return err
	}
	return eris.Wrap(f.Close(), "report: close csv")
}

// Encode writes records as CSV to w, optionally preceded by the header.
func Encode(w io.Writer, recs []model.StatsRecord, header bool) error {
	cw := csv.NewWriter(w)
	if header {
		if err := cw.Write(Columns); err != nil {
			return eris.Wrap(err, "report: write header")
		}
	}
	for _, r := range recs {
		if err := cw.Write(row(r)); err != nil {
			return eris.Wrap(err, "report: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}

func row(r model.StatsRecord) []string {
	return []string{
		r.SovA3,
		r.Sovereignty,
		r.Admin,
		r.RiskType,
		formatStat(r.Median),
		formatStat(r.Mean),
		formatStat(r.Std),
		formatStat(r.Max),
		formatStat(r.Min),
		strconv.FormatInt(r.Pixels, 10),
	}
}

func formatStat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func parseStat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// ReadCSV loads a statistics CSV written by WriteCSV.
func ReadCSV(path string) ([]model.StatsRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "report: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = len(Columns)

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "report: read header %s", path)
	}
	for i, col := range Columns {
		if strings.TrimPrefix(header[i], "\ufeff") != col {
			return nil, eris.Errorf("report: %s: column %d is %q, want %q", path, i, header[i], col)
		}
	}

	var recs []model.StatsRecord
	for line := 2; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "report: read %s", path)
		}
		r, err := parseRow(fields)
		if err != nil {
			return nil, eris.Wrapf(err, "report: %s line %d", path, line)
		}
		recs = append(recs, r)
	}
	return recs, nil
}

func parseRow(f []string) (model.StatsRecord, error) {
	r := model.StatsRecord{
		SovA3:       f[0],
		Sovereignty: f[1],
		Admin:       f[2],
		RiskType:    f[3],
	}
	stats := []*float64{&r.Median, &r.Mean, &r.Std, &r.Max, &r.Min}
	for i, dst := range stats {
		v, err := parseStat(f[4+i])
		if err != nil {
			return r, eris.Wrapf(err, "parse %s", Columns[4+i])
		}
		*dst = v
	}
	if s := strings.TrimSpace(f[9]); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return r, eris.Wrap(err, "parse RISK_PIXELS")
		}
		r.Pixels = n
	}
	return r, nil
}

// Combine concatenates per-layer CSV files into one table, in the order
// given, and returns the combined records.
func Combine(paths []string, out string) ([]model.StatsRecord, error) {
	var all []model.StatsRecord
	for _, p := range paths {
		recs, err := ReadCSV(p)
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	if err := WriteCSV(out, all); err != nil {
		return nil, err
	}
	return all, nil
}
