package report

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/riskmap-cli/internal/model"
)

// Layer is the statistics of one risk layer.
type Layer struct {
	Name    string
	Records []model.StatsRecord
}

// maxSheetName is the Excel limit on sheet name length.
const maxSheetName = 31

// WriteXLSX writes one sheet per layer plus an "All" sheet with every record.
func WriteXLSX(path string, layers []Layer) error {
	f := xlsx.NewFile()

	var all []model.StatsRecord
	used := map[string]bool{"All": true}
	for _, l := range layers {
		name := sheetName(l.Name, used)
		if err := addSheet(f, name, l.Records); err != nil {
			return err
		}
		all = append(all, l.Records...)
	}
	if err := addSheet(f, "All", all); err != nil {
		return err
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

func addSheet(f *xlsx.File, name string, recs []model.StatsRecord) error {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "report: add sheet %q", name)
	}

	header := sheet.AddRow()
	for _, col := range Columns {
		header.AddCell().SetString(col)
	}
	for _, r := range recs {
		row := sheet.AddRow()
		row.AddCell().SetString(r.SovA3)
		row.AddCell().SetString(r.Sovereignty)
		row.AddCell().SetString(r.Admin)
		row.AddCell().SetString(r.RiskType)
		for _, v := range []float64{r.Median, r.Mean, r.Std, r.Max, r.Min} {
			cell := row.AddCell()
			if !math.IsNaN(v) {
				cell.SetFloatWithFormat(v, "0.000")
			}
		}
		row.AddCell().SetInt(int(r.Pixels))
	}
	return nil
}

// sheetName strips characters Excel rejects, truncates to the length limit
// and disambiguates duplicates.
func sheetName(name string, used map[string]bool) string {
	clean := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '-'
		}
		return r
	}, strings.TrimSpace(name))
	if clean == "" {
		clean = "Layer"
	}
	if r := []rune(clean); len(r) > maxSheetName {
		clean = string(r[:maxSheetName])
	}

	out := clean
	for i := 2; used[out]; i++ {
		suffix := fmt.Sprintf(" (%d)", i)
		r := []rune(clean)
		if len(r)+len(suffix) > maxSheetName {
			r = r[:maxSheetName-len(suffix)]
		}
		out = string(r) + suffix
	}
	used[out] = true
	return out
}
