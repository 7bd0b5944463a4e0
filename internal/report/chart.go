package report

import (
	"cmp"
	"os"
	"slices"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/rotisserie/eris"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/sells-group/riskmap-cli/internal/model"
	"github.com/sells-group/riskmap-cli/internal/zonal"
)

// maxLevel is the highest risk level shown in histograms.
const maxLevel = 10

// WriteBarChart renders mean risk per country as an HTML bar chart. Countries
// without data are left out; the rest are sorted by descending mean.
func WriteBarChart(path, title string, recs []model.StatsRecord) error {
	var rows []model.StatsRecord
	for _, r := range recs {
		if r.HasData() {
			rows = append(rows, r)
		}
	}
	slices.SortStableFunc(rows, func(a, b model.StatsRecord) int {
		return cmp.Compare(b.Mean, a.Mean)
	})

	names := make([]string, len(rows))
	means := make([]opts.BarData, len(rows))
	medians := make([]opts.BarData, len(rows))
	for i, r := range rows {
		names[i] = r.Admin
		means[i] = opts.BarData{Name: r.Admin, Value: round3(r.Mean)}
		medians[i] = opts.BarData{Name: r.Admin, Value: round3(r.Median)}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: title,
			Width:     "1400px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: strconv.Itoa(len(rows)) + " countries",
		}),
		charts.WithYAxisOpts(opts.YAxis{Name: "risk level", Min: 0, Max: maxLevel}),
	)
	bar.SetXAxis(names).
		AddSeries("mean", means).
		AddSeries("median", medians)

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	if err := bar.Render(f); err != nil {
		return eris.Wrapf(err, "report: render chart %s", path)
	}
	return eris.Wrap(f.Close(), "report: close chart")
}

// WriteHistogram plots pixel counts per risk level as a PNG bar chart.
func WriteHistogram(path, title string, h zonal.Histogram) error {
	values := make(plotter.Values, maxLevel)
	names := make([]string, maxLevel)
	for l := 1; l <= maxLevel; l++ {
		values[l-1] = float64(h[l])
		names[l-1] = strconv.Itoa(l)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "risk level"
	p.Y.Label.Text = "pixels"

	bars, err := plotter.NewBarChart(values, vg.Points(20))
	if err != nil {
		return eris.Wrap(err, "report: histogram bars")
	}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(names...)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return eris.Wrapf(err, "report: save histogram %s", path)
	}
	return nil
}

func round3(v float64) float64 {
	f, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 3, 64), 64)
	return f
}
