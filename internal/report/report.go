// Package report renders post-calibration diagnostics: a residual
// histogram as a PNG for quick inspection and an interactive residual
// scatter chart as a standalone HTML page.
package report

import (
	"fmt"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/gyrocal/internal/gyrocal"
)

// WriteResidualHistogramPNG saves a histogram of per-measurement residuals.
// The bin count scales with the sample size but is clamped to a readable
// range.
func WriteResidualHistogramPNG(path string, inliers *gyrocal.Inliers) error {
	if inliers == nil || len(inliers.Residuals) == 0 {
		return fmt.Errorf("no residuals to plot")
	}

	p := plot.New()
	p.Title.Text = "Calibration residuals"
	p.X.Label.Text = "residual (rad/s)"
	p.Y.Label.Text = "count"

	bins := len(inliers.Residuals) / 4
	if bins < 10 {
		bins = 10
	}
	if bins > 60 {
		bins = 60
	}

	vals := make(plotter.Values, len(inliers.Residuals))
	copy(vals, inliers.Residuals)
	hist, err := plotter.NewHist(vals, bins)
	if err != nil {
		return fmt.Errorf("failed to build histogram: %w", err)
	}
	p.Add(hist)

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save histogram: %w", err)
	}
	return nil
}

// WriteResidualScatterHTML renders residual-vs-index scatter with inliers
// and outliers as separate series, so flagged measurements stand out when
// hovering in the browser.
func WriteResidualScatterHTML(path string, inliers *gyrocal.Inliers) error {
	if inliers == nil || len(inliers.Residuals) == 0 {
		return fmt.Errorf("no residuals to plot")
	}

	inlierData := make([]opts.ScatterData, 0, inliers.NumInliers)
	outlierData := make([]opts.ScatterData, 0, len(inliers.Residuals)-inliers.NumInliers)
	for i, r := range inliers.Residuals {
		d := opts.ScatterData{Value: []interface{}{i, r}}
		if i < len(inliers.Mask) && inliers.Mask[i] {
			inlierData = append(inlierData, d)
		} else {
			outlierData = append(outlierData, d)
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Calibration residuals",
			Width:     "1100px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title: "Calibration residuals",
			Subtitle: fmt.Sprintf("inliers=%d/%d threshold=%.3g",
				inliers.NumInliers, len(inliers.Residuals), inliers.Threshold),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "measurement"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "residual (rad/s)"}),
	)

	scatter.AddSeries("inliers", inlierData,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	scatter.AddSeries("outliers", outlierData,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := scatter.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return f.Close()
}
