// Package report renders backtest output: equity curve charts, metric
// tables and CSV exports.
package report

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/vicanso/go-charts/v2"

	"etfmomentum/internal/strategy"
)

// ErrTooShort is returned when a series has too few points to chart.
var ErrTooShort = errors.New("report: series too short to chart")

// ChartFileName returns the equity curve file name for a frequency and top_n
// pair, e.g. equity_curve_1ME_top_3_etfs.png.
func ChartFileName(freq string, topN int) string {
	return fmt.Sprintf("equity_curve_%s_top_%d_etfs.png", freq, topN)
}

// EquityCurvePNG renders the strategy value series, and the benchmark when
// present, as a PNG line chart.
func EquityCurvePNG(rep *strategy.Report) ([]byte, error) {
	value := rep.Result.Value
	if value.Len() < 2 {
		return nil, ErrTooShort
	}

	labels := make([]string, value.Len())
	for i, d := range value.Dates {
		labels[i] = d.Format("Jan '06")
	}
	series := [][]float64{value.Values}
	names := []string{rep.Request.Strategy}
	if rep.Benchmark.Len() == value.Len() {
		series = append(series, rep.Benchmark.Values)
		names = append(names, rep.Request.Benchmark)
	}

	yMin, yMax := math.Inf(1), math.Inf(-1)
	for _, s := range series {
		for _, v := range s {
			yMin = math.Min(yMin, v)
			yMax = math.Max(yMax, v)
		}
	}
	padding := (yMax - yMin) * 0.05
	if padding == 0 {
		padding = yMax * 0.05
	}
	yMin -= padding
	yMax += padding

	split := 6
	if len(labels) <= 30 {
		split = max(len(labels)/3, 3)
	}

	title := fmt.Sprintf("Top %d ETFs • %s", rep.Request.Engine.TopN, rep.Request.Engine.Frequency)
	subtitle := fmt.Sprintf("CAGR: %.2f%% | Sharpe: %.2f | MaxDD: %.2f%%",
		rep.Summary.CAGR*100, rep.Summary.Sharpe, rep.Summary.MaxDrawdown*100)

	p, err := charts.LineRender(
		series,
		charts.TitleTextOptionFunc(title, subtitle),
		charts.XAxisOptionFunc(charts.XAxisOption{
			Data:        labels,
			SplitNumber: split,
			BoundaryGap: charts.FalseFlag(),
		}),
		charts.YAxisOptionFunc(charts.YAxisOption{
			Min:         &yMin,
			Max:         &yMax,
			DivideCount: 5,
		}),
		charts.LegendOptionFunc(charts.LegendOption{
			Data: names,
			Top:  charts.PositionTop,
		}),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(1000),
		charts.HeightOptionFunc(600),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}

	buf, err := p.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate chart bytes: %w", err)
	}
	return buf, nil
}

// WriteEquityCurve renders the chart into dir and returns the file path.
func WriteEquityCurve(dir string, rep *strategy.Report) (string, error) {
	buf, err := EquityCurvePNG(rep)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, ChartFileName(rep.Request.Engine.Frequency.String(), rep.Request.Engine.TopN))
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.DateOnly)
}
