package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"etfmomentum/internal/domain"
	"etfmomentum/internal/engine"
	"etfmomentum/internal/metrics"
	"etfmomentum/internal/strategy"
)

// Row is one line of a metrics table.
type Row struct {
	Label   string
	Summary metrics.Summary
	Skipped int
}

func pct(f float64) string {
	if math.IsNaN(f) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", f*100)
}

func num(f float64) string {
	if math.IsNaN(f) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", f)
}

// WriteTable prints rows as an aligned text table.
func WriteTable(w io.Writer, rows []Row) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "RUN\tSTART\tEND\tFINAL\tCAGR\tVOL\tSHARPE\tMAX DD\tSKIPPED\t")
	for _, r := range rows {
		s := r.Summary
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t\n",
			r.Label, formatDate(s.Start), formatDate(s.End), num(s.FinalValue),
			pct(s.CAGR), pct(s.Volatility), num(s.Sharpe), pct(s.MaxDrawdown), r.Skipped)
	}
	return tw.Flush()
}

// Rows returns the strategy row and, when present, the benchmark row of a
// report.
func Rows(rep *strategy.Report) []Row {
	rows := []Row{{
		Label:   fmt.Sprintf("%s %s top %d", rep.Request.Strategy, rep.Request.Engine.Frequency, rep.Request.Engine.TopN),
		Summary: rep.Summary,
		Skipped: rep.Result.Skipped(),
	}}
	if rep.Benchmark.Len() > 0 {
		rows = append(rows, Row{Label: rep.Request.Benchmark + " buy & hold", Summary: rep.BenchmarkSummary})
	}
	return rows
}

// WriteValueCSV writes the value series, with an optional benchmark column
// when bench has the same length.
func WriteValueCSV(w io.Writer, value, bench domain.Series, benchName string) error {
	cw := csv.NewWriter(w)
	header := []string{"Date", "Value"}
	withBench := bench.Len() > 0 && bench.Len() == value.Len()
	if withBench {
		header = append(header, benchName)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, d := range value.Dates {
		rec := []string{d.Format(time.DateOnly), strconv.FormatFloat(value.Values[i], 'f', -1, 64)}
		if withBench {
			rec = append(rec, strconv.FormatFloat(bench.Values[i], 'f', -1, 64))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteWeightsCSV writes one row per decision date and one column per asset.
func WriteWeightsCSV(w io.Writer, h domain.WeightHistory) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"Date"}, h.Assets...)); err != nil {
		return err
	}
	for i, row := range h.Rows {
		rec := make([]string, 0, len(row)+1)
		rec = append(rec, h.Dates[i].Format(time.DateOnly))
		for _, v := range row {
			rec = append(rec, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteOutcomes prints each decision date with its status and holdings.
func WriteOutcomes(w io.Writer, rep *strategy.Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tSTATUS\tRETURN\tVALUE\tHOLDINGS")
	for i, o := range rep.Result.Outcomes {
		holdings := strings.Join(o.Selection, ",")
		if o.Status == engine.StatusSkipped {
			holdings = o.Reason
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			o.Date.Format(time.DateOnly), o.Status, pct(o.PeriodReturn),
			num(rep.Result.Value.Values[i]), holdings)
	}
	return tw.Flush()
}
