package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"etfmomentum/internal/domain"
)

// ErrNoPriceData is returned when none of the requested symbols has data.
var ErrNoPriceData = errors.New("store: no price data for requested symbols")

// csvDateLayouts are accepted for the Date column of a price CSV.
var csvDateLayouts = []string{time.DateOnly, time.DateTime, time.RFC3339}

// civilDate truncates ts to midnight UTC of its UTC calendar day.
func civilDate(ts time.Time) time.Time {
	y, m, d := ts.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// LoadPriceTable outer-joins the daily closes of symbols within [start, end]
// into a PriceTable. Columns follow the order of symbols; symbols without
// any bars are dropped and logged.
func LoadPriceTable(ctx context.Context, bars BarStore, symbols []string, market string, start, end time.Time, log *slog.Logger) (*domain.PriceTable, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	closes := make(map[string]map[time.Time]float64, len(symbols))
	var kept []string
	dateSet := make(map[time.Time]struct{})
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bs, err := bars.ReadBars(ctx, sym, market, start, end)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", sym, err)
		}
		if len(bs) == 0 {
			log.Warn("no bars for symbol, dropping", "symbol", sym, "market", market)
			continue
		}
		if _, dup := closes[sym]; dup {
			continue
		}
		col := make(map[time.Time]float64, len(bs))
		for _, b := range bs {
			d := civilDate(b.Timestamp)
			col[d] = b.Close
			dateSet[d] = struct{}{}
		}
		closes[sym] = col
		kept = append(kept, sym)
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPriceData, strings.Join(symbols, ","))
	}

	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	cols := make([][]float64, len(kept))
	for j, sym := range kept {
		cols[j] = make([]float64, len(dates))
		for i, d := range dates {
			v, ok := closes[sym][d]
			if !ok {
				v = math.NaN()
			}
			cols[j][i] = v
		}
	}
	log.Debug("price table loaded", "symbols", len(kept), "rows", len(dates))
	return domain.NewPriceTable(dates, kept, cols)
}

// ReadPriceCSV parses a wide price CSV with a leading Date column followed by
// one column per symbol. Empty cells are missing values and rows with no
// value at all are dropped.
func ReadPriceCSV(r io.Reader) (*domain.PriceTable, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	if len(header) < 2 || !strings.EqualFold(strings.TrimSpace(header[0]), "date") {
		return nil, fmt.Errorf("csv header must start with Date and name at least one symbol, got %v", header)
	}
	symbols := make([]string, len(header)-1)
	for j, h := range header[1:] {
		symbols[j] = strings.TrimSpace(h)
	}

	type row struct {
		date   time.Time
		values []float64
	}
	var rows []row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv line %d: %w", line, err)
		}

		d, err := parseCSVDate(rec[0])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		vals := make([]float64, len(symbols))
		present := false
		for j := range symbols {
			vals[j] = math.NaN()
			cell := strings.TrimSpace(rec[j+1])
			if cell == "" || strings.EqualFold(cell, "nan") {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d column %s: %w", line, symbols[j], err)
			}
			vals[j] = v
			present = true
		}
		if present {
			rows = append(rows, row{date: d, values: vals})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].date.Before(rows[j].date) })
	dates := make([]time.Time, len(rows))
	cols := make([][]float64, len(symbols))
	for j := range cols {
		cols[j] = make([]float64, len(rows))
	}
	for i, r := range rows {
		dates[i] = r.date
		for j, v := range r.values {
			cols[j][i] = v
		}
	}
	return domain.NewPriceTable(dates, symbols, cols)
}

func parseCSVDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range csvDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civilDate(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// WritePriceCSV writes table in the format read by ReadPriceCSV.
func WritePriceCSV(w io.Writer, table *domain.PriceTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"Date"}, table.Symbols()...)); err != nil {
		return err
	}
	rec := make([]string, table.NumAssets()+1)
	for i := 0; i < table.Len(); i++ {
		rec[0] = table.Date(i).Format(time.DateOnly)
		for j := 0; j < table.NumAssets(); j++ {
			v := table.Value(j, i)
			if math.IsNaN(v) {
				rec[j+1] = ""
				continue
			}
			rec[j+1] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// BarsFromTable expands a price table into close-only bars, one per present
// value, for importing CSV data into a BarStore.
func BarsFromTable(table *domain.PriceTable) []domain.Bar {
	var bars []domain.Bar
	for j := 0; j < table.NumAssets(); j++ {
		sym := table.Symbol(j)
		for i := 0; i < table.Len(); i++ {
			v := table.Value(j, i)
			if math.IsNaN(v) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:    sym,
				Timestamp: table.Date(i),
				Open:      v,
				High:      v,
				Low:       v,
				Close:     v,
			})
		}
	}
	return bars
}
