package engine

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"etfmomentum/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// weekdays returns every Monday-to-Friday date in [from, to].
func weekdays(from, to time.Time) []time.Time {
	var out []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		out = append(out, d)
	}
	return out
}

// geometricTable builds one column per growth rate, price_i = 100 * g^i.
func geometricTable(t *testing.T, dates []time.Time, symbols []string, growth []float64) *domain.PriceTable {
	t.Helper()
	cols := make([][]float64, len(symbols))
	for j := range symbols {
		cols[j] = make([]float64, len(dates))
		for i := range dates {
			cols[j][i] = 100 * math.Pow(growth[j], float64(i))
		}
	}
	tbl, err := domain.NewPriceTable(dates, symbols, cols)
	if err != nil {
		t.Fatalf("NewPriceTable: %v", err)
	}
	return tbl
}

func monthlyConfig(topN int) Config {
	cfg := DefaultConfig()
	cfg.TopN = topN
	return cfg
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero top_n", func(c *Config) { c.TopN = 0 }},
		{"negative short", func(c *Config) { c.ShortLookbackMonths = -1 }},
		{"zero long", func(c *Config) { c.LongLookbackMonths = 0 }},
		{"zero frequency count", func(c *Config) { c.Frequency.N = 0 }},
		{"negative tolerance", func(c *Config) { c.FillTolerance = -time.Hour }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
				t.Errorf("Validate() = %v, want ErrConfig", err)
			}
		})
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v, want nil", err)
	}
}

func TestNewRejectsEmptyTable(t *testing.T) {
	if _, err := New(nil, DefaultConfig()); !errors.Is(err, ErrConfig) {
		t.Errorf("New(nil) = %v, want ErrConfig", err)
	}
	empty, err := domain.NewPriceTable(nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(empty, DefaultConfig()); !errors.Is(err, ErrConfig) {
		t.Errorf("New(empty) = %v, want ErrConfig", err)
	}
}

func TestRunRisingAndFallingAsset(t *testing.T) {
	dates := weekdays(date(2023, 1, 2), date(2024, 3, 29))
	tbl := geometricTable(t, dates, []string{"A", "B"}, []float64{1.001, 0.999})

	e, err := New(tbl, monthlyConfig(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := e.Run()

	wantDates := []time.Time{date(2024, 1, 31), date(2024, 2, 29), date(2024, 3, 29)}
	if !reflect.DeepEqual(res.Value.Dates, wantDates) {
		t.Fatalf("Value.Dates = %v, want %v", res.Value.Dates, wantDates)
	}
	if res.Value.Values[0] != 1.0 {
		t.Errorf("Value[0] = %v, want exactly 1.0", res.Value.Values[0])
	}

	a0, _ := tbl.AsOf(0, wantDates[0])
	for i, d := range wantDates {
		o := res.Outcomes[i]
		if o.Status != StatusActive || !reflect.DeepEqual(o.Selection, []string{"A"}) {
			t.Errorf("%s: outcome = %+v, want active {A}", d.Format(time.DateOnly), o)
		}
		if w := res.Weights.Weight(i, "A"); w != 1 {
			t.Errorf("%s: w(A) = %v, want 1", d.Format(time.DateOnly), w)
		}
		if w := res.Weights.Weight(i, "B"); w != 0 {
			t.Errorf("%s: w(B) = %v, want 0", d.Format(time.DateOnly), w)
		}

		ai, _ := tbl.AsOf(0, d)
		want := tbl.Value(0, ai) / tbl.Value(0, a0)
		if got := res.Value.Values[i]; math.Abs(got-want) > 1e-12 {
			t.Errorf("%s: value = %v, want %v", d.Format(time.DateOnly), got, want)
		}
	}
}

func TestRunAllNegativeTrend(t *testing.T) {
	dates := weekdays(date(2023, 1, 2), date(2024, 6, 28))
	tbl := geometricTable(t, dates, []string{"A", "B", "C"}, []float64{0.999, 0.998, 0.9995})

	e, err := New(tbl, monthlyConfig(2))
	if err != nil {
		t.Fatal(err)
	}
	res := e.Run()
	if res.Value.Len() == 0 {
		t.Fatal("expected active decision dates")
	}
	for i := range res.Outcomes {
		if len(res.Outcomes[i].Selection) != 0 {
			t.Errorf("row %d: selection = %v, want empty", i, res.Outcomes[i].Selection)
		}
		if s := sum(res.Weights.Rows[i]); s != 0 {
			t.Errorf("row %d: weight sum = %v, want 0", i, s)
		}
		if v := res.Value.Values[i]; v != 1.0 {
			t.Errorf("row %d: value = %v, want 1.0", i, v)
		}
	}
}

func TestRunInsufficientHistory(t *testing.T) {
	dates := weekdays(date(2024, 1, 1), date(2024, 6, 28))
	tbl := geometricTable(t, dates, []string{"A"}, []float64{1.001})

	e, err := New(tbl, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	res := e.Run()
	if res.Value.Len() != 0 || res.Weights.Len() != 0 || len(res.Outcomes) != 0 {
		t.Errorf("got %d values, %d weight rows, %d outcomes; want all empty",
			res.Value.Len(), res.Weights.Len(), len(res.Outcomes))
	}
}

func TestRunWeightInvariants(t *testing.T) {
	dates := weekdays(date(2022, 1, 3), date(2024, 12, 31))
	symbols := []string{"UP1", "UP2", "DOWN", "FLAT"}
	tbl := geometricTable(t, dates, symbols, []float64{1.0008, 1.0004, 0.9993, 1})

	for _, topN := range []int{1, 2, 3, 5} {
		e, err := New(tbl, monthlyConfig(topN))
		if err != nil {
			t.Fatal(err)
		}
		res := e.Run()
		long := NewEvaluator(tbl, 0)

		for i, d := range res.Weights.Dates {
			row := res.Weights.Rows[i]
			s := sum(row)
			if s > 1+1e-12 {
				t.Errorf("top_n=%d %s: weight sum %v > 1", topN, d.Format(time.DateOnly), s)
			}
			perf, err := long.Performance(d, 12)
			if err != nil {
				t.Fatal(err)
			}
			eligible := 0
			for j, w := range row {
				if perf[j] > 0 {
					eligible++
				} else if w != 0 {
					t.Errorf("top_n=%d %s: %s has weight %v with long perf %v",
						topN, d.Format(time.DateOnly), symbols[j], w, perf[j])
				}
				if w < 0 || w > 1/float64(topN)+1e-15 {
					t.Errorf("top_n=%d: weight %v out of range", topN, w)
				}
			}
			full := math.Abs(s-1) < 1e-12
			if full != (eligible >= topN) {
				t.Errorf("top_n=%d %s: sum=%v with %d eligible", topN, d.Format(time.DateOnly), s, eligible)
			}
		}
		for i, v := range res.Value.Values {
			if v < 0 {
				t.Errorf("top_n=%d: value[%d] = %v is negative", topN, i, v)
			}
		}
	}
}

func TestRunIdempotent(t *testing.T) {
	dates := weekdays(date(2022, 1, 3), date(2024, 6, 28))
	tbl := geometricTable(t, dates, []string{"A", "B", "C"}, []float64{1.0005, 0.9999, 1.0007})

	e, err := New(tbl, monthlyConfig(2))
	if err != nil {
		t.Fatal(err)
	}
	first, second := e.Run(), e.Run()
	if !reflect.DeepEqual(first, second) {
		t.Error("two runs on the same engine produced different results")
	}
}

func TestRunNoLookAhead(t *testing.T) {
	dates := weekdays(date(2022, 1, 3), date(2024, 6, 28))
	symbols := []string{"A", "B"}
	base := geometricTable(t, dates, symbols, []float64{1.0005, 0.9995})

	e, err := New(base, monthlyConfig(1))
	if err != nil {
		t.Fatal(err)
	}
	before := e.Run()
	cut := before.Weights.Dates[2]

	// B rallies hard strictly after cut.
	cols := make([][]float64, 2)
	for j := range cols {
		cols[j] = make([]float64, len(dates))
		for i := range dates {
			cols[j][i] = base.Value(j, i)
			if j == 1 && dates[i].After(cut) {
				cols[j][i] *= 10 * float64(i)
			}
		}
	}
	mutated, err := domain.NewPriceTable(dates, symbols, cols)
	if err != nil {
		t.Fatal(err)
	}
	e2, err := New(mutated, monthlyConfig(1))
	if err != nil {
		t.Fatal(err)
	}
	after := e2.Run()

	for i := 0; i <= 2; i++ {
		if !reflect.DeepEqual(before.Weights.Rows[i], after.Weights.Rows[i]) {
			t.Errorf("row %d weights changed: %v -> %v", i, before.Weights.Rows[i], after.Weights.Rows[i])
		}
		if !reflect.DeepEqual(before.Outcomes[i], after.Outcomes[i]) {
			t.Errorf("row %d outcome changed: %+v -> %+v", i, before.Outcomes[i], after.Outcomes[i])
		}
		if before.Value.Values[i] != after.Value.Values[i] {
			t.Errorf("row %d value changed: %v -> %v", i, before.Value.Values[i], after.Value.Values[i])
		}
	}
}

func TestRunDoesNotMutateTable(t *testing.T) {
	dates := weekdays(date(2023, 1, 2), date(2024, 3, 29))
	tbl := geometricTable(t, dates, []string{"A", "B"}, []float64{1.001, 0.999})
	snapshot := make([]float64, tbl.Len())
	for i := range snapshot {
		snapshot[i] = tbl.Value(0, i)
	}

	e, err := New(tbl, monthlyConfig(1))
	if err != nil {
		t.Fatal(err)
	}
	e.Run()
	for i, v := range snapshot {
		if tbl.Value(0, i) != v {
			t.Fatalf("table value %d changed", i)
		}
	}
}

func TestRunSkipsInvalidSelection(t *testing.T) {
	dates := weekdays(date(2023, 1, 2), date(2024, 3, 29))
	tbl := geometricTable(t, dates, []string{"A", "B"}, []float64{1.001, 0.999})

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	bad := SelectorFunc(func(_, _ PerformanceVector, _ int) []int { return []int{0, 0} })

	e, err := New(tbl, monthlyConfig(2), WithLogger(log), WithSelector(bad))
	if err != nil {
		t.Fatal(err)
	}
	res := e.Run()
	if res.Skipped() != len(res.Outcomes) {
		t.Errorf("Skipped() = %d, want %d", res.Skipped(), len(res.Outcomes))
	}
	for i, o := range res.Outcomes {
		if !strings.Contains(o.Reason, ErrInvalidSelection.Error()) {
			t.Errorf("outcome %d reason = %q", i, o.Reason)
		}
		if res.Value.Values[i] != 1.0 {
			t.Errorf("value[%d] = %v, want 1.0", i, res.Value.Values[i])
		}
	}
	if !strings.Contains(buf.String(), "period skipped") {
		t.Errorf("log output missing skip warning: %s", buf.String())
	}
}

func TestNewWarnsOnGaps(t *testing.T) {
	dates := weekdays(date(2024, 1, 1), date(2024, 1, 31))
	cols := [][]float64{make([]float64, len(dates))}
	for i := range dates {
		cols[0][i] = 100
	}
	cols[0][5] = math.NaN()
	tbl, err := domain.NewPriceTable(dates, []string{"GAP"}, cols)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if _, err := New(tbl, DefaultConfig(), WithLogger(slog.New(slog.NewTextHandler(&buf, nil)))); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "interior gaps") || !strings.Contains(buf.String(), "symbol=GAP") {
		t.Errorf("missing gap warning, got: %s", buf.String())
	}
}

// listedTable is geometricTable with each asset priced only inside
// [from[j], to[j]]; a zero bound is open.
func listedTable(t *testing.T, dates []time.Time, symbols []string, growth []float64, from, to []time.Time) *domain.PriceTable {
	t.Helper()
	cols := make([][]float64, len(symbols))
	for j := range symbols {
		cols[j] = make([]float64, len(dates))
		for i, d := range dates {
			if (!from[j].IsZero() && d.Before(from[j])) || (!to[j].IsZero() && d.After(to[j])) {
				cols[j][i] = math.NaN()
				continue
			}
			cols[j][i] = 100 * math.Pow(growth[j], float64(i))
		}
	}
	tbl, err := domain.NewPriceTable(dates, symbols, cols)
	if err != nil {
		t.Fatalf("NewPriceTable: %v", err)
	}
	return tbl
}

// assertPrefix checks that the first len(short.Outcomes) rows of long match
// short exactly.
func assertPrefix(t *testing.T, long, short *Result) {
	t.Helper()
	if len(long.Outcomes) < len(short.Outcomes) {
		t.Fatalf("longer run has %d outcomes, shorter has %d", len(long.Outcomes), len(short.Outcomes))
	}
	for i := range short.Outcomes {
		d := short.Outcomes[i].Date.Format(time.DateOnly)
		if !reflect.DeepEqual(long.Weights.Rows[i], short.Weights.Rows[i]) {
			t.Errorf("%s: weights = %v, want %v", d, long.Weights.Rows[i], short.Weights.Rows[i])
		}
		if !reflect.DeepEqual(long.Outcomes[i], short.Outcomes[i]) {
			t.Errorf("%s: outcome = %+v, want %+v", d, long.Outcomes[i], short.Outcomes[i])
		}
		if long.Value.Values[i] != short.Value.Values[i] {
			t.Errorf("%s: value = %v, want %v", d, long.Value.Values[i], short.Value.Values[i])
		}
	}
}

func TestRunDelistedHolding(t *testing.T) {
	delisted := date(2024, 2, 29)
	cfg := monthlyConfig(1)
	cfg.FillTolerance = 5 * 24 * time.Hour
	open := time.Time{}

	dates := weekdays(date(2023, 1, 2), date(2024, 4, 30))
	tbl := listedTable(t, dates, []string{"A", "B"}, []float64{1.002, 0.999},
		[]time.Time{open, open}, []time.Time{delisted, open})
	e, err := New(tbl, cfg)
	if err != nil {
		t.Fatal(err)
	}
	res := e.Run()

	wantDates := []time.Time{date(2024, 1, 31), date(2024, 2, 29), date(2024, 3, 29), date(2024, 4, 30)}
	if !reflect.DeepEqual(res.Value.Dates, wantDates) {
		t.Fatalf("Value.Dates = %v, want %v", res.Value.Dates, wantDates)
	}
	feb := res.Outcomes[1]
	if feb.Status != StatusActive || !reflect.DeepEqual(feb.Selection, []string{"A"}) {
		t.Errorf("2024-02-29 outcome = %+v, want active {A}", feb)
	}
	if !reflect.DeepEqual(res.Weights.Rows[1], []float64{1, 0}) {
		t.Errorf("2024-02-29 weights = %v, want [1 0]", res.Weights.Rows[1])
	}
	if r := res.Outcomes[2].PeriodReturn; r != 0 {
		t.Errorf("return into 2024-03-29 = %v, want 0", r)
	}
	if res.Value.Values[2] != res.Value.Values[1] {
		t.Errorf("value after delisting = %v, want %v", res.Value.Values[2], res.Value.Values[1])
	}
	if n := res.Skipped(); n != 0 {
		t.Errorf("Skipped = %d, want 0", n)
	}

	// Dropping every price after the February decision must not change it.
	cut := weekdays(date(2023, 1, 2), delisted)
	short, err := New(listedTable(t, cut, []string{"A", "B"}, []float64{1.002, 0.999},
		[]time.Time{open, open}, []time.Time{delisted, open}), cfg)
	if err != nil {
		t.Fatal(err)
	}
	assertPrefix(t, res, short.Run())
}

func TestRunStaggeredListings(t *testing.T) {
	// A trades only in early 2022; B lists in June 2023. Between them no
	// asset has a fresh long window.
	cfg := monthlyConfig(1)
	cfg.FillTolerance = 5 * 24 * time.Hour
	listed := date(2023, 6, 1)
	firstActive := date(2024, 6, 28)

	dates := weekdays(date(2022, 1, 3), date(2024, 9, 30))
	symbols := []string{"A", "B"}
	growth := []float64{1.001, 1.001}
	from := []time.Time{{}, listed}
	to := []time.Time{date(2022, 3, 31), {}}
	tbl := listedTable(t, dates, symbols, growth, from, to)

	e, err := New(tbl, cfg)
	if err != nil {
		t.Fatal(err)
	}
	res := e.Run()
	if res.Value.Len() == 0 || !res.Value.Dates[0].Equal(date(2023, 1, 31)) {
		t.Fatalf("Value.Dates = %v, want first 2023-01-31", res.Value.Dates)
	}

	active := 0
	for i, o := range res.Outcomes {
		d := o.Date.Format(time.DateOnly)
		if o.Date.Before(firstActive) {
			if o.Status != StatusSkipped || !strings.Contains(o.Reason, "long lookback") {
				t.Errorf("%s: outcome = %+v, want skipped on long lookback", d, o)
			}
			if s := sum(res.Weights.Rows[i]); s != 0 {
				t.Errorf("%s: weight sum = %v, want 0", d, s)
			}
			if o.PeriodReturn != 0 || res.Value.Values[i] != 1.0 {
				t.Errorf("%s: return %v value %v, want 0 and 1.0", d, o.PeriodReturn, res.Value.Values[i])
			}
			continue
		}
		active++
		if o.Status != StatusActive || !reflect.DeepEqual(o.Selection, []string{"B"}) {
			t.Errorf("%s: outcome = %+v, want active {B}", d, o)
		}
		if w := res.Weights.Weight(i, "B"); w != 1 {
			t.Errorf("%s: w(B) = %v, want 1", d, w)
		}
		if i > 0 && res.Outcomes[i-1].Status == StatusActive && res.Value.Values[i] <= res.Value.Values[i-1] {
			t.Errorf("%s: value %v did not grow from %v", d, res.Value.Values[i], res.Value.Values[i-1])
		}
	}
	if active != 4 {
		t.Errorf("%d active dates, want 4 (2024-06 to 2024-09)", active)
	}
	if got, want := res.Skipped(), len(res.Outcomes)-4; got != want {
		t.Errorf("Skipped = %d, want %d", got, want)
	}

	// Later data never rewrites earlier rows.
	cut := weekdays(date(2022, 1, 3), date(2024, 7, 31))
	short, err := New(listedTable(t, cut, symbols, growth, from, to), cfg)
	if err != nil {
		t.Fatal(err)
	}
	assertPrefix(t, res, short.Run())
}
