// Package momentum is the Go SDK for the momentum backtest service. Messages
// travel as google.protobuf.Struct values so no generated code is required
// on either side.
package momentum

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "momentum.v1.BacktestService"
	// RunBacktestMethod is the full method path of RunBacktest.
	RunBacktestMethod = "/" + ServiceName + "/RunBacktest"
)

// BacktestRequest parameterises a remote backtest. Zero values fall back to
// the server's configured defaults.
type BacktestRequest struct {
	Strategy            string
	Symbols             []string
	Frequency           string
	TopN                int
	ShortLookbackMonths int
	LongLookbackMonths  int
	Start               string // YYYY-MM-DD
	End                 string // YYYY-MM-DD
	Benchmark           string
	Save                bool // persist the run on the server
}

// Summary mirrors the headline metrics of one value series.
type Summary struct {
	FinalValue  float64
	TotalReturn float64
	CAGR        float64
	Volatility  float64
	Sharpe      float64
	MaxDrawdown float64
}

// Period is the outcome of one rebalance date.
type Period struct {
	Date      string
	Status    string
	Reason    string
	Selection []string
	Return    float64
}

// BacktestResponse carries the result of a remote backtest.
type BacktestResponse struct {
	RunID            int64 // 0 when the run was not saved
	Strategy         string
	Frequency        string
	TopN             int
	Assets           []string
	Dates            []string
	Values           []float64
	Summary          Summary
	Benchmark        string
	BenchmarkSummary Summary
	Correlation      float64
	Skipped          int
	Periods          []Period
}

// ---------------------------------------------------------------------------
// Struct encoding
// ---------------------------------------------------------------------------

func stringList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// number keeps NaN out of the wire format; null decodes back to NaN.
func number(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func summaryMap(s Summary) map[string]any {
	return map[string]any{
		"final_value":  number(s.FinalValue),
		"total_return": number(s.TotalReturn),
		"cagr":         number(s.CAGR),
		"volatility":   number(s.Volatility),
		"sharpe":       number(s.Sharpe),
		"max_drawdown": number(s.MaxDrawdown),
	}
}

// ToStruct encodes the request.
func (r *BacktestRequest) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"strategy":              r.Strategy,
		"symbols":               stringList(r.Symbols),
		"frequency":             r.Frequency,
		"top_n":                 r.TopN,
		"short_lookback_months": r.ShortLookbackMonths,
		"long_lookback_months":  r.LongLookbackMonths,
		"start":                 r.Start,
		"end":                   r.End,
		"benchmark":             r.Benchmark,
		"save":                  r.Save,
	})
}

// RequestFromStruct decodes a request. Absent fields stay zero.
func RequestFromStruct(s *structpb.Struct) (*BacktestRequest, error) {
	f := fields{s.GetFields()}
	r := &BacktestRequest{
		Strategy:  f.str("strategy"),
		Symbols:   f.strs("symbols"),
		Frequency: f.str("frequency"),
		Start:     f.str("start"),
		End:       f.str("end"),
		Benchmark: f.str("benchmark"),
		Save:      f.boolean("save"),
	}
	var err error
	if r.TopN, err = f.integer("top_n"); err != nil {
		return nil, err
	}
	if r.ShortLookbackMonths, err = f.integer("short_lookback_months"); err != nil {
		return nil, err
	}
	if r.LongLookbackMonths, err = f.integer("long_lookback_months"); err != nil {
		return nil, err
	}
	return r, nil
}

// ToStruct encodes the response.
func (r *BacktestResponse) ToStruct() (*structpb.Struct, error) {
	values := make([]any, len(r.Values))
	for i, v := range r.Values {
		values[i] = number(v)
	}
	periods := make([]any, len(r.Periods))
	for i, p := range r.Periods {
		periods[i] = map[string]any{
			"date":      p.Date,
			"status":    p.Status,
			"reason":    p.Reason,
			"selection": stringList(p.Selection),
			"return":    number(p.Return),
		}
	}
	return structpb.NewStruct(map[string]any{
		"run_id":            float64(r.RunID),
		"strategy":          r.Strategy,
		"frequency":         r.Frequency,
		"top_n":             r.TopN,
		"assets":            stringList(r.Assets),
		"dates":             stringList(r.Dates),
		"values":            values,
		"summary":           summaryMap(r.Summary),
		"benchmark":         r.Benchmark,
		"benchmark_summary": summaryMap(r.BenchmarkSummary),
		"correlation":       number(r.Correlation),
		"skipped":           r.Skipped,
		"periods":           periods,
	})
}

// ResponseFromStruct decodes a response.
func ResponseFromStruct(s *structpb.Struct) (*BacktestResponse, error) {
	f := fields{s.GetFields()}
	r := &BacktestResponse{
		RunID:            int64(f.num("run_id")),
		Strategy:         f.str("strategy"),
		Frequency:        f.str("frequency"),
		Assets:           f.strs("assets"),
		Dates:            f.strs("dates"),
		Values:           f.nums("values"),
		Summary:          f.summary("summary"),
		Benchmark:        f.str("benchmark"),
		BenchmarkSummary: f.summary("benchmark_summary"),
		Correlation:      f.num("correlation"),
	}
	var err error
	if r.TopN, err = f.integer("top_n"); err != nil {
		return nil, err
	}
	if r.Skipped, err = f.integer("skipped"); err != nil {
		return nil, err
	}
	if len(r.Dates) != len(r.Values) {
		return nil, fmt.Errorf("response has %d dates but %d values", len(r.Dates), len(r.Values))
	}
	for _, v := range f.list("periods") {
		pf := fields{v.GetStructValue().GetFields()}
		r.Periods = append(r.Periods, Period{
			Date:      pf.str("date"),
			Status:    pf.str("status"),
			Reason:    pf.str("reason"),
			Selection: pf.strs("selection"),
			Return:    pf.num("return"),
		})
	}
	return r, nil
}

// ---------------------------------------------------------------------------
// Struct decoding helpers
// ---------------------------------------------------------------------------

type fields struct{ m map[string]*structpb.Value }

func (f fields) str(k string) string { return f.m[k].GetStringValue() }

func (f fields) boolean(k string) bool { return f.m[k].GetBoolValue() }

func (f fields) list(k string) []*structpb.Value { return f.m[k].GetListValue().GetValues() }

// num returns NaN for null or absent numbers.
func (f fields) num(k string) float64 {
	return toFloat(f.m[k])
}

func toFloat(v *structpb.Value) float64 {
	if n, ok := v.GetKind().(*structpb.Value_NumberValue); ok {
		return n.NumberValue
	}
	return math.NaN()
}

func (f fields) integer(k string) (int, error) {
	v, ok := f.m[k]
	if !ok {
		return 0, nil
	}
	n, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, fmt.Errorf("field %q must be an integer", k)
	}
	return int(n.NumberValue), nil
}

func (f fields) strs(k string) []string {
	vals := f.list(k)
	if len(vals) == 0 {
		return nil
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = v.GetStringValue()
	}
	return out
}

func (f fields) nums(k string) []float64 {
	vals := f.list(k)
	if len(vals) == 0 {
		return nil
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = toFloat(v)
	}
	return out
}

func (f fields) summary(k string) Summary {
	sf := fields{f.m[k].GetStructValue().GetFields()}
	return Summary{
		FinalValue:  sf.num("final_value"),
		TotalReturn: sf.num("total_return"),
		CAGR:        sf.num("cagr"),
		Volatility:  sf.num("volatility"),
		Sharpe:      sf.num("sharpe"),
		MaxDrawdown: sf.num("max_drawdown"),
	}
}
