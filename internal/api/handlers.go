package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"etfmomentum/internal/metrics"
	"etfmomentum/internal/store"
)

// NewHTTPHandler serves /metrics from gatherer, /healthz, and, when runs is
// non-nil, the saved-run history under /api/v1/runs.
func NewHTTPHandler(gatherer prometheus.Gatherer, runs store.RunStore, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, log)
	})
	if runs != nil {
		h := &runHandlers{runs: runs, log: log}
		mux.HandleFunc("GET /api/v1/runs", h.list)
		mux.HandleFunc("GET /api/v1/runs/{id}", h.get)
	}
	return mux
}

type runHandlers struct {
	runs store.RunStore
	log  *slog.Logger
}

// list returns the newest runs without their series. ?limit=N caps the
// count.
func (h *runHandlers) list(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", h.log)
			return
		}
		limit = n
	}
	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		h.log.Error("listing runs", "error", err)
		writeError(w, http.StatusInternalServerError, "listing runs failed", h.log)
		return
	}
	out := make([]runJSON, len(runs))
	for i := range runs {
		out[i] = toRunJSON(&runs[i], false)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out}, h.log)
}

// get returns one run with its value series and non-zero weights.
func (h *runHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id", h.log)
		return
	}
	run, err := h.runs.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found", h.log)
		return
	}
	if err != nil {
		h.log.Error("loading run", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "loading run failed", h.log)
		return
	}
	writeJSON(w, http.StatusOK, toRunJSON(run, true), h.log)
}

// ---------------------------------------------------------------------------
// JSON views
// ---------------------------------------------------------------------------

// summaryJSON uses pointers so undefined statistics encode as null.
type summaryJSON struct {
	FinalValue  *float64 `json:"final_value"`
	TotalReturn *float64 `json:"total_return"`
	CAGR        *float64 `json:"cagr"`
	Volatility  *float64 `json:"volatility"`
	Sharpe      *float64 `json:"sharpe"`
	MaxDrawdown *float64 `json:"max_drawdown"`
}

type pointJSON struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

type holdingJSON struct {
	Date    string             `json:"date"`
	Weights map[string]float64 `json:"weights"`
}

type runJSON struct {
	ID            int64         `json:"id"`
	CreatedAt     time.Time     `json:"created_at"`
	Strategy      string        `json:"strategy"`
	Frequency     string        `json:"frequency"`
	TopN          int           `json:"top_n"`
	ShortLookback int           `json:"short_lookback_months"`
	LongLookback  int           `json:"long_lookback_months"`
	Symbols       []string      `json:"symbols"`
	Benchmark     string        `json:"benchmark,omitempty"`
	Skipped       int           `json:"skipped"`
	Summary       summaryJSON   `json:"summary"`
	Value         []pointJSON   `json:"value,omitempty"`
	Holdings      []holdingJSON `json:"holdings,omitempty"`
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func toSummaryJSON(s metrics.Summary) summaryJSON {
	return summaryJSON{
		FinalValue:  finite(s.FinalValue),
		TotalReturn: finite(s.TotalReturn),
		CAGR:        finite(s.CAGR),
		Volatility:  finite(s.Volatility),
		Sharpe:      finite(s.Sharpe),
		MaxDrawdown: finite(s.MaxDrawdown),
	}
}

func toRunJSON(r *store.RunRecord, series bool) runJSON {
	out := runJSON{
		ID:            r.ID,
		CreatedAt:     r.CreatedAt,
		Strategy:      r.Strategy,
		Frequency:     r.Frequency,
		TopN:          r.TopN,
		ShortLookback: r.ShortLookback,
		LongLookback:  r.LongLookback,
		Symbols:       r.Symbols,
		Benchmark:     r.Benchmark,
		Skipped:       r.Skipped,
		Summary:       toSummaryJSON(r.Summary),
	}
	if !series {
		return out
	}
	for i, d := range r.Value.Dates {
		out.Value = append(out.Value, pointJSON{Date: d.Format(time.DateOnly), Value: r.Value.Values[i]})
	}
	for i, d := range r.Weights.Dates {
		h := holdingJSON{Date: d.Format(time.DateOnly), Weights: map[string]float64{}}
		for j, a := range r.Weights.Assets {
			if w := r.Weights.Rows[i][j]; w != 0 {
				h.Weights[a] = w
			}
		}
		out.Holdings = append(out.Holdings, h)
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string, log *slog.Logger) {
	writeJSON(w, code, map[string]string{"error": msg}, log)
}
