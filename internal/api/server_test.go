package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"etfmomentum/internal/domain"
	"etfmomentum/internal/engine"
	"etfmomentum/internal/store"
	"etfmomentum/internal/strategy"
	"etfmomentum/internal/strategy/builtins"
	"etfmomentum/pkg/momentum"
)

type fixture struct {
	client *momentum.Client
	runs   *store.SQLiteStore
	reg    *prometheus.Registry
	rec    *Recorder
}

func seed(t *testing.T, ps *store.ParquetStore) {
	t.Helper()
	growth := map[string]float64{"QQQ": 1.001, "TLT": 0.9995, "SPY": 1.0005}
	from := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
	var bars []domain.Bar
	for sym, g := range growth {
		price := 100.0
		for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
			if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
			bars = append(bars, domain.Bar{Symbol: sym, Timestamp: d, Close: price})
			price *= g
		}
	}
	if err := ps.WriteBars(context.Background(), "us", bars); err != nil {
		t.Fatal(err)
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	ps := store.NewParquetStore(dir)
	seed(t, ps)

	runs, err := store.NewSQLiteStore(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { runs.Close() })

	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)
	base := strategy.Request{
		Symbols: []string{"QQQ", "TLT"},
		Market:  "us",
		Start:   time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		Engine:  engine.DefaultConfig(),
	}
	srv := NewServer(strategy.NewBacktester(ps, builtins.NewRegistry(), nil), runs, base, rec, nil)

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	srv.Register(gs)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	return &fixture{client: momentum.NewClientFromConn(conn), runs: runs, reg: reg, rec: rec}
}

func TestRunBacktest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.client.RunBacktest(ctx, &momentum.BacktestRequest{
		TopN:      1,
		Benchmark: "spy",
		Save:      true,
	})
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}

	if resp.Frequency != "1ME" || resp.TopN != 1 || resp.Strategy != strategy.DefaultStrategy {
		t.Errorf("echoed params = %s/%d/%s", resp.Frequency, resp.TopN, resp.Strategy)
	}
	if len(resp.Values) == 0 || resp.Values[0] != 1 {
		t.Fatalf("Values = %v, want series starting at 1", resp.Values)
	}
	if len(resp.Dates) != len(resp.Values) {
		t.Errorf("%d dates for %d values", len(resp.Dates), len(resp.Values))
	}
	for _, p := range resp.Periods {
		if len(p.Selection) != 1 || p.Selection[0] != "QQQ" {
			t.Errorf("period %s selection = %v, want [QQQ]", p.Date, p.Selection)
		}
	}
	if resp.Benchmark != "SPY" || resp.BenchmarkSummary.FinalValue <= 1 {
		t.Errorf("benchmark = %s %+v", resp.Benchmark, resp.BenchmarkSummary)
	}
	if resp.RunID == 0 {
		t.Fatal("run was not saved")
	}

	run, err := f.runs.GetRun(ctx, resp.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run.TopN != 1 || run.Value.Len() != len(resp.Values) {
		t.Errorf("saved run = top_n %d, %d values", run.TopN, run.Value.Len())
	}

	if got := testutil.ToFloat64(f.rec.runs.WithLabelValues(strategy.DefaultStrategy, "ok")); got != 1 {
		t.Errorf("ok runs counter = %v, want 1", got)
	}
}

func TestRunBacktestErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *momentum.BacktestRequest
		want codes.Code
	}{
		{"bad frequency", &momentum.BacktestRequest{Frequency: "1Y"}, codes.InvalidArgument},
		{"bad top_n", &momentum.BacktestRequest{TopN: -1}, codes.InvalidArgument},
		{"bad date", &momentum.BacktestRequest{Start: "2022/01/01"}, codes.InvalidArgument},
		{"unknown strategy", &momentum.BacktestRequest{Strategy: "mean-reversion"}, codes.InvalidArgument},
		{"no data", &momentum.BacktestRequest{Symbols: []string{"ZZZZ"}}, codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.client.RunBacktest(ctx, tt.req)
			if got := status.Code(err); got != tt.want {
				t.Errorf("code = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}

	if got := testutil.ToFloat64(f.rec.runs.WithLabelValues(strategy.DefaultStrategy, "NotFound")); got != 1 {
		t.Errorf("NotFound counter = %v, want 1", got)
	}
}

func TestHTTPHandler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp, err := f.client.RunBacktest(ctx, &momentum.BacktestRequest{TopN: 2, Save: true})
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(NewHTTPHandler(f.reg, f.runs, nil))
	defer srv.Close()

	get := func(path string) (*http.Response, []byte) {
		t.Helper()
		res, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		defer res.Body.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(res.Body); err != nil {
			t.Fatal(err)
		}
		return res, []byte(buf.String())
	}

	if res, _ := get("/healthz"); res.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d", res.StatusCode)
	}

	res, body := get("/metrics")
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), "momentum_backtest_runs_total") {
		t.Errorf("/metrics = %d, body missing run counter", res.StatusCode)
	}

	res, body = get("/api/v1/runs?limit=5")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("/api/v1/runs status = %d", res.StatusCode)
	}
	var list struct {
		Runs []runJSON `json:"runs"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Runs) != 1 || list.Runs[0].ID != resp.RunID || list.Runs[0].Value != nil {
		t.Errorf("runs = %+v", list.Runs)
	}

	res, body = get("/api/v1/runs/" + strconv.FormatInt(resp.RunID, 10))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("/api/v1/runs/{id} status = %d", res.StatusCode)
	}
	var one runJSON
	if err := json.Unmarshal(body, &one); err != nil {
		t.Fatal(err)
	}
	if len(one.Value) != len(resp.Values) || len(one.Holdings) == 0 {
		t.Errorf("run detail has %d values, %d holdings", len(one.Value), len(one.Holdings))
	}

	if res, _ := get("/api/v1/runs/999"); res.StatusCode != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", res.StatusCode)
	}
	if res, _ := get("/api/v1/runs?limit=zero"); res.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", res.StatusCode)
	}
}
