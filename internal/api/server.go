// Package api exposes the backtester over gRPC and serves run history,
// health and Prometheus metrics over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"etfmomentum/internal/engine"
	"etfmomentum/internal/metrics"
	"etfmomentum/internal/store"
	"etfmomentum/internal/strategy"
	"etfmomentum/pkg/momentum"
)

// Server implements momentum.v1.BacktestService on top of a Backtester.
type Server struct {
	bt   *strategy.Backtester
	runs store.RunStore // nil disables saving
	base strategy.Request
	rec  *Recorder
	log  *slog.Logger
}

// NewServer creates a Server. base supplies every parameter a request
// leaves unset.
func NewServer(bt *strategy.Backtester, runs store.RunStore, base strategy.Request, rec *Recorder, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{bt: bt, runs: runs, base: base, rec: rec, log: log}
}

// Register registers the service on the given gRPC server instance.
func (s *Server) Register(gs grpc.ServiceRegistrar) {
	RegisterBacktestServer(gs, s)
}

// RunBacktest decodes the request, runs it and optionally saves the run.
func (s *Server) RunBacktest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	started := time.Now()

	req, err := momentum.RequestFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	sreq, err := s.request(req)
	if err != nil {
		s.rec.RecordRun(strategyLabel(sreq), codes.InvalidArgument.String(), 0, time.Since(started))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	rep, err := s.bt.Run(ctx, sreq)
	if err != nil {
		code := errorCode(err)
		s.rec.RecordRun(strategyLabel(sreq), code.String(), 0, time.Since(started))
		s.log.Warn("backtest failed", "code", code.String(), "error", err)
		return nil, status.Error(code, err.Error())
	}

	var id int64
	if req.Save && s.runs != nil {
		if id, err = s.runs.SaveRun(ctx, rep.Record()); err != nil {
			s.rec.RecordRun(rep.Request.Strategy, codes.Internal.String(), 0, time.Since(started))
			return nil, status.Errorf(codes.Internal, "saving run: %v", err)
		}
	}
	s.rec.RecordRun(rep.Request.Strategy, "ok", rep.Result.Skipped(), time.Since(started))
	s.log.Info("backtest served",
		"run_id", id,
		"frequency", rep.Request.Engine.Frequency.String(),
		"top_n", rep.Request.Engine.TopN,
		"elapsed", time.Since(started),
	)
	return toResponse(rep, id).ToStruct()
}

// request overlays the non-zero fields of req on the server defaults.
func (s *Server) request(req *momentum.BacktestRequest) (strategy.Request, error) {
	out := s.base
	if req.Strategy != "" {
		out.Strategy = req.Strategy
	}
	if len(req.Symbols) > 0 {
		out.Symbols = make([]string, len(req.Symbols))
		for i, sym := range req.Symbols {
			out.Symbols[i] = strings.ToUpper(strings.TrimSpace(sym))
		}
	}
	if req.Frequency != "" {
		f, err := engine.ParseFrequency(req.Frequency)
		if err != nil {
			return out, err
		}
		out.Engine.Frequency = f
	}
	if req.TopN != 0 {
		out.Engine.TopN = req.TopN
	}
	if req.ShortLookbackMonths != 0 {
		out.Engine.ShortLookbackMonths = req.ShortLookbackMonths
	}
	if req.LongLookbackMonths != 0 {
		out.Engine.LongLookbackMonths = req.LongLookbackMonths
	}
	if req.Benchmark != "" {
		out.Benchmark = strings.ToUpper(req.Benchmark)
	}

	var err error
	if req.Start != "" {
		if out.Start, err = time.Parse(time.DateOnly, req.Start); err != nil {
			return out, fmt.Errorf("start: %w", err)
		}
	}
	if req.End != "" {
		if out.End, err = time.Parse(time.DateOnly, req.End); err != nil {
			return out, fmt.Errorf("end: %w", err)
		}
	}
	if !out.End.IsZero() && out.End.Before(out.Start) {
		return out, fmt.Errorf("end %s before start %s", req.End, out.Start.Format(time.DateOnly))
	}
	return out, out.Engine.Validate()
}

func strategyLabel(r strategy.Request) string {
	if r.Strategy == "" {
		return strategy.DefaultStrategy
	}
	return r.Strategy
}

func errorCode(err error) codes.Code {
	switch {
	case errors.Is(err, engine.ErrConfig):
		return codes.InvalidArgument
	case errors.Is(err, store.ErrNoPriceData):
		return codes.NotFound
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

func toResponse(rep *strategy.Report, id int64) *momentum.BacktestResponse {
	res := rep.Result
	resp := &momentum.BacktestResponse{
		RunID:            id,
		Strategy:         rep.Request.Strategy,
		Frequency:        rep.Request.Engine.Frequency.String(),
		TopN:             rep.Request.Engine.TopN,
		Assets:           res.Assets,
		Dates:            make([]string, res.Value.Len()),
		Values:           res.Value.Values,
		Summary:          toSummary(rep.Summary),
		Benchmark:        rep.Request.Benchmark,
		BenchmarkSummary: toSummary(rep.BenchmarkSummary),
		Correlation:      rep.Correlation,
		Skipped:          res.Skipped(),
	}
	for i, d := range res.Value.Dates {
		resp.Dates[i] = d.Format(time.DateOnly)
	}
	for _, o := range res.Outcomes {
		resp.Periods = append(resp.Periods, momentum.Period{
			Date:      o.Date.Format(time.DateOnly),
			Status:    string(o.Status),
			Reason:    o.Reason,
			Selection: o.Selection,
			Return:    o.PeriodReturn,
		})
	}
	return resp
}

func toSummary(m metrics.Summary) momentum.Summary {
	return momentum.Summary{
		FinalValue:  m.FinalValue,
		TotalReturn: m.TotalReturn,
		CAGR:        m.CAGR,
		Volatility:  m.Volatility,
		Sharpe:      m.Sharpe,
		MaxDrawdown: m.MaxDrawdown,
	}
}

// ---------------------------------------------------------------------------
// Listeners
// ---------------------------------------------------------------------------

// Serve runs the gRPC and HTTP servers until ctx is cancelled or either
// fails, then shuts both down gracefully.
func Serve(ctx context.Context, gs *grpc.Server, grpcLis net.Listener, hs *http.Server, httpLis net.Listener, log *slog.Logger) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		log.Info("grpc listening", "addr", grpcLis.Addr().String())
		return gs.Serve(grpcLis)
	})
	eg.Go(func() error {
		log.Info("http listening", "addr", httpLis.Addr().String())
		if err := hs.Serve(httpLis); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		gs.GracefulStop()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return hs.Shutdown(sctx)
	})
	return eg.Wait()
}
