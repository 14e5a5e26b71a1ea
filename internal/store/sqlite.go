package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"etfmomentum/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at     TEXT NOT NULL,
			strategy       TEXT NOT NULL,
			frequency      TEXT NOT NULL,
			top_n          INTEGER NOT NULL,
			short_lookback INTEGER NOT NULL,
			long_lookback  INTEGER NOT NULL,
			symbols        TEXT NOT NULL,
			benchmark      TEXT NOT NULL DEFAULT '',
			skipped        INTEGER NOT NULL DEFAULT 0,
			start_date     TEXT,
			end_date       TEXT,
			final_value    REAL,
			total_return   REAL,
			cagr           REAL,
			volatility     REAL,
			sharpe         REAL,
			max_drawdown   REAL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

		CREATE TABLE IF NOT EXISTS run_values (
			run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq    INTEGER NOT NULL,
			date   TEXT NOT NULL,
			value  REAL NOT NULL,
			PRIMARY KEY (run_id, seq)
		);

		CREATE TABLE IF NOT EXISTS run_weights (
			run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq    INTEGER NOT NULL,
			date   TEXT NOT NULL,
			symbol TEXT NOT NULL,
			weight REAL NOT NULL,
			PRIMARY KEY (run_id, seq, symbol)
		);
	`)
	return err
}

// nullable maps NaN and infinities to SQL NULL.
func nullable(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func fromNull(n sql.NullFloat64) float64 {
	if !n.Valid {
		return math.NaN()
	}
	return n.Float64
}

func formatDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.DateOnly)
}

func parseDate(n sql.NullString) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	t, _ := time.Parse(time.DateOnly, n.String)
	return t
}

// SaveRun inserts the run, its value series and its non-zero weights in one
// transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	sum := run.Summary
	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (created_at, strategy, frequency, top_n, short_lookback, long_lookback,
			symbols, benchmark, skipped, start_date, end_date,
			final_value, total_return, cagr, volatility, sharpe, max_drawdown)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		created.Format(time.RFC3339Nano), run.Strategy, run.Frequency, run.TopN,
		run.ShortLookback, run.LongLookback, strings.Join(run.Symbols, ","), run.Benchmark,
		run.Skipped, formatDate(sum.Start), formatDate(sum.End),
		nullable(sum.FinalValue), nullable(sum.TotalReturn), nullable(sum.CAGR),
		nullable(sum.Volatility), nullable(sum.Sharpe), nullable(sum.MaxDrawdown),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	valStmt, err := tx.PrepareContext(ctx, `INSERT INTO run_values (run_id, seq, date, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer valStmt.Close()
	for i, v := range run.Value.Values {
		if _, err := valStmt.ExecContext(ctx, id, i, run.Value.Dates[i].Format(time.DateOnly), v); err != nil {
			return 0, fmt.Errorf("insert value %d: %w", i, err)
		}
	}

	wStmt, err := tx.PrepareContext(ctx, `INSERT INTO run_weights (run_id, seq, date, symbol, weight) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer wStmt.Close()
	for i, row := range run.Weights.Rows {
		for j, w := range row {
			if w == 0 {
				continue
			}
			if _, err := wStmt.ExecContext(ctx, id, i, run.Weights.Dates[i].Format(time.DateOnly), run.Weights.Assets[j], w); err != nil {
				return 0, fmt.Errorf("insert weight %d/%s: %w", i, run.Weights.Assets[j], err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	run.ID = id
	run.CreatedAt = created
	return id, nil
}

const runColumns = `id, created_at, strategy, frequency, top_n, short_lookback, long_lookback,
	symbols, benchmark, skipped, start_date, end_date,
	final_value, total_return, cagr, volatility, sharpe, max_drawdown`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(sc rowScanner) (*RunRecord, error) {
	var (
		r                                    RunRecord
		created, symbols                     string
		start, end                           sql.NullString
		final, total, cagr, vol, sharpe, mdd sql.NullFloat64
	)
	if err := sc.Scan(&r.ID, &created, &r.Strategy, &r.Frequency, &r.TopN, &r.ShortLookback,
		&r.LongLookback, &symbols, &r.Benchmark, &r.Skipped, &start, &end,
		&final, &total, &cagr, &vol, &sharpe, &mdd); err != nil {
		return nil, err
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if symbols != "" {
		r.Symbols = strings.Split(symbols, ",")
	}
	r.Summary.Start = parseDate(start)
	r.Summary.End = parseDate(end)
	r.Summary.FinalValue = fromNull(final)
	r.Summary.TotalReturn = fromNull(total)
	r.Summary.CAGR = fromNull(cagr)
	r.Summary.Volatility = fromNull(vol)
	r.Summary.Sharpe = fromNull(sharpe)
	r.Summary.MaxDrawdown = fromNull(mdd)
	return &r, nil
}

// GetRun loads a run with its value series and weight history. Weight
// columns follow the run's symbol order.
func (s *SQLiteStore) GetRun(ctx context.Context, id int64) (*RunRecord, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %d: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT date, value FROM run_values WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	run.Value = domain.Series{Dates: []time.Time{}, Values: []float64{}}
	for rows.Next() {
		var d string
		var v float64
		if err := rows.Scan(&d, &v); err != nil {
			return nil, err
		}
		t, _ := time.Parse(time.DateOnly, d)
		run.Value.Dates = append(run.Value.Dates, t)
		run.Value.Values = append(run.Value.Values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Weight rows share the value series dates; only non-zero cells are stored.
	col := make(map[string]int, len(run.Symbols))
	for j, sym := range run.Symbols {
		col[sym] = j
	}
	run.Weights = domain.WeightHistory{
		Assets: append([]string(nil), run.Symbols...),
		Dates:  append([]time.Time(nil), run.Value.Dates...),
		Rows:   make([][]float64, len(run.Value.Dates)),
	}
	for i := range run.Weights.Rows {
		run.Weights.Rows[i] = make([]float64, len(run.Symbols))
	}

	wrows, err := s.db.QueryContext(ctx, `SELECT seq, symbol, weight FROM run_weights WHERE run_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer wrows.Close()
	for wrows.Next() {
		var (
			seq int
			sym string
			w   float64
		)
		if err := wrows.Scan(&seq, &sym, &w); err != nil {
			return nil, err
		}
		j, ok := col[sym]
		if !ok || seq < 0 || seq >= len(run.Weights.Rows) {
			continue
		}
		run.Weights.Rows[seq][j] = w
	}
	return run, wrows.Err()
}

// ListRuns returns up to limit runs, newest first. Series are not loaded.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
