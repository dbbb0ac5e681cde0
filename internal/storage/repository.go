package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/guregu/null/v6"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"nifty-etl/internal/ohlcv"
)

// DefaultRunLimit bounds ListRecentRuns when no positive limit is given.
const DefaultRunLimit = 20

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertBarSQL = `INSERT INTO daily_bars (
        ticker,
        trade_date,
        open,
        high,
        low,
        close,
        adj_close,
        volume,
        run_id
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (ticker, trade_date) DO UPDATE
    SET
        open       = EXCLUDED.open,
        high       = EXCLUDED.high,
        low        = EXCLUDED.low,
        close      = EXCLUDED.close,
        adj_close  = EXCLUDED.adj_close,
        volume     = EXCLUDED.volume,
        run_id     = EXCLUDED.run_id,
        updated_at = NOW();`

	insertDQRunSQL = `INSERT INTO dq_runs (
        run_id,
        ticker,
        outcome,
        row_count,
        dq_pass,
        reasons,
        report
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (run_id, ticker) DO UPDATE
    SET outcome   = EXCLUDED.outcome,
        row_count = EXCLUDED.row_count,
        dq_pass   = EXCLUDED.dq_pass,
        reasons   = EXCLUDED.reasons,
        report    = EXCLUDED.report
    RETURNING id, created_at;`

	listRecentRunsSQL = `SELECT
        id,
        run_id,
        ticker,
        outcome,
        row_count,
        dq_pass,
        reasons,
        report,
        created_at
    FROM dq_runs
    ORDER BY created_at DESC, ticker
    LIMIT $1;`

	countBarsSQL = `SELECT COUNT(*) FROM daily_bars WHERE ticker = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// BarStore mirrors daily bars into PostgreSQL.
type BarStore interface {
	UpsertBars(ctx context.Context, runID, ticker string, t *ohlcv.Table) (int, error)
	CountBars(ctx context.Context, ticker string) (int64, error)
}

// DQRunStore records data-quality verdicts.
type DQRunStore interface {
	InsertDQRun(ctx context.Context, run DQRun) (DQRun, error)
	ListRecentRuns(ctx context.Context, limit int) ([]DQRun, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL mirror of bars and DQ runs.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertBars writes every row of t for ticker in one batch and returns the
// number of rows sent. Prices are sent as decimal strings.
func (s *Store) UpsertBars(ctx context.Context, runID, ticker string, t *ohlcv.Table) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if t.IsEmpty() {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, b := range t.Bars {
		batch.Queue(upsertBarSQL,
			ticker,
			ohlcv.DateOnly(b.Date),
			numeric(b.Get(ohlcv.Open)),
			numeric(b.Get(ohlcv.High)),
			numeric(b.Get(ohlcv.Low)),
			numeric(b.Get(ohlcv.Close)),
			numeric(b.Get(ohlcv.AdjClose)),
			volumePtr(b.Volume),
			runID,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, execErr := results.Exec(); execErr != nil {
			return i, fmt.Errorf("upsert bars for %s: %w", ticker, execErr)
		}
	}
	return batch.Len(), nil
}

// CountBars counts mirrored bars for a ticker.
func (s *Store) CountBars(ctx context.Context, ticker string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countBarsSQL, ticker).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count bars: %w", scanErr)
	}
	return count, nil
}

// InsertDQRun records a verdict, replacing an earlier one for the same run and ticker.
func (s *Store) InsertDQRun(ctx context.Context, run DQRun) (DQRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return DQRun{}, err
	}

	reasons := run.Reasons
	if reasons == nil {
		reasons = []string{}
	}

	row := pool.QueryRow(ctx, insertDQRunSQL,
		run.RunID,
		run.Ticker,
		run.Outcome,
		run.Rows,
		run.Pass,
		reasons,
		[]byte(run.Report),
	)
	if scanErr := row.Scan(&run.ID, &run.CreatedAt); scanErr != nil {
		return DQRun{}, fmt.Errorf("insert dq run: %w", scanErr)
	}
	run.Reasons = reasons
	return run, nil
}

// ListRecentRuns lists the most recent verdicts, newest first.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]DQRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRunLimit
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]DQRun, 0, limit)
	for rows.Next() {
		var (
			run    DQRun
			report []byte
		)
		if err := rows.Scan(
			&run.ID,
			&run.RunID,
			&run.Ticker,
			&run.Outcome,
			&run.Rows,
			&run.Pass,
			&run.Reasons,
			&report,
			&run.CreatedAt,
		); err != nil {
			return nil, err
		}
		run.Report = report
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

func numeric(v null.Float) any {
	if !v.Valid || math.IsNaN(v.Float64) || math.IsInf(v.Float64, 0) {
		return nil
	}
	return decimal.NewFromFloat(v.Float64).String()
}

var (
	_ BarStore       = (*Store)(nil)
	_ DQRunStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
