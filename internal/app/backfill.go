package app

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"nifty-etl/internal/ohlcv"
	"nifty-etl/internal/storage"
)

// Backfill copies the locally stored DuckDB tables into the PostgreSQL
// mirror. DuckDB reads happen on the single connection; upserts run on
// opts.Workers goroutines.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	tickers := opts.Tickers
	if len(tickers) == 0 {
		tickers = a.Config.Pipeline.Tickers
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	var bars storage.BarStore
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: nothing will be written to postgres")
	} else {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn not configured; cannot backfill")
		}
		defer closeStore()
		bars = store
	}

	paths, err := storage.EnsureDirs(a.Config.Pipeline.OutBase)
	if err != nil {
		return err
	}
	duck, err := storage.OpenDuckDB(ctx, paths.DBPath)
	if err != nil {
		return err
	}
	defer duck.Close()

	runID := "backfill-" + uuid.NewString()
	var processed, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, ticker := range tickers {
		name := ohlcv.TableName(a.Config.Pipeline.TablePrefix, ticker)
		table, err := duck.ReadTable(gctx, name)
		if err != nil {
			failed.Add(1)
			a.Logger.Error().Err(err).Str("ticker", ticker).Str("table", name).Msg("failed to read table")
			continue
		}

		if bars == nil {
			processed.Add(1)
			a.Logger.Info().Str("ticker", ticker).Int("rows", table.Len()).Msg("dry-run: would mirror rows")
			continue
		}

		g.Go(func() error {
			n, err := bars.UpsertBars(gctx, runID, ticker, table)
			if err != nil {
				failed.Add(1)
				a.Logger.Error().Err(err).Str("ticker", ticker).Msg("failed to mirror bars")
				return nil
			}
			processed.Add(1)
			a.Logger.Info().Str("ticker", ticker).Int("rows", n).Msg("bars mirrored")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.Logger.Info().
		Str("run_id", runID).
		Int64("processed", processed.Load()).
		Int64("failed", failed.Load()).
		Msg("backfill completed")
	if failed.Load() > 0 {
		return errors.New("backfill completed with failures")
	}
	return nil
}
