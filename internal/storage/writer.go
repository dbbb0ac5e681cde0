package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"nifty-etl/internal/ohlcv"
)

// DefaultPrefix is the table-name prefix used when none is configured.
const DefaultPrefix = "nifty"

// Writer persists per-ticker tables as parquet files and DuckDB tables.
type Writer struct {
	paths  Paths
	prefix string
	duck   *DuckDB
	logger zerolog.Logger
}

// NewWriter binds a writer to an open DuckDB and the run's paths.
func NewWriter(duck *DuckDB, paths Paths, prefix string, logger zerolog.Logger) *Writer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Writer{
		paths:  paths,
		prefix: prefix,
		duck:   duck,
		logger: logger.With().Str("component", "storage_writer").Logger(),
	}
}

// Persist writes every table and returns ticker -> DuckDB table name. Every
// ticker is present in the result even if its writes failed; failures are
// logged.
func (w *Writer) Persist(ctx context.Context, tables map[string]*ohlcv.Table, overwrite bool) map[string]string {
	tickers := make([]string, 0, len(tables))
	for ticker := range tables {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	out := make(map[string]string, len(tables))
	for _, ticker := range tickers {
		out[ticker] = w.persistOne(ctx, ticker, tables[ticker], overwrite)
	}
	return out
}

func (w *Writer) persistOne(ctx context.Context, ticker string, t *ohlcv.Table, overwrite bool) string {
	safe := ohlcv.SafeTicker(ticker)
	name := ohlcv.TableName(w.prefix, ticker)
	file := w.paths.ParquetFile(safe)
	log := w.logger.With().Str("ticker", ticker).Str("table", name).Logger()

	if t == nil {
		t = ohlcv.Empty()
	}

	_, statErr := os.Stat(file)
	switch {
	case statErr == nil && !overwrite:
		log.Debug().Str("file", file).Msg("keeping existing parquet")
	case statErr != nil && !errors.Is(statErr, fs.ErrNotExist):
		log.Warn().Err(statErr).Msg("stat parquet failed")
		fallthrough
	default:
		if err := WriteParquet(file, t); err != nil {
			log.Warn().Err(err).Msg("parquet write failed")
		}
	}

	if overwrite {
		if err := w.duck.DropTable(ctx, name); err != nil {
			log.Warn().Err(err).Msg("drop table failed")
		}
	}
	if err := w.duck.CreateFromParquet(ctx, name, file); err != nil {
		log.Warn().Err(err).Msg("parquet load failed; loading rows directly")
		if err := w.duck.CreateFromRows(ctx, name, t); err != nil {
			log.Error().Err(err).Msg("table load failed")
		}
	}
	return name
}
