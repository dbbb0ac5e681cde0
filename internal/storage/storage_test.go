package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-etl/internal/ohlcv"
)

func sampleTable(n int) *ohlcv.Table {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]ohlcv.Bar, n)
	for i := range bars {
		p := null.FloatFrom(100 + float64(i))
		bars[i] = ohlcv.Bar{
			Date: base.AddDate(0, 0, i), Open: p, High: p, Low: p, Close: p, AdjClose: p,
			Volume: null.FloatFrom(float64(1000 * (i + 1))),
		}
	}
	if n > 1 {
		bars[1].High = null.Float{}
		bars[1].Volume = null.Float{}
	}
	return ohlcv.NewTable(bars, ohlcv.Columns...)
}

func testPaths(t *testing.T) Paths {
	t.Helper()
	p, err := EnsureDirs(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	return p
}

func TestEnsureDirs(t *testing.T) {
	p := testPaths(t)
	for _, dir := range []string{p.Base, p.ParquetDir, p.HTMLDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	assert.True(t, filepath.IsAbs(p.DBPath))
	assert.Equal(t, DBFileName, filepath.Base(p.DBPath))
	assert.Equal(t, filepath.Join(p.ParquetDir, "TCS_NS.parquet"), p.ParquetFile("TCS_NS"))
}

func TestParquetRoundTrip(t *testing.T) {
	file := filepath.Join(t.TempDir(), "X.parquet")
	in := sampleTable(4)
	require.NoError(t, WriteParquet(file, in))

	out, err := ReadParquet(file)
	require.NoError(t, err)
	require.Equal(t, 4, out.Len())
	assert.Equal(t, in.Dates(), out.Dates())
	assert.Equal(t, in.Series(ohlcv.Close), out.Series(ohlcv.Close))
	assert.False(t, out.Bars[1].High.Valid)
	assert.False(t, out.Bars[1].Volume.Valid)
	assert.Equal(t, 3000.0, out.Bars[2].Volume.Float64)
}

func TestParquetEmptyTable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "E.parquet")
	require.NoError(t, WriteParquet(file, ohlcv.Empty()))
	out, err := ReadParquet(file)
	require.NoError(t, err)
	assert.Zero(t, out.Len())
}

func TestWriterPersistRoundTrip(t *testing.T) {
	ctx := context.Background()
	paths := testPaths(t)
	duck, err := OpenDuckDB(ctx, paths.DBPath)
	require.NoError(t, err)
	defer duck.Close()

	w := NewWriter(duck, paths, "", zerolog.Nop())
	tables := map[string]*ohlcv.Table{
		"RELIANCE.NS":   sampleTable(5),
		"bajaj-auto.ns": ohlcv.Empty(),
	}
	got := w.Persist(ctx, tables, false)

	assert.Equal(t, map[string]string{
		"RELIANCE.NS":   "nifty_RELIANCE_NS",
		"bajaj-auto.ns": "nifty_BAJAJ_AUTO_NS",
	}, got)
	assert.FileExists(t, paths.ParquetFile("RELIANCE_NS"))
	assert.FileExists(t, paths.ParquetFile("BAJAJ_AUTO_NS"))

	n, err := duck.CountRows(ctx, "nifty_RELIANCE_NS")
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	n, err = duck.CountRows(ctx, "nifty_BAJAJ_AUTO_NS")
	require.NoError(t, err)
	assert.Zero(t, n)

	back, err := duck.ReadTable(ctx, "nifty_RELIANCE_NS")
	require.NoError(t, err)
	assert.Equal(t, tables["RELIANCE.NS"].Dates(), back.Dates())
	assert.False(t, back.Bars[1].Volume.Valid)

	infos, err := duck.ListTables(ctx, "nifty_")
	require.NoError(t, err)
	assert.Len(t, infos, 2)
}

func TestWriterKeepsExistingWithoutOverwrite(t *testing.T) {
	ctx := context.Background()
	paths := testPaths(t)
	duck, err := OpenDuckDB(ctx, paths.DBPath)
	require.NoError(t, err)
	defer duck.Close()

	w := NewWriter(duck, paths, "nifty", zerolog.Nop())
	w.Persist(ctx, map[string]*ohlcv.Table{"TCS.NS": sampleTable(3)}, false)
	w.Persist(ctx, map[string]*ohlcv.Table{"TCS.NS": sampleTable(6)}, false)

	n, err := duck.CountRows(ctx, "nifty_TCS_NS")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n, "existing table and file are kept")

	w.Persist(ctx, map[string]*ohlcv.Table{"TCS.NS": sampleTable(6)}, true)
	n, err = duck.CountRows(ctx, "nifty_TCS_NS")
	require.NoError(t, err)
	assert.EqualValues(t, 6, n, "overwrite replaces the table")
}

func TestCreateFromRowsFallback(t *testing.T) {
	ctx := context.Background()
	duck, err := OpenDuckDB(ctx, filepath.Join(t.TempDir(), "f.duckdb"))
	require.NoError(t, err)
	defer duck.Close()

	err = duck.CreateFromParquet(ctx, "nifty_MISSING", filepath.Join(t.TempDir(), "nope.parquet"))
	require.Error(t, err)

	require.NoError(t, duck.CreateFromRows(ctx, "nifty_MISSING", sampleTable(3)))
	require.NoError(t, duck.CreateFromRows(ctx, "nifty_MISSING", sampleTable(3)), "existing table is left alone")

	n, err := duck.CountRows(ctx, "nifty_MISSING")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestListTablesMatchesLiteralPrefix(t *testing.T) {
	ctx := context.Background()
	duck, err := OpenDuckDB(ctx, filepath.Join(t.TempDir(), "l.duckdb"))
	require.NoError(t, err)
	defer duck.Close()

	for _, name := range []string{"nifty_TCS_NS", "niftyX_TCS_NS", "other_TCS_NS"} {
		require.NoError(t, duck.CreateFromRows(ctx, name, sampleTable(2)))
	}

	infos, err := duck.ListTables(ctx, "nifty_")
	require.NoError(t, err)
	require.Len(t, infos, 1, "underscore is not a wildcard")
	assert.Equal(t, "nifty_TCS_NS", infos[0].Name)
	assert.EqualValues(t, 2, infos[0].Rows)
}

func TestStoreNotConfigured(t *testing.T) {
	var s *Store
	_, err := s.UpsertBars(context.Background(), "run", "X", sampleTable(1))
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = s.ListRecentRuns(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, _, err = s.TryAdvisoryLock(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, Migrate(nil), ErrNotConfigured)
}

func TestNumeric(t *testing.T) {
	assert.Nil(t, numeric(null.Float{}))
	assert.Equal(t, "2615.05", numeric(null.FloatFrom(2615.05)))
}
