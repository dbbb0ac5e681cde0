package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	_ "github.com/marcboeker/go-duckdb"

	"nifty-etl/internal/ohlcv"
)

const (
	tableExistsSQL = `SELECT COUNT(*) FROM information_schema.tables WHERE table_name = ?;`
	listTablesSQL  = `SELECT table_name FROM information_schema.tables WHERE starts_with(table_name, ?) ORDER BY table_name;`
)

// barColumns is the explicit DuckDB schema used when a table is built from
// in-memory rows.
var barColumns = []struct {
	name    string
	sqlType string
}{
	{"Date", "DATE"},
	{string(ohlcv.Open), "DOUBLE"},
	{string(ohlcv.High), "DOUBLE"},
	{string(ohlcv.Low), "DOUBLE"},
	{string(ohlcv.Close), "DOUBLE"},
	{string(ohlcv.AdjClose), "DOUBLE"},
	{string(ohlcv.Volume), "BIGINT"},
}

// TableInfo is one DuckDB table and its row count.
type TableInfo struct {
	Name string
	Rows int64
}

// DuckDB wraps the analytical store. A single connection is used for the
// lifetime of the value.
type DuckDB struct {
	db *sql.DB
}

// OpenDuckDB opens (creating if needed) the database file at path.
func OpenDuckDB(ctx context.Context, path string) (*DuckDB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open duckdb %s: %w", path, err)
	}
	return &DuckDB{db: db}, nil
}

// Close releases the database.
func (d *DuckDB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// DropTable removes a table if present.
func (d *DuckDB) DropTable(ctx context.Context, name string) error {
	if _, err := d.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)+";"); err != nil {
		return fmt.Errorf("drop table %s: %w", name, err)
	}
	return nil
}

// CreateFromParquet creates name from a parquet file unless it already exists.
func (d *DuckDB) CreateFromParquet(ctx context.Context, name, parquetPath string) error {
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s AS SELECT * FROM read_parquet(%s);",
		quoteIdent(name), quoteLiteral(parquetPath))
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create %s from parquet: %w", name, err)
	}
	return nil
}

// CreateFromRows creates name with the explicit bar schema and loads t in one
// transaction. An existing table is left untouched.
func (d *DuckDB) CreateFromRows(ctx context.Context, name string, t *ohlcv.Table) error {
	exists, err := d.tableExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	cols := make([]string, len(barColumns))
	marks := make([]string, len(barColumns))
	for i, c := range barColumns {
		cols[i] = quoteIdent(c.name) + " " + c.sqlType
		marks[i] = "?"
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin load %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	create := fmt.Sprintf("CREATE TABLE %s (%s);", quoteIdent(name), strings.Join(cols, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}

	insert, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s);", quoteIdent(name), strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("prepare insert %s: %w", name, err)
	}
	defer insert.Close()

	for _, b := range t.Normalize().Bars {
		var volume any
		if v := volumePtr(b.Volume); v != nil {
			volume = *v
		}
		if _, err := insert.ExecContext(ctx, b.Date,
			nullable(b.Open), nullable(b.High), nullable(b.Low),
			nullable(b.Close), nullable(b.AdjClose), volume,
		); err != nil {
			return fmt.Errorf("insert into %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit load %s: %w", name, err)
	}
	return nil
}

// CountRows returns the number of rows in a table.
func (d *DuckDB) CountRows(ctx context.Context, name string) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(name)+";").Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows of %s: %w", name, err)
	}
	return n, nil
}

// ReadTable loads a bar table back into memory, ordered by date.
func (d *DuckDB) ReadTable(ctx context.Context, name string) (*ohlcv.Table, error) {
	cols := make([]string, len(barColumns))
	for i, c := range barColumns {
		cols[i] = quoteIdent(c.name)
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s;", strings.Join(cols, ", "), quoteIdent(name), quoteIdent("Date"))

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	defer rows.Close()

	bars := make([]ohlcv.Bar, 0)
	for rows.Next() {
		var (
			b      ohlcv.Bar
			date   time.Time
			volume null.Int
		)
		if err := rows.Scan(&date, &b.Open, &b.High, &b.Low, &b.Close, &b.AdjClose, &volume); err != nil {
			return nil, fmt.Errorf("scan %s: %w", name, err)
		}
		b.Date = ohlcv.DateOnly(date)
		if volume.Valid {
			b.Volume = null.FloatFrom(float64(volume.Int64))
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ohlcv.NewTable(bars, ohlcv.Columns...), nil
}

// ListTables lists tables whose name starts with prefix, with row counts.
func (d *DuckDB) ListTables(ctx context.Context, prefix string) ([]TableInfo, error) {
	rows, err := d.db.QueryContext(ctx, listTablesSQL, prefix)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]TableInfo, 0, len(names))
	for _, name := range names {
		n, err := d.CountRows(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, TableInfo{Name: name, Rows: n})
	}
	return out, nil
}

func (d *DuckDB) tableExists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, tableExistsSQL, name).Scan(&n); err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}

func nullable(v null.Float) any {
	if !v.Valid {
		return nil
	}
	return v.Float64
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
