package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// DBFileName is the DuckDB file created under the output base.
const DBFileName = "nifty.duckdb"

// Paths are the output locations of one run.
type Paths struct {
	Base       string
	ParquetDir string
	HTMLDir    string
	DBPath     string
}

// EnsureDirs creates base, base/parquet and base/html and returns the absolute
// layout. The DuckDB file itself is created on open.
func EnsureDirs(base string) (Paths, error) {
	if base == "" {
		base = "data"
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return Paths{}, fmt.Errorf("resolve output base: %w", err)
	}
	p := Paths{
		Base:       abs,
		ParquetDir: filepath.Join(abs, "parquet"),
		HTMLDir:    filepath.Join(abs, "html"),
		DBPath:     filepath.Join(abs, DBFileName),
	}
	for _, dir := range []string{p.Base, p.ParquetDir, p.HTMLDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Paths{}, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return p, nil
}

// ParquetFile returns the parquet path for a ticker.
func (p Paths) ParquetFile(safeTicker string) string {
	return filepath.Join(p.ParquetDir, safeTicker+".parquet")
}
