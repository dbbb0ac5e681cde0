package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"nifty-etl/internal/storage"
)

// Show prints the DuckDB tables with row counts, or with opts.Runs the most
// recent data-quality verdicts recorded in PostgreSQL.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.Runs {
		return a.showRuns(ctx, opts.Limit)
	}
	return a.showTables(ctx)
}

func (a *App) showTables(ctx context.Context) error {
	paths, err := storage.EnsureDirs(a.Config.Pipeline.OutBase)
	if err != nil {
		return err
	}
	duck, err := storage.OpenDuckDB(ctx, paths.DBPath)
	if err != nil {
		return err
	}
	defer duck.Close()

	tables, err := duck.ListTables(ctx, a.Config.Pipeline.TablePrefix+"_")
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		fmt.Fprintf(a.Out, "no tables found in %s\n", paths.DBPath)
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Table\tRows")
	for _, t := range tables {
		fmt.Fprintf(writer, "%s\t%d\n", t.Name, t.Rows)
	}
	return writer.Flush()
}

func (a *App) showRuns(ctx context.Context, limit int) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show dq runs")
	}
	defer closeStore()

	runs, err := store.ListRecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.Out, "no dq runs found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tRun\tTicker\tOutcome\tRows\tDQ\tReasons")
	for _, run := range runs {
		verdict := "FAIL"
		if run.Pass {
			verdict = "PASS"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			run.CreatedAt.UTC().Format(time.RFC3339),
			shortID(run.RunID),
			run.Ticker,
			run.Outcome,
			run.Rows,
			verdict,
			sanitizeInline(strings.Join(run.Reasons, ", ")),
		)
	}
	return writer.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
