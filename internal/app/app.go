package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"nifty-etl/internal/alerting"
	"nifty-etl/internal/config"
	"nifty-etl/internal/fetcher"
	"nifty-etl/internal/report"
	"nifty-etl/internal/scheduler"
	"nifty-etl/internal/server"
	"nifty-etl/internal/service"
	"nifty-etl/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// RunOptions override pipeline settings for a single invocation. Zero values
// keep the configured setting.
type RunOptions struct {
	Tickers   []string
	Period    string
	Start     string
	End       string
	OutBase   string
	Overwrite *bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	Runs  bool
}

// ExportOptions select one stored ticker and the export targets.
type ExportOptions struct {
	Ticker    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// BackfillOptions configure mirroring of local tables into PostgreSQL.
type BackfillOptions struct {
	Tickers []string
	DryRun  bool
	Workers int
}

// Apply copies the non-zero overrides into the configuration and validates
// the result.
func (a *App) Apply(opts RunOptions) error {
	p := &a.Config.Pipeline
	if len(opts.Tickers) > 0 {
		p.Tickers = opts.Tickers
	}
	if opts.Period != "" {
		p.Period = opts.Period
	}
	if opts.Start != "" {
		p.Start = opts.Start
	}
	if opts.End != "" {
		p.End = opts.End
	}
	if opts.OutBase != "" {
		p.OutBase = opts.OutBase
	}
	if opts.Overwrite != nil {
		p.Overwrite = *opts.Overwrite
	}
	return a.Config.Validate()
}

func (a *App) newProvider() (fetcher.Provider, error) {
	cfg := a.Config.Provider
	switch cfg.Name {
	case "alpaca":
		provider, err := fetcher.NewAlpaca(fetcher.AlpacaOptions{
			APIKey:    cfg.Alpaca.APIKey,
			APISecret: cfg.Alpaca.APISecret,
			BaseURL:   cfg.Alpaca.BaseURL,
			Feed:      cfg.Alpaca.Feed,
		}, a.Logger)
		if err != nil {
			return nil, err
		}
		return provider, nil
	default:
		return fetcher.NewYahoo(fetcher.YahooOptions{
			BaseURL:   cfg.Yahoo.BaseURL,
			Timeout:   cfg.RequestTimeout,
			UserAgent: cfg.UserAgent,
		}, a.Logger), nil
	}
}

func (a *App) newFetcher(provider fetcher.Provider, metrics *service.Metrics) (*fetcher.Fetcher, error) {
	start, err := config.ParseDate(a.Config.Pipeline.Start)
	if err != nil {
		return nil, err
	}
	end, err := config.ParseDate(a.Config.Pipeline.End)
	if err != nil {
		return nil, err
	}
	f := fetcher.New(provider, fetcher.Options{
		Start:             start,
		End:               end,
		Period:            a.Config.Pipeline.Period,
		BatchSize:         a.Config.Pipeline.BatchSize,
		Retry:             a.Config.Pipeline.Retry,
		Backoff:           a.Config.Pipeline.Backoff,
		RequestsPerSecond: a.Config.Provider.RequestsPerSecond,
		Threads:           a.Config.Provider.Threads,
	}, a.Logger)
	if metrics != nil {
		f.WithObserver(metrics)
	}
	return f, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newAlertGate() *alerting.Gate {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("alerting enabled but no channel configured")
		return nil
	}
	return alerting.NewGate(notifier, a.Config.Alerting.MinFailures, a.Config.Alerting.Cooldown)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	if a.Config.Database.AutoMigrate {
		if err := storage.Migrate(pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newPipeline wires a pipeline from configuration. The returned closer
// releases the optional PostgreSQL pool.
func (a *App) newPipeline(ctx context.Context, metrics *service.Metrics) (*service.Pipeline, func(), error) {
	provider, err := a.newProvider()
	if err != nil {
		return nil, nil, err
	}
	f, err := a.newFetcher(provider, metrics)
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if closeStore == nil {
		closeStore = func() {}
	}

	deps := service.Deps{
		Fetcher: f,
		Renderer: report.NewRenderer(report.Options{
			Title:  a.Config.Pipeline.ReportTitle,
			Charts: a.Config.Pipeline.Charts,
		}, a.Logger),
		Alerts:  a.newAlertGate(),
		Metrics: metrics,
	}
	if store != nil {
		deps.Bars = store
		deps.Runs = store
		deps.Locker = store
	} else {
		a.Logger.Debug().Msg("database.dsn not configured; postgres mirror disabled")
	}

	p := service.New(service.Options{
		Tickers:   a.Config.Pipeline.Tickers,
		OutBase:   a.Config.Pipeline.OutBase,
		Prefix:    a.Config.Pipeline.TablePrefix,
		Overwrite: a.Config.Pipeline.Overwrite,
		Workbook:  a.Config.Pipeline.Workbook,
		LockKey:   a.Config.Scheduler.AdvisoryLockKey,
	}, deps, a.Logger)
	return p, closeStore, nil
}

// Run executes the pipeline once and prints the run summary as JSON.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, closeStore, err := a.newPipeline(ctx, nil)
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := p.Run(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// Schedule runs the pipeline on the configured interval and, when
// server.addr is set, serves reports and metrics alongside.
func (a *App) Schedule(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := service.NewMetrics()
	p, closeStore, err := a.newPipeline(ctx, metrics)
	if err != nil {
		return err
	}
	defer closeStore()

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)
	if err != nil {
		return err
	}

	var srv *server.Server
	if a.Config.Server.Addr != "" {
		if srv, err = a.newServer(metrics); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Schedule(gctx, sched)
	})
	if srv != nil {
		g.Go(func() error {
			return srv.ListenAndServe(gctx)
		})
	}

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting scheduled pipeline")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("scheduler terminated with error")
		return err
	}

	a.Logger.Info().Msg("scheduled pipeline stopped")
	return nil
}

// Serve serves the report directory until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv, err := a.newServer(nil)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}

func (a *App) newServer(metrics *service.Metrics) (*server.Server, error) {
	paths, err := storage.EnsureDirs(a.Config.Pipeline.OutBase)
	if err != nil {
		return nil, fmt.Errorf("prepare report dir: %w", err)
	}
	return server.New(server.Options{
		Addr:         a.Config.Server.Addr,
		HTMLDir:      paths.HTMLDir,
		ReportFile:   a.Config.Server.ReportFile,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}, metrics.Registry(), a.Logger), nil
}
