// Package server exposes generated HTML reports and pipeline metrics over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Options configure the report server.
type Options struct {
	Addr         string
	HTMLDir      string
	ReportFile   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server serves the report directory.
type Server struct {
	opts     Options
	registry *prometheus.Registry
	logger   zerolog.Logger
	router   chi.Router
}

// New builds the router. registry may be nil, in which case /metrics is not
// mounted.
func New(opts Options, registry *prometheus.Registry, logger zerolog.Logger) *Server {
	s := &Server{
		opts:     opts,
		registry: registry,
		logger:   logger.With().Str("component", "server").Logger(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	r.Get("/", s.serveLatest)
	r.Get("/{file}", s.serveFile)
	return r
}

func (s *Server) serveLatest(w http.ResponseWriter, r *http.Request) {
	path, err := s.latestReport()
	if err != nil {
		s.logger.Warn().Err(err).Msg("no report to serve")
		http.Error(w, "no report available", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "file")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		http.NotFound(w, r)
		return
	}
	path := filepath.Join(s.opts.HTMLDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

// latestReport resolves the configured report, or the most recently modified
// .html file in the report directory.
func (s *Server) latestReport() (string, error) {
	if s.opts.ReportFile != "" {
		path := s.opts.ReportFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(s.opts.HTMLDir, path)
		}
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("configured report: %w", err)
		}
		return path, nil
	}

	entries, err := os.ReadDir(s.opts.HTMLDir)
	if err != nil {
		return "", fmt.Errorf("read report dir: %w", err)
	}
	type candidate struct {
		name string
		mod  time.Time
	}
	var reports []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".html") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		reports = append(reports, candidate{name: e.Name(), mod: info.ModTime()})
	}
	if len(reports) == 0 {
		return "", errors.New("report dir has no html files")
	}
	sort.Slice(reports, func(i, j int) bool {
		if !reports[i].mod.Equal(reports[j].mod) {
			return reports[i].mod.After(reports[j].mod)
		}
		return reports[i].name > reports[j].name
	})
	return filepath.Join(s.opts.HTMLDir, reports[0].name), nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(started)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request served")
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Str("dir", s.opts.HTMLDir).Msg("report server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("report server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown report server: %w", err)
	}
	s.logger.Info().Msg("report server stopped")
	return nil
}
