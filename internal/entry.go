// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/apkgview/internal/api"
	"github.com/starford/apkgview/internal/archive"
	"github.com/starford/apkgview/internal/mcpserver"
	"github.com/starford/apkgview/internal/media"
	"github.com/starford/apkgview/internal/sse"
	"github.com/starford/apkgview/internal/storage"
	"github.com/starford/apkgview/internal/viewer"
	"github.com/starford/apkgview/internal/watch"
)

// library is the wiring shared by the serve and mcp commands.
type library struct {
	svc     *viewer.Service
	store   *storage.FS
	syncer  *watch.Syncer
	fetcher *archive.Fetcher
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logOut: os.Stdout, version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func (a *application) logger() *slog.Logger {
	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(a.logOut, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

func (a *application) viewerConfig() viewer.Config {
	return viewer.Config{
		Language:         a.config.Render.Tag(),
		StrictHierarchy:  a.config.Render.StrictHierarchy,
		MediaConcurrency: a.config.Render.MediaConcurrency,
	}
}

// openLibrary builds the viewer over the library directory, runs the initial
// sync and loads the configured extra sources. Failing extra sources are
// logged and skipped.
func (a *application) openLibrary(ctx context.Context, linkers viewer.Linkers, logger *slog.Logger) (*library, error) {
	cfg := a.config

	store, err := storage.NewFS(cfg.Library.Path, cfg.Library.Extensions)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	svc := viewer.NewService(a.viewerConfig(), linkers, logger)
	syncer := watch.NewSyncer(svc, store, logger)

	// Run initial sync.
	if err := syncer.Sync(ctx); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	for _, raw := range cfg.Library.Sources {
		info, err := svc.Load(ctx, SourceFor(raw, cfg.Fetch.Trusted()))
		if err != nil {
			logger.Warn("source load failed", slog.String("source", raw), slog.String("error", err.Error()))
			continue
		}
		logger.Info("source loaded", slog.String("file", info.Name), slog.Int("notes", info.Notes))
	}

	return &library{svc: svc, store: store, syncer: syncer, fetcher: cfg.Fetch.Guarded()}, nil
}

// runWatcher runs the library watcher until ctx ends, or returns at once when
// watching is disabled.
func (a *application) runWatcher(ctx context.Context, lib *library, logger *slog.Logger) error {
	if !a.config.Library.Watch {
		return nil
	}
	return watch.Watch(ctx, lib.syncer, lib.store.Root(), lib.store.Accepts, watch.DefaultDebounce, logger)
}

// SourceFor maps a path or http(s) URL to an archive source. URLs download
// through fetcher's client and size limit.
func SourceFor(raw string, fetcher *archive.Fetcher) archive.Source {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return archive.URLSource{URL: raw, Client: fetcher.Client, MaxBytes: fetcher.MaxBytes}
	}
	return archive.FileSource{Path: raw}
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("library_path", cfg.Library.Path),
		slog.Bool("watch", cfg.Library.Watch),
		slog.String("language", cfg.Render.Language),
		slog.String("log_level", cfg.App.LogLevel.String()))

	registry := media.NewRegistry(cfg.Render.BlobPrefix)

	lib, err := app.openLibrary(ctx, registry, logger)
	if err != nil {
		return err
	}

	// SSE broker.
	broker := sse.NewBroker(2*time.Second, sse.DefaultBacklog)
	defer broker.Close()
	lib.svc.Observe(broker.Notify)

	apiRouter := api.NewRouter(lib.svc, lib.store, lib.fetcher, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	// Blob handles are unguessable and stay outside auth so <img> tags work.
	r.Get(cfg.Render.BlobPrefix+"{handle}", registry.ServeHTTP)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start library watcher.
	g.Go(func() error {
		if err := app.runWatcher(gCtx, lib, logger); err != nil {
			return fmt.Errorf("watcher error: %w", err)
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown stops the errgroup once the server has shut down, so the
// watcher goroutine exits as well.
var errShutdown = errors.New("shutdown")

// RunMCP serves the library over MCP on stdin/stdout until the client
// disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger()

	// Text output needs no blob links.
	lib, err := app.openLibrary(ctx, viewer.Inline{}, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.runWatcher(gCtx, lib, logger)
	})
	g.Go(func() error {
		defer cancel()
		srv := mcpserver.New(lib.svc, app.version, lib.fetcher)
		logger.Info("MCP server starting", slog.Int("files", len(lib.svc.Files(gCtx))))
		return srv.ServeStdio()
	})
	return g.Wait()
}

// Open loads a single archive into a fresh viewer with self-contained media
// links, for one-shot commands.
func Open(ctx context.Context, raw string, opts ...Option) (*viewer.Service, *viewer.FileInfo, error) {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	app, err := newApplication(opts)
	if err != nil {
		return nil, nil, err
	}
	logger := app.logger()

	svc := viewer.NewService(app.viewerConfig(), viewer.Inline{}, logger)
	info, err := svc.Load(ctx, SourceFor(raw, app.config.Fetch.Trusted()))
	if err != nil {
		return nil, nil, err
	}
	return svc, info, nil
}
