package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/sundayezeilo/shortspace/internal/config"
	"github.com/sundayezeilo/shortspace/internal/namespace"
	"github.com/sundayezeilo/shortspace/internal/server"
	"github.com/sundayezeilo/shortspace/internal/shortener"
)

// App holds the application dependencies and configuration.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    shortener.Store
	Clicks   *shortener.ClickRecorder
	Server   *server.Server
	Handler  *shortener.Handler
	Resolver *namespace.Resolver

	stopBackground context.CancelFunc
}

// New initializes and returns a new App instance with all dependencies wired up.
func New(ctx context.Context) (*App, error) {
	if err := loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	logger.Info("starting application",
		"env", cfg.App.Environment,
		"version", cfg.Observability.ServiceVersion,
		"store", cfg.Store.Driver,
	)

	return Build(ctx, cfg, logger)
}

// Build wires an App from an already loaded configuration.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	resolver, err := loadNamespaces(cfg.Namespaces.File)
	if err != nil {
		return nil, err
	}
	for _, ns := range resolver.All() {
		logger.Info("namespace registered",
			"namespace", ns.ID,
			"hosts", ns.Hosts,
			"slug_prefix", ns.SlugPrefix,
		)
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())

	store, err := openStore(ctx, bgCtx, cfg, logger)
	if err != nil {
		stopBackground()
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}

	handler, clicks := wire(cfg, logger, resolver, store)
	clicks.Start()

	srv := server.New(cfg, logger, handler)

	logger.Info("application initialized",
		"port", cfg.Server.Port,
		"namespaces", len(resolver.All()),
	)

	return &App{
		Config:         cfg,
		Logger:         logger,
		Store:          store,
		Clicks:         clicks,
		Server:         srv,
		Handler:        handler,
		Resolver:       resolver,
		stopBackground: stopBackground,
	}, nil
}

// wire builds the link engine on top of store. The returned recorder is not
// started.
func wire(cfg *config.Config, logger *slog.Logger, resolver *namespace.Resolver, store shortener.Store) (*shortener.Handler, *shortener.ClickRecorder) {
	clicks := shortener.NewClickRecorder(store, &shortener.ClickRecorderConfig{
		QueueSize:  cfg.Clicks.QueueSize,
		Workers:    cfg.Clicks.Workers,
		MaxRetries: cfg.Clicks.MaxRetries,
		Timeout:    cfg.Clicks.Timeout,
		Rate:       cfg.Clicks.Rate,
		Burst:      cfg.Clicks.Burst,
		Logger:     logger,
	})

	allocator := shortener.NewAllocator(store, &shortener.AllocatorConfig{
		SlugLength:    cfg.Slug.Length,
		MinSlugLength: cfg.Slug.MinLength,
		MaxSlugLength: cfg.Slug.MaxLength,
		MaxAttempts:   cfg.Slug.MaxAttempts,
		StoreTimeout:  cfg.Store.Timeout,
	})
	redirector := shortener.NewRedirector(store, &shortener.RedirectorConfig{
		Clicks:       clicks,
		StoreTimeout: cfg.Store.Timeout,
		Logger:       logger,
	})

	svc := shortener.NewService(resolver, store, &shortener.ServiceConfig{
		Allocator:      allocator,
		Redirector:     redirector,
		ShortURLScheme: cfg.Namespaces.ShortURLScheme,
		StoreTimeout:   cfg.Store.Timeout,
	})

	handler := shortener.NewHandler(shortener.HandlerConfig{
		Service:     svc,
		Logger:      logger,
		ClickStats:  clicks.Stats,
		ServiceName: cfg.Observability.ServiceName,
		Version:     cfg.Observability.ServiceVersion,
	})
	return handler, clicks
}

// Start starts the application server.
func (a *App) Start(ctx context.Context) error {
	a.Logger.Info("server starting", "port", a.Config.Server.Port)

	if err := a.Server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown drains pending clicks, then closes the store.
func (a *App) Shutdown() error {
	a.Logger.Info("shutting down application")

	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if a.Clicks != nil {
		if err := a.Clicks.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain clicks: %w", err))
		}
		stats := a.Clicks.Stats()
		a.Logger.Info("click recorder stopped",
			"applied", stats.Applied,
			"dropped", stats.Dropped,
			"failed", stats.Failed,
		)
	}
	if a.stopBackground != nil {
		a.stopBackground()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		} else {
			a.Logger.Info("store closed")
		}
	}

	return errors.Join(errs...)
}

func loadNamespaces(path string) (*namespace.Resolver, error) {
	namespaces, err := namespace.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load namespaces: %w", err)
	}
	resolver, err := namespace.NewResolver(namespaces)
	if err != nil {
		return nil, fmt.Errorf("invalid namespaces in %s: %w", path, err)
	}
	return resolver, nil
}

// loadEnv loads .env file only in non-production environments.
func loadEnv() error {
	env := os.Getenv("APP_ENV")
	if env == "development" || env == "test" {
		if err := godotenv.Load(); err != nil {
			log.Println("no .env file found.")
		}
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogger creates a structured logger. The text format is colored for
// terminals; everything else gets JSON.
func setupLogger(level, format string) *slog.Logger {
	logLevel := parseLevel(level)

	if format == "text" {
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.RFC3339,
		}))
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
}
