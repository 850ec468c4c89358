package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sundayezeilo/shortspace/internal/config"
	"github.com/sundayezeilo/shortspace/internal/db/migrations"
	"github.com/sundayezeilo/shortspace/internal/shortener"
	badgerstore "github.com/sundayezeilo/shortspace/internal/store/badger"
	pgstore "github.com/sundayezeilo/shortspace/internal/store/postgres"
	redisstore "github.com/sundayezeilo/shortspace/internal/store/redis"
	sqlitestore "github.com/sundayezeilo/shortspace/internal/store/sqlite"
)

const badgerGCInterval = 10 * time.Minute

// openStore opens the store selected by cfg.Store.Driver. Background
// maintenance runs until bgCtx is canceled.
func openStore(ctx, bgCtx context.Context, cfg *config.Config, logger *slog.Logger) (shortener.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory store, links are lost on restart")
		return shortener.NewMemoryStore(), nil

	case config.DriverPostgres:
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err := pgstore.Connect(ctx, cfg.Database.ConnectionString(), pgstore.PoolConfig{
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			if err := migrations.Apply(ctx, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("failed to apply migrations: %w", err)
			}
			logger.Info("database migrations applied")
		}
		logger.Info("database connection established")
		return pgstore.New(pool), nil

	case config.DriverRedis:
		rdb, err := redisstore.Connect(ctx, &goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("redis connection established", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
		return redisstore.New(rdb, redisstore.WithKeyPrefix(cfg.Redis.KeyPrefix)), nil

	case config.DriverBadger:
		store, err := badgerstore.Open(badgerstore.Config{
			Path:       cfg.Badger.Path,
			SyncWrites: cfg.Badger.SyncWrites,
			Logger:     newLogrusLogger(cfg.App.LogLevel),
		})
		if err != nil {
			return nil, err
		}
		go store.RunGC(bgCtx, badgerGCInterval)
		logger.Info("badger store opened", "path", cfg.Badger.Path)
		return store, nil

	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		store, err := sqlitestore.Open(sqlitestore.Config{
			Path:   cfg.SQLite.Path,
			Logger: gormlogger.Default.LogMode(gormLogLevel(cfg.App.LogLevel)),
		})
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite store opened", "path", cfg.SQLite.Path)
		return store, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// newLogrusLogger builds the logger badger writes its internals to.
func newLogrusLogger(level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	// Badger is chatty at info.
	if lvl == logrus.InfoLevel {
		lvl = logrus.WarnLevel
	}
	l.SetLevel(lvl)
	return l
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "error":
		return gormlogger.Error
	default:
		return gormlogger.Warn
	}
}
