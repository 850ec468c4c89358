// Package sqlite stores links in a SQLite file through GORM. A composite
// unique index on (namespace_id, slug) decides InsertIfAbsent races.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sundayezeilo/shortspace/internal/errx"
	"github.com/sundayezeilo/shortspace/internal/shortener"
)

// linkRow is the GORM model of the links table. created_at holds unix
// microseconds so ordering never depends on how the driver formats times.
type linkRow struct {
	ID             string `gorm:"primaryKey;size:36"`
	NamespaceID    string `gorm:"size:255;not null;uniqueIndex:links_namespace_slug_unique,priority:1;index:links_namespace_created_at,priority:1"`
	Slug           string `gorm:"size:255;not null;uniqueIndex:links_namespace_slug_unique,priority:2"`
	DestinationURL string `gorm:"size:2048;not null"`
	Clicks         int64  `gorm:"not null;default:0"`
	CreatedMicros  int64  `gorm:"column:created_at;not null;index:links_namespace_created_at,priority:2"`
}

func (linkRow) TableName() string { return "links" }

// Config configures Open.
type Config struct {
	Path   string
	Logger gormlogger.Interface // defaults to GORM's logger at Warn
}

// Store implements shortener.Store.
type Store struct {
	db *gorm.DB
}

var _ shortener.Store = (*Store)(nil)

// Open opens the database at cfg.Path and migrates the links table.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = gormlogger.Default.LogMode(gormlogger.Warn)
	}

	dsn := cfg.Path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}

	gdb, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		Logger:         cfg.Logger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", cfg.Path, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// SQLite allows one writer; a single connection queues writers in the
	// pool instead of failing them with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := gdb.AutoMigrate(&linkRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate links table: %w", err)
	}
	return &Store{db: gdb}, nil
}

func (s *Store) Get(ctx context.Context, namespaceID, slug string) (shortener.Link, error) {
	const op = "store.sqlite.Get"

	var row linkRow
	err := s.db.WithContext(ctx).
		Where("namespace_id = ? AND slug = ?", namespaceID, slug).
		First(&row).Error
	if err != nil {
		return shortener.Link{}, mapError(op, err)
	}
	return toDomainLink(op, row)
}

func (s *Store) InsertIfAbsent(ctx context.Context, link shortener.Link) (shortener.Link, error) {
	const op = "store.sqlite.InsertIfAbsent"

	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	link.CreatedAt = link.CreatedAt.UTC().Truncate(time.Microsecond)
	link.Clicks = 0

	row := linkRow{
		ID:             link.ID.String(),
		NamespaceID:    link.NamespaceID,
		Slug:           link.Slug,
		DestinationURL: link.DestinationURL,
		CreatedMicros:  link.CreatedAt.UnixMicro(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return shortener.Link{}, mapError(op, err)
	}
	return link, nil
}

func (s *Store) IncrementClicks(ctx context.Context, namespaceID, slug string, delta int64) error {
	const op = "store.sqlite.IncrementClicks"

	res := s.db.WithContext(ctx).
		Model(&linkRow{}).
		Where("namespace_id = ? AND slug = ?", namespaceID, slug).
		UpdateColumn("clicks", gorm.Expr("clicks + ?", delta))
	if res.Error != nil {
		return mapError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return errx.E(op, errx.NotFound, shortener.ErrNotFound)
	}
	return nil
}

func (s *Store) ListRecent(ctx context.Context, namespaceID string, limit int) ([]shortener.Link, error) {
	const op = "store.sqlite.ListRecent"

	var rows []linkRow
	err := s.db.WithContext(ctx).
		Where("namespace_id = ?", namespaceID).
		Order("created_at DESC, slug ASC").
		Limit(shortener.ClampLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, mapError(op, err)
	}

	out := make([]shortener.Link, 0, len(rows))
	for _, row := range rows {
		link, err := toDomainLink(op, row)
		if err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	const op = "store.sqlite.Ping"

	sqlDB, err := s.db.DB()
	if err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toDomainLink(op string, row linkRow) (shortener.Link, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return shortener.Link{}, errx.E(op, errx.Internal, fmt.Errorf("decode id: %w", err))
	}
	return shortener.Link{
		ID:             id,
		NamespaceID:    row.NamespaceID,
		Slug:           row.Slug,
		DestinationURL: row.DestinationURL,
		Clicks:         row.Clicks,
		CreatedAt:      time.UnixMicro(row.CreatedMicros).UTC(),
	}, nil
}

func mapError(op string, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errx.E(op, errx.NotFound, errors.Join(shortener.ErrNotFound, err))
	case isUniqueViolation(err):
		return errx.E(op, errx.Conflict, errors.Join(shortener.ErrAlreadyExists, err))
	default:
		return errx.E(op, errx.Unavailable, err)
	}
}

// isUniqueViolation matches both GORM's translated error and the raw driver
// message, which is all older driver versions report.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") &&
		strings.Contains(msg, "links.namespace_id")
}
