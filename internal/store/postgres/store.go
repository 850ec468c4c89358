// Package postgres stores links in PostgreSQL. The (namespace_id, slug)
// unique constraint is what makes InsertIfAbsent atomic across processes.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	db "github.com/sundayezeilo/shortspace/internal/db/sqlc"
	"github.com/sundayezeilo/shortspace/internal/errx"
	"github.com/sundayezeilo/shortspace/internal/shortener"
)

const uniqueConstraint = "links_namespace_slug_unique"

// querier is the subset of *db.Queries the store uses.
type querier interface {
	CreateLink(ctx context.Context, arg db.CreateLinkParams) (db.Link, error)
	GetLink(ctx context.Context, arg db.GetLinkParams) (db.Link, error)
	IncrementLinkClicks(ctx context.Context, arg db.IncrementLinkClicksParams) (int64, error)
	ListRecentLinks(ctx context.Context, arg db.ListRecentLinksParams) ([]db.Link, error)
}

type pool interface {
	Ping(ctx context.Context) error
	Close()
}

// Store implements shortener.Store.
type Store struct {
	q    querier
	pool pool
}

var _ shortener.Store = (*Store)(nil)

// New returns a Store over p. Closing the Store closes p.
func New(p *pgxpool.Pool) *Store {
	return &Store{q: db.New(p), pool: p}
}

// PoolConfig tunes Connect.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// Connect opens a pool for dsn and checks it with a ping.
func Connect(ctx context.Context, dsn string, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}

	p, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return p, nil
}

func (s *Store) Get(ctx context.Context, namespaceID, slug string) (shortener.Link, error) {
	const op = "store.postgres.Get"

	row, err := s.q.GetLink(ctx, db.GetLinkParams{NamespaceID: namespaceID, Slug: slug})
	if err != nil {
		return shortener.Link{}, mapError(op, err)
	}
	return toDomainLink(op, row)
}

func (s *Store) InsertIfAbsent(ctx context.Context, link shortener.Link) (shortener.Link, error) {
	const op = "store.postgres.InsertIfAbsent"

	createdAt := link.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row, err := s.q.CreateLink(ctx, db.CreateLinkParams{
		ID:             link.ID,
		NamespaceID:    link.NamespaceID,
		Slug:           link.Slug,
		DestinationUrl: link.DestinationURL,
		CreatedAt:      pgtype.Timestamptz{Time: createdAt, Valid: true},
	})
	if err != nil {
		return shortener.Link{}, mapError(op, err)
	}
	return toDomainLink(op, row)
}

func (s *Store) IncrementClicks(ctx context.Context, namespaceID, slug string, delta int64) error {
	const op = "store.postgres.IncrementClicks"

	n, err := s.q.IncrementLinkClicks(ctx, db.IncrementLinkClicksParams{
		Delta:       delta,
		NamespaceID: namespaceID,
		Slug:        slug,
	})
	if err != nil {
		return mapError(op, err)
	}
	if n == 0 {
		return errx.E(op, errx.NotFound, shortener.ErrNotFound)
	}
	return nil
}

func (s *Store) ListRecent(ctx context.Context, namespaceID string, limit int) ([]shortener.Link, error) {
	const op = "store.postgres.ListRecent"

	rows, err := s.q.ListRecentLinks(ctx, db.ListRecentLinksParams{
		NamespaceID: namespaceID,
		Limit:       int32(shortener.ClampLimit(limit)),
	})
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
	if s.pool == nil {
		return nil
	}
	if err := s.pool.Ping(ctx); err != nil {
		return errx.E("store.postgres.Ping", errx.Unavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func toDomainLink(op string, x db.Link) (shortener.Link, error) {
	if !x.CreatedAt.Valid {
		return shortener.Link{}, errx.E(op, errx.Internal, errors.New("created_at unexpectedly NULL"))
	}
	return shortener.Link{
		ID:             x.ID,
		NamespaceID:    x.NamespaceID,
		Slug:           x.Slug,
		DestinationURL: x.DestinationUrl,
		Clicks:         x.Clicks,
		CreatedAt:      x.CreatedAt.Time.UTC(),
	}, nil
}

func mapError(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return errx.E(op, errx.NotFound, errors.Join(shortener.ErrNotFound, err))
	case isUniqueViolation(err):
		return errx.E(op, errx.Conflict, errors.Join(shortener.ErrAlreadyExists, err))
	default:
		return errx.E(op, errx.Unavailable, err)
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == uniqueConstraint
}
