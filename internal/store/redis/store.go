// Package redis stores links in Redis hashes. Inserts and increments run as
// Lua scripts so the existence check and the write are one atomic step on
// the server.
//
// Every key of a namespace carries the namespace ID as its hash tag, so the
// insert script's two keys land in one slot on Redis Cluster.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/sundayezeilo/shortspace/internal/errx"
	"github.com/sundayezeilo/shortspace/internal/shortener"
)

const DefaultKeyPrefix = "shortspace"

// Hash fields of a link.
const (
	fieldID          = "id"
	fieldDestination = "destination_url"
	fieldClicks      = "clicks"
	fieldCreatedAt   = "created_at"
)

// KEYS[1] link hash, KEYS[2] recent index.
// ARGV: id, destination, created_at (unix micros), slug.
var insertScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'destination_url', ARGV[2], 'clicks', 0, 'created_at', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
return 1
`)

// KEYS[1] link hash. ARGV[1] delta. Returns -1 for a missing link.
var incrementScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
return redis.call('HINCRBY', KEYS[1], 'clicks', ARGV[1])
`)

// Store implements shortener.Store.
type Store struct {
	rdb    *goredis.Client
	prefix string
}

var _ shortener.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix namespaces every key under prefix. Braces are dropped since
// they would take over the hash tag.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		prefix = strings.NewReplacer("{", "", "}", "").Replace(prefix)
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

// New returns a Store over rdb. Closing the Store closes rdb.
func New(rdb *goredis.Client, opts ...Option) *Store {
	s := &Store{rdb: rdb, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials Redis and checks the connection.
func Connect(ctx context.Context, opts *goredis.Options) (*goredis.Client, error) {
	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

func (s *Store) linkKey(namespaceID, slug string) string {
	return s.prefix + ":link:{" + namespaceID + "}:" + slug
}

func (s *Store) recentKey(namespaceID string) string {
	return s.prefix + ":recent:{" + namespaceID + "}"
}

func (s *Store) Get(ctx context.Context, namespaceID, slug string) (shortener.Link, error) {
	const op = "store.redis.Get"

	fields, err := s.rdb.HGetAll(ctx, s.linkKey(namespaceID, slug)).Result()
	if err != nil {
		return shortener.Link{}, errx.E(op, errx.Unavailable, err)
	}
	if len(fields) == 0 {
		return shortener.Link{}, errx.E(op, errx.NotFound, shortener.ErrNotFound)
	}

	link, err := decodeLink(namespaceID, slug, fields)
	if err != nil {
		return shortener.Link{}, errx.E(op, errx.Internal, err)
	}
	return link, nil
}

func (s *Store) InsertIfAbsent(ctx context.Context, link shortener.Link) (shortener.Link, error) {
	const op = "store.redis.InsertIfAbsent"

	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	link.CreatedAt = link.CreatedAt.UTC().Truncate(time.Microsecond)

	inserted, err := insertScript.Run(ctx, s.rdb,
		[]string{s.linkKey(link.NamespaceID, link.Slug), s.recentKey(link.NamespaceID)},
		link.ID.String(),
		link.DestinationURL,
		link.CreatedAt.UnixMicro(),
		link.Slug,
	).Int()
	if err != nil {
		return shortener.Link{}, errx.E(op, errx.Unavailable, err)
	}
	if inserted == 0 {
		return shortener.Link{}, errx.E(op, errx.Conflict, shortener.ErrAlreadyExists)
	}

	link.Clicks = 0
	return link, nil
}

func (s *Store) IncrementClicks(ctx context.Context, namespaceID, slug string, delta int64) error {
	const op = "store.redis.IncrementClicks"

	n, err := incrementScript.Run(ctx, s.rdb, []string{s.linkKey(namespaceID, slug)}, delta).Int64()
	if err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	if n < 0 {
		return errx.E(op, errx.NotFound, shortener.ErrNotFound)
	}
	return nil
}

func (s *Store) ListRecent(ctx context.Context, namespaceID string, limit int) ([]shortener.Link, error) {
	const op = "store.redis.ListRecent"

	limit = shortener.ClampLimit(limit)
	slugs, err := s.rdb.ZRevRange(ctx, s.recentKey(namespaceID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}
	if len(slugs) == 0 {
		return []shortener.Link{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(slugs))
	for i, slug := range slugs {
		cmds[i] = pipe.HGetAll(ctx, s.linkKey(namespaceID, slug))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}

	out := make([]shortener.Link, 0, len(slugs))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// Index entry without a hash; skip it.
			continue
		}
		link, err := decodeLink(namespaceID, slugs[i], fields)
		if err != nil {
			return nil, errx.E(op, errx.Internal, err)
		}
		out = append(out, link)
	}
	shortener.SortNewestFirst(out)
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return errx.E("store.redis.Ping", errx.Unavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}

func decodeLink(namespaceID, slug string, fields map[string]string) (shortener.Link, error) {
	id, err := uuid.Parse(fields[fieldID])
	if err != nil {
		return shortener.Link{}, fmt.Errorf("decode %s: %w", fieldID, err)
	}
	clicks, err := strconv.ParseInt(fields[fieldClicks], 10, 64)
	if err != nil {
		return shortener.Link{}, fmt.Errorf("decode %s: %w", fieldClicks, err)
	}
	micros, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	if err != nil {
		return shortener.Link{}, fmt.Errorf("decode %s: %w", fieldCreatedAt, err)
	}

	return shortener.Link{
		ID:             id,
		NamespaceID:    namespaceID,
		Slug:           slug,
		DestinationURL: fields[fieldDestination],
		Clicks:         clicks,
		CreatedAt:      time.UnixMicro(micros).UTC(),
	}, nil
}
