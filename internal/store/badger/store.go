// Package badger stores links in an embedded Badger database. Badger
// transactions are serializable, so InsertIfAbsent and IncrementClicks are a
// read and a write in one transaction, retried when Badger reports a
// conflicting commit.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sundayezeilo/shortspace/internal/errx"
	"github.com/sundayezeilo/shortspace/internal/shortener"
)

const (
	linkPrefix   = "link/"
	recentPrefix = "recent/"
	sep          = 0x00

	// Each failed commit means another transaction on the key succeeded, so
	// this bounds the work under heavy contention without ever looping forever.
	maxConflictRetries = 256
)

var errClosed = errors.New("badger store is closed")

// Config configures Open.
type Config struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *logrus.Logger
}

// record is the stored form of a link; the key carries namespace and slug.
type record struct {
	ID             uuid.UUID `json:"id"`
	DestinationURL string    `json:"destination_url"`
	Clicks         int64     `json:"clicks"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store implements shortener.Store.
type Store struct {
	db  *badgerdb.DB
	log *logrus.Logger
}

var _ shortener.Store = (*Store)(nil)

// Open opens (or creates) the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Path == "" && !cfg.InMemory {
		return nil, errors.New("badger path cannot be empty")
	}

	opts := badgerdb.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(cfg.Logger).WithSyncWrites(cfg.SyncWrites)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", cfg.Path, err)
	}
	return &Store{db: db, log: cfg.Logger}, nil
}

func linkKey(namespaceID, slug string) []byte {
	k := make([]byte, 0, len(linkPrefix)+len(namespaceID)+1+len(slug))
	k = append(k, linkPrefix...)
	k = append(k, namespaceID...)
	k = append(k, sep)
	return append(k, slug...)
}

func recentNamespacePrefix(namespaceID string) []byte {
	k := make([]byte, 0, len(recentPrefix)+len(namespaceID)+1)
	k = append(k, recentPrefix...)
	k = append(k, namespaceID...)
	return append(k, sep)
}

// recentKey sorts newest first under the namespace prefix: the timestamp is
// stored inverted, then the slug breaks ties.
func recentKey(namespaceID, slug string, createdAt time.Time) []byte {
	k := recentNamespacePrefix(namespaceID)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(math.MaxInt64-createdAt.UnixMicro()))
	k = append(k, ts[:]...)
	return append(k, slug...)
}

func (s *Store) Get(ctx context.Context, namespaceID, slug string) (shortener.Link, error) {
	const op = "store.badgerdb.Get"
	if err := ctx.Err(); err != nil {
		return shortener.Link{}, errx.E(op, errx.Unavailable, err)
	}

	var rec record
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		rec, err = readRecord(txn, linkKey(namespaceID, slug))
		return err
	})
	if err != nil {
		return shortener.Link{}, mapError(op, err)
	}
	return rec.link(namespaceID, slug), nil
}

func (s *Store) InsertIfAbsent(ctx context.Context, link shortener.Link) (shortener.Link, error) {
	const op = "store.badgerdb.InsertIfAbsent"

	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	link.CreatedAt = link.CreatedAt.UTC().Truncate(time.Microsecond)
	link.Clicks = 0

	value, err := json.Marshal(record{
		ID:             link.ID,
		DestinationURL: link.DestinationURL,
		CreatedAt:      link.CreatedAt,
	})
	if err != nil {
		return shortener.Link{}, errx.E(op, errx.Internal, err)
	}

	key := linkKey(link.NamespaceID, link.Slug)
	err = s.update(ctx, func(txn *badgerdb.Txn) error {
		_, err := txn.Get(key)
		switch {
		case err == nil:
			return shortener.ErrAlreadyExists
		case !errors.Is(err, badgerdb.ErrKeyNotFound):
			return err
		}
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(recentKey(link.NamespaceID, link.Slug, link.CreatedAt), nil)
	})
	if err != nil {
		return shortener.Link{}, mapError(op, err)
	}
	return link, nil
}

func (s *Store) IncrementClicks(ctx context.Context, namespaceID, slug string, delta int64) error {
	const op = "store.badgerdb.IncrementClicks"

	key := linkKey(namespaceID, slug)
	err := s.update(ctx, func(txn *badgerdb.Txn) error {
		rec, err := readRecord(txn, key)
		if err != nil {
			return err
		}
		rec.Clicks += delta
		value, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(key, value)
	})
	if err != nil {
		return mapError(op, err)
	}
	return nil
}

func (s *Store) ListRecent(ctx context.Context, namespaceID string, limit int) ([]shortener.Link, error) {
	const op = "store.badgerdb.ListRecent"
	if err := ctx.Err(); err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}

	limit = shortener.ClampLimit(limit)
	prefix := recentNamespacePrefix(namespaceID)
	out := make([]shortener.Link, 0, limit)

	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			key := it.Item().Key()
			if len(key) < len(prefix)+8 {
				continue
			}
			slug := string(key[len(prefix)+8:])

			rec, err := readRecord(txn, linkKey(namespaceID, slug))
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, rec.link(namespaceID, slug))
		}
		return nil
	})
	if err != nil {
		return nil, mapError(op, err)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	const op = "store.badgerdb.Ping"
	if err := ctx.Err(); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	if s.db.IsClosed() {
		return errx.E(op, errx.Unavailable, errClosed)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}

// RunGC reclaims value log space every interval until ctx is done.
func (s *Store) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for {
				err := s.db.RunValueLogGC(0.5)
				if err == nil {
					continue
				}
				if !errors.Is(err, badgerdb.ErrNoRewrite) && !errors.Is(err, badgerdb.ErrRejected) {
					s.log.WithError(err).Warn("badger value log gc failed")
				}
				break
			}
		}
	}
}

// update runs fn in a read-write transaction and retries it on commit
// conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badgerdb.Txn) error) error {
	for range maxConflictRetries {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
	}
	return badgerdb.ErrConflict
}

func readRecord(txn *badgerdb.Txn, key []byte) (record, error) {
	item, err := txn.Get(key)
	if err != nil {
		return record{}, err
	}
	var rec record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

func (r record) link(namespaceID, slug string) shortener.Link {
	return shortener.Link{
		ID:             r.ID,
		NamespaceID:    namespaceID,
		Slug:           slug,
		DestinationURL: r.DestinationURL,
		Clicks:         r.Clicks,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

func mapError(op string, err error) error {
	switch {
	case errors.Is(err, badgerdb.ErrKeyNotFound):
		return errx.E(op, errx.NotFound, errors.Join(shortener.ErrNotFound, err))
	case errors.Is(err, shortener.ErrAlreadyExists):
		return errx.E(op, errx.Conflict, err)
	default:
		return errx.E(op, errx.Unavailable, err)
	}
}
