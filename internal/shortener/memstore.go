package shortener

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/sundayezeilo/shortspace/internal/errx"
)

type linkKey struct {
	namespaceID string
	slug        string
}

// MemoryStore is a Store held in process memory. It backs tests and single
// instance deployments that can afford to lose links on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	links map[linkKey]Link
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{links: make(map[linkKey]Link)}
}

func (m *MemoryStore) Get(ctx context.Context, namespaceID, slug string) (Link, error) {
	const op = "store.memory.Get"
	if err := ctx.Err(); err != nil {
		return Link{}, errx.E(op, errx.Unavailable, err)
	}

	m.mu.RLock()
	link, ok := m.links[linkKey{namespaceID, slug}]
	m.mu.RUnlock()
	if !ok {
		return Link{}, errx.E(op, errx.NotFound, ErrNotFound)
	}
	return link, nil
}

func (m *MemoryStore) InsertIfAbsent(ctx context.Context, link Link) (Link, error) {
	const op = "store.memory.InsertIfAbsent"
	if err := ctx.Err(); err != nil {
		return Link{}, errx.E(op, errx.Unavailable, err)
	}

	key := linkKey{link.NamespaceID, link.Slug}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.links[key]; taken {
		return Link{}, errx.E(op, errx.Conflict, ErrAlreadyExists)
	}
	m.links[key] = link
	return link, nil
}

func (m *MemoryStore) IncrementClicks(ctx context.Context, namespaceID, slug string, delta int64) error {
	const op = "store.memory.IncrementClicks"
	if err := ctx.Err(); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}

	key := linkKey{namespaceID, slug}

	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[key]
	if !ok {
		return errx.E(op, errx.NotFound, ErrNotFound)
	}
	link.Clicks += delta
	m.links[key] = link
	return nil
}

func (m *MemoryStore) ListRecent(ctx context.Context, namespaceID string, limit int) ([]Link, error) {
	const op = "store.memory.ListRecent"
	if err := ctx.Err(); err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}

	m.mu.RLock()
	out := make([]Link, 0)
	for key, link := range m.links {
		if key.namespaceID == namespaceID {
			out = append(out, link)
		}
	}
	m.mu.RUnlock()

	SortNewestFirst(out)
	if limit = ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errx.E("store.memory.Ping", errx.Unavailable, err)
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// SortNewestFirst orders links by creation time, newest first, breaking ties
// by slug so listings are stable.
func SortNewestFirst(links []Link) {
	slices.SortFunc(links, func(a, b Link) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Slug, b.Slug)
	})
}
