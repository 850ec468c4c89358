package shortener

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sundayezeilo/shortspace/internal/errx"
	"github.com/sundayezeilo/shortspace/internal/namespace"
)

/***************
 * Mocks
 ***************/

// mockStore implements Store. Unset funcs fall through to an in-memory store,
// so tests only override the calls they care about.
type mockStore struct {
	base *MemoryStore

	getFunc             func(ctx context.Context, namespaceID, slug string) (Link, error)
	insertIfAbsentFunc  func(ctx context.Context, link Link) (Link, error)
	incrementClicksFunc func(ctx context.Context, namespaceID, slug string, delta int64) error
	listRecentFunc      func(ctx context.Context, namespaceID string, limit int) ([]Link, error)
	pingFunc            func(ctx context.Context) error

	mu         sync.Mutex
	insertions int
}

func newMockStore() *mockStore {
	return &mockStore{base: NewMemoryStore()}
}

func (m *mockStore) Get(ctx context.Context, namespaceID, slug string) (Link, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, namespaceID, slug)
	}
	return m.base.Get(ctx, namespaceID, slug)
}

func (m *mockStore) InsertIfAbsent(ctx context.Context, link Link) (Link, error) {
	m.mu.Lock()
	m.insertions++
	m.mu.Unlock()

	if m.insertIfAbsentFunc != nil {
		return m.insertIfAbsentFunc(ctx, link)
	}
	return m.base.InsertIfAbsent(ctx, link)
}

func (m *mockStore) IncrementClicks(ctx context.Context, namespaceID, slug string, delta int64) error {
	if m.incrementClicksFunc != nil {
		return m.incrementClicksFunc(ctx, namespaceID, slug, delta)
	}
	return m.base.IncrementClicks(ctx, namespaceID, slug, delta)
}

func (m *mockStore) ListRecent(ctx context.Context, namespaceID string, limit int) ([]Link, error) {
	if m.listRecentFunc != nil {
		return m.listRecentFunc(ctx, namespaceID, limit)
	}
	return m.base.ListRecent(ctx, namespaceID, limit)
}

func (m *mockStore) Ping(ctx context.Context) error {
	if m.pingFunc != nil {
		return m.pingFunc(ctx)
	}
	return nil
}

func (m *mockStore) Close() error { return nil }

func (m *mockStore) insertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertions
}

// mockSlugGenerator returns slugs in order, then repeats the last one.
type mockSlugGenerator struct {
	generateFunc func(length int) (string, error)
	slugs        []string

	mu        sync.Mutex
	callCount int
}

func (m *mockSlugGenerator) Generate(length int) (string, error) {
	m.mu.Lock()
	m.callCount++
	n := m.callCount
	m.mu.Unlock()

	if m.generateFunc != nil {
		return m.generateFunc(length)
	}
	if len(m.slugs) == 0 {
		return "abc12345", nil
	}
	if n > len(m.slugs) {
		n = len(m.slugs)
	}
	return m.slugs[n-1], nil
}

func (m *mockSlugGenerator) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// recordingSink implements ClickSink.
type recordingSink struct {
	mu     sync.Mutex
	clicks []string
}

func (s *recordingSink) Record(namespaceID, slug string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks = append(s.clicks, namespaceID+"/"+slug)
	return true
}

func (s *recordingSink) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clicks...)
}

/***************
 * Helpers
 ***************/

var errStoreDown = errors.New("connection refused")

func unavailable(op string) error {
	return errx.E(op, errx.Unavailable, errStoreDown)
}

func testNamespaces() []namespace.Namespace {
	return []namespace.Namespace{
		{ID: "links_short", Hosts: []string{"short.test"}},
		{ID: "links_shortly", Hosts: []string{"shortly.pp.ua", "localhost:3000"}, SlugPrefix: "sh"},
		{ID: "links_branded", Hosts: []string{"go.brand.test"}, BaseURL: "https://brand.test/go/"},
	}
}

func testResolver(t *testing.T) *namespace.Resolver {
	t.Helper()
	r, err := namespace.NewResolver(testNamespaces())
	if err != nil {
		t.Fatalf("NewResolver() unexpected error: %v", err)
	}
	return r
}

func testNamespace(t *testing.T, id string) namespace.Namespace {
	t.Helper()
	ns, ok := testResolver(t).Lookup(id)
	if !ok {
		t.Fatalf("namespace %q not configured", id)
	}
	return ns
}
