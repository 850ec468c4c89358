// Package storetest is a conformance suite for shortener.Store
// implementations. Each backend's tests call Run with a factory.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sundayezeilo/shortspace/internal/errx"
	"github.com/sundayezeilo/shortspace/internal/shortener"
)

// Factory returns a ready store. Run closes it when the subtest ends.
type Factory func(t *testing.T) shortener.Store

// Run exercises the Store contract against stores made by newStore.
// Every subtest works in its own namespace, so a factory may hand out the
// same backing database each time.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s shortener.Store)
	}{
		{"GetMissing", testGetMissing},
		{"InsertThenGet", testInsertThenGet},
		{"InsertDuplicate", testInsertDuplicate},
		{"NamespacesAreIsolated", testNamespacesAreIsolated},
		{"ConcurrentInsertSameKey", testConcurrentInsertSameKey},
		{"IncrementClicks", testIncrementClicks},
		{"IncrementMissing", testIncrementMissing},
		{"ConcurrentIncrements", testConcurrentIncrements},
		{"ListRecent", testListRecent},
		{"Ping", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func newNamespace() string {
	return "ns-" + uuid.NewString()[:8]
}

func newLink(namespaceID, slug string, createdAt time.Time) shortener.Link {
	return shortener.Link{
		ID:             uuid.New(),
		NamespaceID:    namespaceID,
		Slug:           slug,
		DestinationURL: "https://example.com/" + slug + "?q=1&x=%20y",
		CreatedAt:      createdAt.UTC().Truncate(time.Microsecond),
	}
}

func testGetMissing(t *testing.T, s shortener.Store) {
	_, err := s.Get(context.Background(), newNamespace(), "missing")
	require.Error(t, err)
	assert.Equal(t, errx.NotFound, errx.KindOf(err))
	assert.ErrorIs(t, err, shortener.ErrNotFound)
}

func testInsertThenGet(t *testing.T, s shortener.Store) {
	ctx := context.Background()
	want := newLink(newNamespace(), "promo", time.Now())

	got, err := s.InsertIfAbsent(ctx, want)
	require.NoError(t, err)
	assertSameLink(t, want, got)

	got, err = s.Get(ctx, want.NamespaceID, want.Slug)
	require.NoError(t, err)
	assertSameLink(t, want, got)
	assert.Zero(t, got.Clicks)
}

func testInsertDuplicate(t *testing.T, s shortener.Store) {
	ctx := context.Background()
	ns := newNamespace()
	first := newLink(ns, "taken", time.Now())

	_, err := s.InsertIfAbsent(ctx, first)
	require.NoError(t, err)

	second := newLink(ns, "taken", time.Now())
	second.DestinationURL = "https://other.example/"
	_, err = s.InsertIfAbsent(ctx, second)
	require.Error(t, err)
	assert.Equal(t, errx.Conflict, errx.KindOf(err))
	assert.ErrorIs(t, err, shortener.ErrAlreadyExists)

	got, err := s.Get(ctx, ns, "taken")
	require.NoError(t, err)
	assert.Equal(t, first.DestinationURL, got.DestinationURL, "loser must not overwrite")
}

func testNamespacesAreIsolated(t *testing.T, s shortener.Store) {
	ctx := context.Background()
	a, b := newNamespace(), newNamespace()

	linkA := newLink(a, "shared", time.Now())
	linkB := newLink(b, "shared", time.Now())
	linkB.DestinationURL = "https://b.example/"

	_, err := s.InsertIfAbsent(ctx, linkA)
	require.NoError(t, err)
	_, err = s.InsertIfAbsent(ctx, linkB)
	require.NoError(t, err, "same slug in another namespace is a different key")

	got, err := s.Get(ctx, a, "shared")
	require.NoError(t, err)
	assert.Equal(t, linkA.DestinationURL, got.DestinationURL)

	got, err = s.Get(ctx, b, "shared")
	require.NoError(t, err)
	assert.Equal(t, linkB.DestinationURL, got.DestinationURL)
}

func testConcurrentInsertSameKey(t *testing.T, s shortener.Store) {
	const workers = 16
	ctx := context.Background()
	ns := newNamespace()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
		others    []error
	)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			link := newLink(ns, "race", time.Now())
			link.DestinationURL = fmt.Sprintf("https://example.com/%d", i)

			_, err := s.InsertIfAbsent(ctx, link)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errx.KindOf(err) == errx.Conflict:
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, others)
	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, conflicts)
}

func testIncrementClicks(t *testing.T, s shortener.Store) {
	ctx := context.Background()
	link := newLink(newNamespace(), "counted", time.Now())
	_, err := s.InsertIfAbsent(ctx, link)
	require.NoError(t, err)

	require.NoError(t, s.IncrementClicks(ctx, link.NamespaceID, link.Slug, 1))
	require.NoError(t, s.IncrementClicks(ctx, link.NamespaceID, link.Slug, 3))

	got, err := s.Get(ctx, link.NamespaceID, link.Slug)
	require.NoError(t, err)
	assert.EqualValues(t, 4, got.Clicks)
	assert.Equal(t, link.DestinationURL, got.DestinationURL)
}

func testIncrementMissing(t *testing.T, s shortener.Store) {
	err := s.IncrementClicks(context.Background(), newNamespace(), "ghost", 1)
	require.Error(t, err)
	assert.Equal(t, errx.NotFound, errx.KindOf(err))
	assert.ErrorIs(t, err, shortener.ErrNotFound)
}

func testConcurrentIncrements(t *testing.T, s shortener.Store) {
	const n = 50
	ctx := context.Background()
	link := newLink(newNamespace(), "hot", time.Now())
	_, err := s.InsertIfAbsent(ctx, link)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.IncrementClicks(ctx, link.NamespaceID, link.Slug, 1)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.Get(ctx, link.NamespaceID, link.Slug)
	require.NoError(t, err)
	assert.EqualValues(t, n, got.Clicks)
}

func testListRecent(t *testing.T, s shortener.Store) {
	ctx := context.Background()
	ns, other := newNamespace(), newNamespace()
	base := time.Now().Add(-time.Hour)

	for i := range 12 {
		_, err := s.InsertIfAbsent(ctx, newLink(ns, fmt.Sprintf("link-%02d", i), base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}
	_, err := s.InsertIfAbsent(ctx, newLink(other, "elsewhere", base.Add(time.Hour)))
	require.NoError(t, err)

	got, err := s.ListRecent(ctx, ns, 5)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, link := range got {
		assert.Equal(t, fmt.Sprintf("link-%02d", 11-i), link.Slug)
		assert.Equal(t, ns, link.NamespaceID)
	}

	got, err = s.ListRecent(ctx, ns, 0)
	require.NoError(t, err)
	assert.Len(t, got, shortener.DefaultRecentLimit)

	got, err = s.ListRecent(ctx, newNamespace(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testPing(t *testing.T, s shortener.Store) {
	assert.NoError(t, s.Ping(context.Background()))
}

func assertSameLink(t *testing.T, want, got shortener.Link) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.NamespaceID, got.NamespaceID)
	assert.Equal(t, want.Slug, got.Slug)
	assert.Equal(t, want.DestinationURL, got.DestinationURL)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
}
