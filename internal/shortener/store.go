package shortener

import (
	"context"
)

// Bounds for ListRecent.
const (
	DefaultRecentLimit = 10
	MaxRecentLimit     = 100
)

// Store persists links keyed by (namespace, slug).
//
// Implementations must be safe for concurrent use and report failures as
// *errx.Error values: NotFound wrapping ErrNotFound for a missing key,
// Conflict wrapping ErrAlreadyExists when InsertIfAbsent loses, and
// Unavailable for everything else.
type Store interface {
	Get(ctx context.Context, namespaceID, slug string) (Link, error)
	// InsertIfAbsent stores link only if its (namespace, slug) key is free.
	// The check and the write are one atomic step.
	InsertIfAbsent(ctx context.Context, link Link) (Link, error)
	// IncrementClicks adds delta to the click counter without a read-modify-write
	// race.
	IncrementClicks(ctx context.Context, namespaceID, slug string, delta int64) error
	// ListRecent returns up to limit links of a namespace, newest first.
	ListRecent(ctx context.Context, namespaceID string, limit int) ([]Link, error)
	Ping(ctx context.Context) error
	Close() error
}

// ClampLimit bounds a ListRecent limit to [1, MaxRecentLimit]; non-positive
// values select DefaultRecentLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultRecentLimit
	case limit > MaxRecentLimit:
		return MaxRecentLimit
	default:
		return limit
	}
}
