package shortener

import (
	"context"
	"fmt"
	"time"

	"github.com/sundayezeilo/shortspace/internal/errx"
	"github.com/sundayezeilo/shortspace/internal/idgen"
	"github.com/sundayezeilo/shortspace/internal/namespace"
	"github.com/sundayezeilo/shortspace/sluggen"
)

const (
	DefaultSlugLength    = 8
	DefaultMinSlugLength = 3
	DefaultMaxSlugLength = 50
	DefaultMaxAttempts   = 10
	DefaultStoreTimeout  = 3 * time.Second

	prefixSeparator = "-"
)

// AllocatorConfig holds configuration for the allocator. Zero values select
// the defaults above.
type AllocatorConfig struct {
	SlugGenerator sluggen.Generator
	IDGenerator   idgen.Generator
	SlugLength    int
	MinSlugLength int
	MaxSlugLength int
	MaxAttempts   int
	StoreTimeout  time.Duration
	Now           func() time.Time
}

// Allocator claims slugs and stores the links that own them.
//
// Uniqueness is decided by the store's InsertIfAbsent alone, so any number of
// allocators, in one process or many, can share a store.
type Allocator struct {
	store        Store
	slugs        sluggen.Generator
	ids          idgen.Generator
	slugLength   int
	minSlugLen   int
	maxSlugLen   int
	maxAttempts  int
	storeTimeout time.Duration
	now          func() time.Time
}

// NewAllocator creates an Allocator backed by store.
func NewAllocator(store Store, config *AllocatorConfig) *Allocator {
	if config == nil {
		config = &AllocatorConfig{}
	}

	a := &Allocator{
		store:        store,
		slugs:        config.SlugGenerator,
		ids:          config.IDGenerator,
		slugLength:   config.SlugLength,
		minSlugLen:   config.MinSlugLength,
		maxSlugLen:   config.MaxSlugLength,
		maxAttempts:  config.MaxAttempts,
		storeTimeout: config.StoreTimeout,
		now:          config.Now,
	}
	if a.slugs == nil {
		a.slugs = sluggen.NewBase62()
	}
	// UUID v7 keeps inserts ordered in the SQL stores.
	if a.ids == nil {
		a.ids = idgen.NewV7(idgen.WithRetries(1))
	}
	if a.slugLength <= 0 {
		a.slugLength = DefaultSlugLength
	}
	a.slugLength = min(a.slugLength, sluggen.MaxGeneratedLength)
	if a.minSlugLen <= 0 {
		a.minSlugLen = DefaultMinSlugLength
	}
	if a.maxSlugLen <= 0 {
		a.maxSlugLen = DefaultMaxSlugLength
	}
	// Anything longer could be stored but never looked up again.
	a.maxSlugLen = min(a.maxSlugLen, MaxLookupSlugLength)
	if a.maxAttempts <= 0 {
		a.maxAttempts = DefaultMaxAttempts
	}
	if a.storeTimeout <= 0 {
		a.storeTimeout = DefaultStoreTimeout
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// Allocate stores a link to destinationURL in ns. A non-empty desiredSlug is
// claimed exactly once; otherwise slugs are generated until one is free or
// the attempt budget runs out.
func (a *Allocator) Allocate(ctx context.Context, ns namespace.Namespace, desiredSlug, destinationURL string) (Link, error) {
	const op = "shortener.Allocator.Allocate"

	if err := validateURL(destinationURL); err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}

	if desiredSlug != "" {
		if err := validateSlug(desiredSlug, a.minSlugLen, a.maxSlugLen); err != nil {
			return Link{}, errx.E(op, errx.Invalid, err)
		}
		link, err := a.insert(ctx, ns.ID, desiredSlug, destinationURL)
		if err != nil {
			if errx.KindOf(err) == errx.Conflict {
				return Link{}, errx.E(op, errx.Conflict, fmt.Errorf("%w: %q", ErrSlugTaken, desiredSlug))
			}
			return Link{}, errx.E(op, errx.KindOf(err), err)
		}
		return link, nil
	}

	for range a.maxAttempts {
		slug, err := a.generate(ns)
		if err != nil {
			return Link{}, errx.E(op, errx.Unavailable, err)
		}

		link, err := a.insert(ctx, ns.ID, slug, destinationURL)
		if err == nil {
			return link, nil
		}
		if errx.KindOf(err) != errx.Conflict {
			return Link{}, errx.E(op, errx.KindOf(err), err)
		}
	}

	return Link{}, errx.E(op, errx.Exhausted,
		fmt.Errorf("%w after %d attempts in namespace %q", ErrAllocationExhausted, a.maxAttempts, ns.ID))
}

func (a *Allocator) generate(ns namespace.Namespace) (string, error) {
	random, err := a.slugs.Generate(a.slugLength)
	if err != nil {
		return "", fmt.Errorf("generate slug: %w", err)
	}
	if ns.SlugPrefix == "" {
		return random, nil
	}
	return ns.SlugPrefix + prefixSeparator + random, nil
}

func (a *Allocator) insert(ctx context.Context, namespaceID, slug, destinationURL string) (Link, error) {
	id, err := a.ids.Generate()
	if err != nil {
		return Link{}, errx.E("shortener.Allocator.insert", errx.Unavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()

	return a.store.InsertIfAbsent(ctx, Link{
		ID:             id,
		NamespaceID:    namespaceID,
		Slug:           slug,
		DestinationURL: destinationURL,
		// Microseconds are the finest resolution every store keeps.
		CreatedAt:      a.now().UTC().Truncate(time.Microsecond),
	})
}
