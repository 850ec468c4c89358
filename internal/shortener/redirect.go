package shortener

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sundayezeilo/shortspace/internal/errx"
	"github.com/sundayezeilo/shortspace/internal/namespace"
)

// RedirectorConfig holds configuration for the redirector.
type RedirectorConfig struct {
	Clicks       ClickSink
	StoreTimeout time.Duration
	Logger       *slog.Logger
}

// Redirector turns (namespace, slug) into a destination URL and reports the
// click without waiting for it to be stored.
type Redirector struct {
	store        Store
	clicks       ClickSink
	storeTimeout time.Duration
	logger       *slog.Logger
}

type discardClicks struct{}

func (discardClicks) Record(string, string) bool { return false }

// NewRedirector creates a Redirector. A nil Clicks sink discards clicks.
func NewRedirector(store Store, config *RedirectorConfig) *Redirector {
	if config == nil {
		config = &RedirectorConfig{}
	}

	r := &Redirector{
		store:        store,
		clicks:       config.Clicks,
		storeTimeout: config.StoreTimeout,
		logger:       config.Logger,
	}
	if r.clicks == nil {
		r.clicks = discardClicks{}
	}
	if r.storeTimeout <= 0 {
		r.storeTimeout = DefaultStoreTimeout
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Resolve returns the destination of slug in ns. The destination is returned
// exactly as stored.
//
// A lookup that times out is reported as NotFound: an unknown state never
// redirects.
func (r *Redirector) Resolve(ctx context.Context, ns namespace.Namespace, slug string) (string, error) {
	const op = "shortener.Redirector.Resolve"

	if err := validateLookupSlug(slug); err != nil {
		return "", errx.E(op, errx.Invalid, err)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	link, err := r.store.Get(lookupCtx, ns.ID, slug)
	timedOut := errors.Is(lookupCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()

	if err != nil {
		switch {
		case errx.KindOf(err) == errx.NotFound:
			return "", errx.E(op, errx.NotFound, err)
		case timedOut || errors.Is(err, context.DeadlineExceeded):
			r.logger.WarnContext(ctx, "link lookup timed out",
				"namespace", ns.ID,
				"slug", slug,
				"timeout", r.storeTimeout.String(),
			)
			return "", errx.E(op, errx.NotFound, errors.Join(ErrNotFound, err))
		default:
			return "", errx.E(op, errx.Unavailable, err)
		}
	}

	r.clicks.Record(ns.ID, slug)
	return link.DestinationURL, nil
}
