package shortener

import (
	"context"
	"strings"
	"time"

	"github.com/sundayezeilo/shortspace/internal/errx"
	"github.com/sundayezeilo/shortspace/internal/namespace"
)

const DefaultShortURLScheme = "https"

// CreateLinkRequest represents the parameters for creating a new link.
type CreateLinkRequest struct {
	Host           string // request host, selects the namespace
	DestinationURL string
	DesiredSlug    string // Optional: if empty, a slug will be generated
}

// Service defines the link operations exposed to the gateway. Every
// operation is scoped to the namespace bound to the given host.
type Service interface {
	Create(ctx context.Context, req CreateLinkRequest) (LinkInfo, error)
	Redirect(ctx context.Context, host, slug string) (string, error)
	Lookup(ctx context.Context, host, slug string) (LinkInfo, error)
	Recent(ctx context.Context, host string, limit int) ([]LinkInfo, error)
	Namespaces() []namespace.Namespace
	Ping(ctx context.Context) error
}

// ServiceConfig holds configuration for the service. Allocator and
// Redirector default to ones built on the service's store.
type ServiceConfig struct {
	Allocator      *Allocator
	Redirector     *Redirector
	ShortURLScheme string
	StoreTimeout   time.Duration
}

type service struct {
	resolver     *namespace.Resolver
	store        Store
	allocator    *Allocator
	redirector   *Redirector
	scheme       string
	storeTimeout time.Duration
}

// NewService creates a new service instance.
func NewService(resolver *namespace.Resolver, store Store, config *ServiceConfig) Service {
	if config == nil {
		config = &ServiceConfig{}
	}

	s := &service{
		resolver:     resolver,
		store:        store,
		allocator:    config.Allocator,
		redirector:   config.Redirector,
		scheme:       config.ShortURLScheme,
		storeTimeout: config.StoreTimeout,
	}
	if s.allocator == nil {
		s.allocator = NewAllocator(store, nil)
	}
	if s.redirector == nil {
		s.redirector = NewRedirector(store, nil)
	}
	if s.scheme == "" {
		s.scheme = DefaultShortURLScheme
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = DefaultStoreTimeout
	}
	return s
}

// Create allocates a link in the namespace of req.Host. A host bound to no
// namespace is refused as Forbidden.
func (s *service) Create(ctx context.Context, req CreateLinkRequest) (LinkInfo, error) {
	const op = "shortener.service.Create"

	ns, err := s.resolver.Resolve(req.Host)
	if err != nil {
		return LinkInfo{}, errx.E(op, errx.Forbidden, err)
	}

	link, err := s.allocator.Allocate(ctx, ns, req.DesiredSlug, req.DestinationURL)
	if err != nil {
		return LinkInfo{}, errx.E(op, errx.KindOf(err), err)
	}
	return s.info(ns, req.Host, link), nil
}

func (s *service) Redirect(ctx context.Context, host, slug string) (string, error) {
	const op = "shortener.service.Redirect"

	ns, err := s.resolver.Resolve(host)
	if err != nil {
		return "", errx.E(op, errx.NotFound, err)
	}

	target, err := s.redirector.Resolve(ctx, ns, slug)
	if err != nil {
		return "", errx.E(op, errx.KindOf(err), err)
	}
	return target, nil
}

func (s *service) Lookup(ctx context.Context, host, slug string) (LinkInfo, error) {
	const op = "shortener.service.Lookup"

	ns, err := s.resolver.Resolve(host)
	if err != nil {
		return LinkInfo{}, errx.E(op, errx.NotFound, err)
	}
	if err := validateLookupSlug(slug); err != nil {
		return LinkInfo{}, errx.E(op, errx.Invalid, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	link, err := s.store.Get(ctx, ns.ID, slug)
	if err != nil {
		return LinkInfo{}, errx.E(op, errx.KindOf(err), err)
	}
	return s.info(ns, host, link), nil
}

func (s *service) Recent(ctx context.Context, host string, limit int) ([]LinkInfo, error) {
	const op = "shortener.service.Recent"

	ns, err := s.resolver.Resolve(host)
	if err != nil {
		return nil, errx.E(op, errx.NotFound, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	links, err := s.store.ListRecent(ctx, ns.ID, ClampLimit(limit))
	if err != nil {
		return nil, errx.E(op, errx.KindOf(err), err)
	}

	out := make([]LinkInfo, 0, len(links))
	for _, link := range links {
		out = append(out, s.info(ns, host, link))
	}
	return out, nil
}

func (s *service) Namespaces() []namespace.Namespace {
	return s.resolver.All()
}

func (s *service) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		return errx.E("shortener.service.Ping", errx.Unavailable, err)
	}
	return nil
}

func (s *service) info(ns namespace.Namespace, host string, link Link) LinkInfo {
	return LinkInfo{Link: link, ShortURL: s.shortURL(ns, host, link.Slug)}
}

// shortURL prefers the namespace's BaseURL and otherwise points back at the
// host the request arrived on.
func (s *service) shortURL(ns namespace.Namespace, host, slug string) string {
	if ns.BaseURL != "" {
		return strings.TrimRight(ns.BaseURL, "/") + "/" + slug
	}
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	return s.scheme + "://" + host + "/" + slug
}
