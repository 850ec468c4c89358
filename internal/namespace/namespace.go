// Package namespace routes inbound hosts to isolated slug spaces.
//
// A Resolver is built once from configuration and is immutable afterwards, so
// Resolve is safe to call from any number of goroutines without locking.
// Matching is exact first (literal host, then host without port), then by
// suffix on a label boundary. Among suffixes the pattern with the longest host
// part wins, and on equal host parts a pattern naming the port beats one that
// does not. Two patterns that still tie are the same pattern, and NewResolver
// rejects that as a configuration error.
package namespace

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/sundayezeilo/shortspace/internal/errx"
	"github.com/sundayezeilo/shortspace/sluggen"
)

// ErrUnknownHost is returned when no namespace is bound to a host.
var ErrUnknownHost = errors.New("host is not bound to any namespace")

// Namespace is an isolated slug space bound to one or more host patterns.
type Namespace struct {
	ID          string   `yaml:"id"`
	Hosts       []string `yaml:"hosts"`
	SlugPrefix  string   `yaml:"slug_prefix"`
	DisplayName string   `yaml:"display_name"`
	Description string   `yaml:"description"`
	// BaseURL overrides the scheme and host used for short URLs, e.g.
	// "https://sho.rt". Empty means derive them from the request.
	BaseURL string `yaml:"base_url"`
}

type binding struct {
	pattern string
	hostLen int // length of pattern without its port
	hasPort bool
	ns      int
}

// beats reports whether b is more specific than other.
func (b binding) beats(other binding) bool {
	if b.hostLen != other.hostLen {
		return b.hostLen > other.hostLen
	}
	return b.hasPort && !other.hasPort
}

// Resolver maps hosts to namespaces.
type Resolver struct {
	namespaces []Namespace
	exact      map[string]int
	suffixes   []binding
}

// NewResolver validates namespaces and builds a Resolver. Namespaces keep
// their configuration order in All.
func NewResolver(namespaces []Namespace) (*Resolver, error) {
	if len(namespaces) == 0 {
		return nil, errors.New("at least one namespace is required")
	}

	r := &Resolver{
		namespaces: make([]Namespace, 0, len(namespaces)),
		exact:      make(map[string]int),
	}
	ids := make(map[string]bool, len(namespaces))

	for i, ns := range namespaces {
		if ns.ID == "" {
			return nil, fmt.Errorf("namespace #%d: id cannot be empty", i)
		}
		if ids[ns.ID] {
			return nil, fmt.Errorf("namespace %q: duplicate id", ns.ID)
		}
		ids[ns.ID] = true

		if ns.SlugPrefix != "" && !sluggen.ValidChars(ns.SlugPrefix) {
			return nil, fmt.Errorf("namespace %q: slug prefix %q contains invalid characters", ns.ID, ns.SlugPrefix)
		}
		if len(ns.SlugPrefix) > sluggen.MaxPrefixLength {
			return nil, fmt.Errorf("namespace %q: slug prefix longer than %d characters", ns.ID, sluggen.MaxPrefixLength)
		}
		if len(ns.Hosts) == 0 {
			return nil, fmt.Errorf("namespace %q: at least one host is required", ns.ID)
		}

		hosts := make([]string, 0, len(ns.Hosts))
		for _, raw := range ns.Hosts {
			pattern := normalize(raw)
			if pattern == "" {
				return nil, fmt.Errorf("namespace %q: empty host pattern", ns.ID)
			}
			if owner, taken := r.exact[pattern]; taken {
				if owner == i {
					continue
				}
				return nil, fmt.Errorf("host pattern %q is bound to both %q and %q",
					pattern, r.namespaces[owner].ID, ns.ID)
			}
			r.exact[pattern] = i
			r.suffixes = append(r.suffixes, binding{
				pattern: pattern,
				hostLen: len(stripPort(pattern)),
				hasPort: strings.Contains(pattern, ":"),
				ns:      i,
			})
			hosts = append(hosts, pattern)
		}

		ns.Hosts = hosts
		r.namespaces = append(r.namespaces, ns)
	}

	return r, nil
}

// Resolve returns the namespace bound to host. The host may carry a port.
func (r *Resolver) Resolve(host string) (Namespace, error) {
	const op = "namespace.Resolve"

	literal := normalize(host)
	if literal == "" {
		return Namespace{}, errx.E(op, errx.NotFound, ErrUnknownHost)
	}
	bare := stripPort(literal)

	if i, ok := r.exact[literal]; ok {
		return r.namespaces[i], nil
	}
	if i, ok := r.exact[bare]; ok {
		return r.namespaces[i], nil
	}

	var best *binding
	for i := range r.suffixes {
		b := &r.suffixes[i]
		candidate := bare
		if b.hasPort {
			candidate = literal
		}
		if !hasLabelSuffix(candidate, b.pattern) {
			continue
		}
		if best == nil || b.beats(*best) {
			best = b
		}
	}
	if best == nil {
		return Namespace{}, errx.E(op, errx.NotFound, fmt.Errorf("%w: %q", ErrUnknownHost, host))
	}
	return r.namespaces[best.ns], nil
}

// All returns the configured namespaces in configuration order.
func (r *Resolver) All() []Namespace {
	out := make([]Namespace, len(r.namespaces))
	copy(out, r.namespaces)
	return out
}

// Lookup returns the namespace with the given id.
func (r *Resolver) Lookup(id string) (Namespace, bool) {
	for _, ns := range r.namespaces {
		if ns.ID == id {
			return ns, true
		}
	}
	return Namespace{}, false
}

func normalize(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	return strings.TrimSuffix(host, ".")
}

// stripPort removes a trailing ":port". Bracketed IPv6 literals lose their brackets.
func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return strings.TrimSuffix(h, ".")
	}
	return host
}

// hasLabelSuffix reports whether host ends with pattern on a DNS label
// boundary: "a.example.com" matches "example.com", "badexample.com" does not.
func hasLabelSuffix(host, pattern string) bool {
	if !strings.HasSuffix(host, pattern) {
		return false
	}
	if len(host) == len(pattern) || strings.HasPrefix(pattern, ".") {
		return true
	}
	return host[len(host)-len(pattern)-1] == '.'
}
