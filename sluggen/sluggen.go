// Package sluggen provides slug generation functionality.
// Generators should be safe for concurrent use.
package sluggen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	// Base62 is the default alphabet: digits, upper and lower case ASCII letters.
	Base62 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// MaxLength is the longest slug any path accepts, generated slugs
	// included.
	MaxLength = 255

	// MaxPrefixLength caps a namespace slug prefix. A prefix, its separator
	// and a generated part of up to MaxGeneratedLength stay within MaxLength.
	MaxPrefixLength    = 64
	MaxGeneratedLength = MaxLength - MaxPrefixLength - 1

	maxAlphabetSize = 256
)

// Generator generates URL slugs.
// Implementations should be safe for concurrent use.
type Generator interface {
	Generate(length int) (string, error)
}

// alphabetGenerator draws symbols uniformly from a fixed alphabet.
// It is safe for concurrent use.
type alphabetGenerator struct {
	alphabet string
	// limit is the largest multiple of len(alphabet) that fits in a byte;
	// bytes at or above it are rejected so every symbol is equally likely.
	limit  int
	random io.Reader
}

// Option configures a generator.
type Option func(*alphabetGenerator)

// WithRandom replaces the entropy source. Intended for tests.
func WithRandom(r io.Reader) Option {
	return func(g *alphabetGenerator) {
		if r != nil {
			g.random = r
		}
	}
}

// NewBase62 returns a new base62 slug generator.
func NewBase62(opts ...Option) Generator {
	g, _ := NewAlphabet(Base62, opts...)
	return g
}

// NewAlphabet returns a generator drawing from the given alphabet.
// The alphabet must contain between 1 and 256 distinct bytes.
func NewAlphabet(alphabet string, opts ...Option) (Generator, error) {
	if len(alphabet) == 0 || len(alphabet) > maxAlphabetSize {
		return nil, fmt.Errorf("alphabet size must be between 1 and %d, got %d", maxAlphabetSize, len(alphabet))
	}
	seen := make(map[byte]bool, len(alphabet))
	for i := 0; i < len(alphabet); i++ {
		if seen[alphabet[i]] {
			return nil, fmt.Errorf("alphabet contains duplicate symbol %q", alphabet[i])
		}
		seen[alphabet[i]] = true
	}

	g := &alphabetGenerator{
		alphabet: alphabet,
		limit:    maxAlphabetSize - maxAlphabetSize%len(alphabet),
		random:   rand.Reader,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate generates a random string of the specified length.
func (g *alphabetGenerator) Generate(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("length must be positive")
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := io.ReadFull(g.random, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= g.limit {
				continue
			}
			out = append(out, g.alphabet[int(b)%len(g.alphabet)])
			if len(out) == length {
				break
			}
		}
	}

	return string(out), nil
}

// ValidChars reports whether s is non-empty and uses only the slug grammar
// [A-Za-z0-9_-]. Length policy is left to callers.
func ValidChars(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
