package shortener

import (
	"errors"

	"github.com/sundayezeilo/shortspace/internal/namespace"
)

// Sentinel errors identify outcomes independently of their errx kind, so the
// gateway can emit stable error codes.
var (
	ErrInvalidURL          = errors.New("invalid destination url")
	ErrInvalidSlug         = errors.New("invalid slug")
	ErrSlugTaken           = errors.New("slug already taken")
	ErrAllocationExhausted = errors.New("could not allocate a unique slug")
	ErrUnknownHost         = namespace.ErrUnknownHost

	// Store-level outcomes.
	ErrNotFound      = errors.New("link not found")
	ErrAlreadyExists = errors.New("link already exists")
)

// Stable error codes returned to clients.
const (
	CodeInvalidURL          = "invalid_url"
	CodeInvalidSlug         = "invalid_slug"
	CodeInvalidHost         = "invalid_host"
	CodeSlugTaken           = "slug_taken"
	CodeAllocationExhausted = "allocation_exhausted"
	CodeNotFound            = "not_found"
)

// ErrorCode returns the stable code for err, or "" when err carries none of
// the sentinel errors above.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidURL):
		return CodeInvalidURL
	case errors.Is(err, ErrInvalidSlug):
		return CodeInvalidSlug
	case errors.Is(err, ErrSlugTaken):
		return CodeSlugTaken
	case errors.Is(err, ErrAllocationExhausted):
		return CodeAllocationExhausted
	case errors.Is(err, ErrUnknownHost):
		return CodeInvalidHost
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	default:
		return ""
	}
}
