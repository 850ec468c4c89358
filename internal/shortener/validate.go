package shortener

import (
	"fmt"
	"net/url"

	"github.com/sundayezeilo/shortspace/sluggen"
)

const (
	MaxURLLength = 2048

	// MaxLookupSlugLength caps slugs accepted on the read paths, which also
	// serve generated slugs carrying a namespace prefix. Allocation never
	// stores a longer one.
	MaxLookupSlugLength = sluggen.MaxLength
)

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: url cannot be empty", ErrInvalidURL)
	}
	if len(rawURL) > MaxURLLength {
		return fmt.Errorf("%w: url too long (max %d characters)", ErrInvalidURL, MaxURLLength)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid url format", ErrInvalidURL)
	}
	if parsed.Scheme == "" {
		return fmt.Errorf("%w: url must include scheme (http or https)", ErrInvalidURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: url scheme must be http or https", ErrInvalidURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: url must include host", ErrInvalidURL)
	}
	return nil
}

func validateSlug(slug string, minLen, maxLen int) error {
	if slug == "" {
		return fmt.Errorf("%w: slug cannot be empty", ErrInvalidSlug)
	}
	if len(slug) < minLen {
		return fmt.Errorf("%w: slug too short (minimum %d characters)", ErrInvalidSlug, minLen)
	}
	if len(slug) > maxLen {
		return fmt.Errorf("%w: slug too long (maximum %d characters)", ErrInvalidSlug, maxLen)
	}
	if !sluggen.ValidChars(slug) {
		return fmt.Errorf("%w: slug contains invalid characters (only alphanumeric, dash, and underscore allowed)", ErrInvalidSlug)
	}
	return nil
}

// validateLookupSlug rejects slugs no allocation could have produced.
func validateLookupSlug(slug string) error {
	if len(slug) > MaxLookupSlugLength || !sluggen.ValidChars(slug) {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	return nil
}
