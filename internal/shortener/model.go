package shortener

import (
	"time"

	"github.com/google/uuid"
)

// Link binds a slug inside a namespace to a destination URL.
// (NamespaceID, Slug) is the unique key; ID is a surrogate for storage.
type Link struct {
	ID             uuid.UUID
	NamespaceID    string
	Slug           string
	DestinationURL string
	Clicks         int64
	CreatedAt      time.Time
}

// LinkInfo is a link together with the short URL it is reachable at.
type LinkInfo struct {
	Link     Link
	ShortURL string
}
