package interfaces

import (
	"context"

	"github.com/ternarybob/indago/internal/models"
)

// SearchIndex is the search engine the pipeline writes into and reads
// link and content state back from.
type SearchIndex interface {
	// IndexedInlinks returns, for each URL on the domain that other indexed
	// sites link to, the list of indexed URLs linking to it.
	IndexedInlinks(ctx context.Context, domain string) (map[string][]string, error)

	// AlreadyIndexedURLs lists the page URLs currently indexed for a domain
	AlreadyIndexedURLs(ctx context.Context, domain string) ([]string, error)

	// PriorContents returns the indexed content, content date and chunks per
	// page URL, used to detect unchanged pages and reuse their chunks.
	PriorContents(ctx context.Context, domain string) (map[string]models.PriorContent, error)

	// AddDocuments submits documents to the index, optionally committing
	AddDocuments(ctx context.Context, docs []*models.Document, commit bool) error

	// DeleteDomain removes every document belonging to a domain
	DeleteDomain(ctx context.Context, domain string, commit bool) error

	// Commit makes all pending updates visible in one step
	Commit(ctx context.Context) error
}
