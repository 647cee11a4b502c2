package interfaces

import (
	"context"

	"github.com/ternarybob/indago/internal/models"
)

// SiteIndexer runs the whole indexing pipeline for one claimed site:
// crawl, parse, chunk, embed and write to the search index.
type SiteIndexer interface {
	IndexSite(ctx context.Context, site models.SiteConfig, common *models.CommonConfig) error
}
