package interfaces

import (
	"context"

	"github.com/ternarybob/indago/internal/models"
)

// RegistryStore is the domain registry database. It owns site registrations,
// indexing state and the append-only indexing log.
type RegistryStore interface {
	// ClaimDomainsToIndex selects the next batch of domains due for indexing
	// and flips each to RUNNING in the same transaction, so concurrent
	// scheduler passes never claim the same domain twice.
	ClaimDomainsToIndex(ctx context.Context) ([]models.SiteConfig, error)

	// CommonConfig loads registry state shared by every job in a pass
	CommonConfig(ctx context.Context) (*models.CommonConfig, error)

	// MarkComplete records the end of a job: status COMPLETE, a log entry
	// carrying the outcome message, and the completion timestamps. The
	// full reindex timestamp advances only when fullIndex and success, so
	// a failed full crawl is retried on the incremental cadence.
	MarkComplete(ctx context.Context, domain string, fullIndex, success bool, message string) error

	// LastCompleteLogMessage returns the most recent COMPLETE log message
	// for a domain, or "" when the domain has never completed.
	LastCompleteLogMessage(ctx context.Context, domain string) (string, error)

	// DeactivateIndexing turns indexing off for a domain and records why
	DeactivateIndexing(ctx context.Context, domain, reason string) error

	// UserEnteredFeeds returns the owner-entered web feed and sitemap URLs
	UserEnteredFeeds(ctx context.Context, domain string) (webFeed, sitemap string, err error)

	// SaveAutoDiscoveredFeeds stores the feed and sitemap URLs found during
	// a crawl, overwriting earlier discoveries. Empty strings clear them.
	SaveAutoDiscoveredFeeds(ctx context.Context, domain, webFeed, sitemap string) error

	// ResetStuckJobs returns domains left RUNNING past the stuck threshold
	// to PENDING so a later pass retries them.
	ResetStuckJobs(ctx context.Context) ([]string, error)

	// ExpiredListings returns ACTIVE listings at a tier whose period has
	// lapsed, oldest submission first.
	ExpiredListings(ctx context.Context, tier int) ([]models.ExpiredListing, error)

	// ExpireTier1Listing sends a basic listing back to moderator review
	ExpireTier1Listing(ctx context.Context, domain string) error

	// DemoteListing expires the listing at tier and opens an ACTIVE listing
	// one tier down.
	DemoteListing(ctx context.Context, domain string, tier int) error

	// ResetIndexingDefaults applies a tier's default indexing settings to a
	// domain and queues it for a fresh full index.
	ResetIndexingDefaults(ctx context.Context, domain string, tier int) error

	Close()
}
