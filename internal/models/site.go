package models

import "time"

const (
	// FilterTypePath excludes URLs containing a substring or matching a *.ext wildcard
	FilterTypePath = "path"
	// FilterTypePageType excludes documents whose parsed page type equals the value
	FilterTypePageType = "type"
)

// Filter is one indexing exclusion rule for a site
type Filter struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// SiteConfig is the registry snapshot one indexing job runs with.
// It is read once when the job is claimed and never refreshed mid-crawl.
type SiteConfig struct {
	Domain          string    `json:"domain"`
	HomePage        string    `json:"home_page"`
	Tier            int       `json:"tier"`
	DateDomainAdded time.Time `json:"date_domain_added"`
	PageLimit       int       `json:"indexing_page_limit"`
	ChunkLimit      int       `json:"content_chunks_limit"`
	Category        string    `json:"site_category"`
	APIEnabled      bool      `json:"api_enabled"`
	Public          bool      `json:"include_in_public_search"`
	OwnerVerified   bool      `json:"owner_verified"` // Tier 3 listings are owner verified
	FullIndex       bool      `json:"full_index"`     // False means incremental reindex
	WebFeed         string    `json:"web_feed"`       // User entered preferred over auto discovered
	Exclusions      []Filter  `json:"exclusions,omitempty"`
}

// CommonConfig is shared registry state loaded once per scheduling pass
type CommonConfig struct {
	// Domains holds every registered domain; outlinks are only indexed
	// when they point at one of these.
	Domains []string
	// AllowSubdomains lists multi-user domains whose subdomains are
	// registered as distinct sites.
	AllowSubdomains []string
}

// PriorContent is what the index currently holds for one URL, used to
// detect unchanged content and reuse its chunks.
type PriorContent struct {
	Content             string
	ContentLastModified string
	Chunks              []Chunk
}
