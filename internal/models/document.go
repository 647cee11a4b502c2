package models

import "fmt"

const (
	// RelationshipParent marks a top-level page document
	RelationshipParent = "parent"
	// RelationshipChild marks a nested content chunk document
	RelationshipChild = "child"
)

// Document is one indexed page, shaped for the search index update API.
// Date fields are pre-formatted strings in the index date format because
// source pages carry dates of wildly varying precision.
type Document struct {
	// Identity
	ID           string `json:"id"`           // Pre-redirect URL, the unique key
	URL          string `json:"url"`          // Final URL after redirects
	Domain       string `json:"domain"`       // Registrable domain the page belongs to
	Relationship string `json:"relationship"` // "parent" or "child"
	IsHome       bool   `json:"is_home"`      // Exactly one per domain on a full index

	// Page fields
	Title           string   `json:"title,omitempty"`
	Author          string   `json:"author,omitempty"`
	Description     string   `json:"description,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Content         string   `json:"content,omitempty"`
	ContentType     string   `json:"content_type,omitempty"` // MIME type of the fetched page
	PageType        string   `json:"page_type,omitempty"`    // og:type or the article post type
	Language        string   `json:"language,omitempty"`     // From the html lang attribute
	LanguagePrimary string   `json:"language_primary,omitempty"`
	ContainsAdverts bool     `json:"contains_adverts"`
	InWebFeed       bool     `json:"in_web_feed"`
	Public          bool     `json:"public"`
	OwnerVerified   bool     `json:"owner_verified"`

	// IsWebFeed marks an XML page that parsed as a valid web feed. It
	// drives feed auto-discovery and is never written to the index.
	IsWebFeed bool `json:"-"`

	// Dates (index date format, e.g. 2024-05-01T11:30:00Z)
	PageLastModified    string `json:"page_last_modified,omitempty"`
	ContentLastModified string `json:"content_last_modified,omitempty"`
	PublishedDate       string `json:"published_date,omitempty"`
	IndexedDate         string `json:"indexed_date,omitempty"`

	// Site fields
	SiteCategory    string `json:"site_category,omitempty"`
	DateDomainAdded string `json:"date_domain_added,omitempty"` // Home page only
	WebFeed         string `json:"web_feed,omitempty"`          // Home page only
	APIEnabled      *bool  `json:"api_enabled,omitempty"`       // Home page only

	// Link graph
	IndexedInlinks            []string `json:"indexed_inlinks,omitempty"`
	IndexedInlinksCount       int      `json:"indexed_inlinks_count,omitempty"`
	IndexedInlinkDomains      []string `json:"indexed_inlink_domains,omitempty"`
	IndexedInlinkDomainsCount int      `json:"indexed_inlink_domains_count,omitempty"`
	IndexedOutlinks           []string `json:"indexed_outlinks,omitempty"`

	// Nested chunk documents
	Chunks []Chunk `json:"content_chunks,omitempty"`
}

// Chunk is a nested child document holding one embeddable slice of content
type Chunk struct {
	ID           string    `json:"id"` // <parent id>!chunkNNN
	URL          string    `json:"url"`
	Domain       string    `json:"domain"`
	Relationship string    `json:"relationship"` // Always "child"
	No           int       `json:"content_chunk_no"`
	Text         string    `json:"content_chunk_text"`
	Vector       []float32 `json:"content_chunk_vector,omitempty"`
}

// ChunkID builds the index ID for chunk n (1-based) of a parent document
func ChunkID(parentID string, n int) string {
	return fmt.Sprintf("%s!chunk%03d", parentID, n)
}
