// Package parser turns fetched pages into index documents. A Parser is
// built per site crawl and carries the crawl-scoped state: the site
// configuration, the pre-loaded inlink graph and the prior indexed contents
// used for change detection.
package parser

import (
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/models"
)

// pageShape classifies a fetched response body.
type pageShape int

const (
	shapeOther pageShape = iota
	shapeHTML
	shapeXML
)

func classifyContentType(contentType string) pageShape {
	switch {
	case contentType == "text/html" || contentType == "application/xhtml+xml":
		return shapeHTML
	case strings.HasSuffix(contentType, "xml"):
		return shapeXML
	default:
		return shapeOther
	}
}

// FetchedPage is one fetched response plus the request context the parser
// needs. RequestURL is the pre-redirect URL so the home page keeps a stable
// id when a site redirects it.
type FetchedPage struct {
	RequestURL   string // Pre-redirect URL; becomes the document id
	FinalURL     string // URL after redirects
	ContentType  string // First token of the Content-Type header
	LastModified string // Raw Last-Modified header value, "" when absent
	IsHome       bool   // True only for the home start URL
	Body         []byte
}

// Parser extracts index documents for one site crawl
type Parser struct {
	site            *models.SiteConfig
	allowSubdomains []string
	outlinkDomains  map[string]bool
	inlinks         map[string][]string
	priors          map[string]models.PriorContent
	logger          arbor.ILogger
}

// New creates a parser for one site crawl. The other registered domains
// drive indexed_outlinks extraction; the current domain is excluded so
// outlinks only ever point off-site.
func New(site *models.SiteConfig, commonConfig *models.CommonConfig, inlinks map[string][]string, priors map[string]models.PriorContent, logger arbor.ILogger) *Parser {
	outlinkDomains := make(map[string]bool)
	if commonConfig != nil {
		for _, domain := range commonConfig.Domains {
			if domain != site.Domain {
				outlinkDomains[domain] = true
			}
		}
	}

	var allowSubdomains []string
	if commonConfig != nil {
		allowSubdomains = commonConfig.AllowSubdomains
	}

	return &Parser{
		site:            site,
		allowSubdomains: allowSubdomains,
		outlinkDomains:  outlinkDomains,
		inlinks:         inlinks,
		priors:          priors,
		logger:          logger,
	}
}

// Parse turns one fetched page into an index document. A nil document with
// a nil error means the page was deliberately skipped: an excluded page
// type, or a body with no text to index.
func (p *Parser) Parse(page *FetchedPage) (*models.Document, error) {
	switch classifyContentType(page.ContentType) {
	case shapeHTML:
		return p.parseHTML(page)
	case shapeXML:
		return p.parseXML(page)
	default:
		if !strings.HasPrefix(page.ContentType, "text/") {
			p.logger.Debug().Str("url", page.FinalURL).Str("content_type", page.ContentType).Msg("Skipping non-text page")
			return nil, nil
		}
		item := p.newDocument(page)
		item.ContentLastModified = p.resolveContentLastModified(item)
		return item, nil
	}
}

// newDocument builds the field scaffold every document shares, regardless
// of body shape.
func (p *Parser) newDocument(page *FetchedPage) *models.Document {
	item := &models.Document{
		ID:            page.RequestURL,
		URL:           page.FinalURL,
		Domain:        p.site.Domain,
		Relationship:  models.RelationshipParent,
		IsHome:        page.IsHome,
		ContentType:   page.ContentType,
		IndexedDate:   common.FormatUTC(time.Now()),
		SiteCategory:  p.site.Category,
		OwnerVerified: p.site.OwnerVerified && p.site.APIEnabled,
		Public:        p.site.Public,
	}

	if page.LastModified != "" {
		if formatted, ok := ParseDateToUTC(page.LastModified); ok {
			item.PageLastModified = formatted
		}
	}

	if page.IsHome {
		if !p.site.DateDomainAdded.IsZero() {
			item.DateDomainAdded = common.FormatUTC(p.site.DateDomainAdded)
		}
		apiEnabled := p.site.APIEnabled
		item.APIEnabled = &apiEnabled
	}

	if inbound := p.inlinks[page.FinalURL]; len(inbound) > 0 {
		item.IndexedInlinks = inbound
		item.IndexedInlinksCount = len(inbound)

		var domains []string
		seen := make(map[string]bool)
		for _, inlink := range inbound {
			domain := common.ExtractDomain(inlink, p.allowSubdomains)
			if domain != "" && !seen[domain] {
				seen[domain] = true
				domains = append(domains, domain)
			}
		}
		item.IndexedInlinkDomains = domains
		item.IndexedInlinkDomainsCount = len(domains)
	}

	return item
}

// isExcludedType reports whether a parsed page type is on the site's type
// exclusion list.
func (p *Parser) isExcludedType(pageType string) bool {
	if pageType == "" {
		return false
	}
	for _, exclusion := range p.site.Exclusions {
		if exclusion.Type == models.FilterTypePageType && exclusion.Value == pageType {
			return true
		}
	}
	return false
}

// resolveContentLastModified applies content change detection against the
// prior indexed version of this URL.
func (p *Parser) resolveContentLastModified(item *models.Document) string {
	prior, hasPrior := p.priors[item.URL]
	return contentLastModified(item.Content, prior.Content, prior.ContentLastModified, item.PageLastModified, item.IndexedDate, hasPrior)
}

// contentLastModified picks the content modification date for a page:
// changed content is stamped with the indexing time, unchanged content
// carries the prior value forward, and first-seen content falls back to the
// page modification date.
func contentLastModified(newContent, priorContent, priorModified, pageLastModified, indexedDate string, hasPrior bool) string {
	if newContent == "" {
		return ""
	}
	if hasPrior && priorContent != "" {
		if priorContent == newContent {
			if priorModified != "" {
				return priorModified
			}
			if pageLastModified != "" {
				return pageLastModified
			}
			return indexedDate
		}
		return indexedDate
	}
	if pageLastModified != "" {
		return pageLastModified
	}
	return indexedDate
}
