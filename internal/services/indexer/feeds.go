package indexer

import (
	"context"
	"strings"

	"github.com/ternarybob/indago/internal/models"
)

// feedPreference orders common feed paths by how likely each is to be the
// site's canonical feed. The walk is deterministic, so rediscovery on every
// crawl lands on the same feed while the site's pages are unchanged.
var feedPreference = []string{
	"/posts/index.xml",
	"/feed/",
	"/feed.xml",
	"/atom.xml",
	"/rss.xml",
	"/index.xml",
	"/rss/",
}

// resolveFeeds persists the feed and sitemap this crawl discovered and
// stamps the resolved web feed onto the home document. A user-entered feed
// always beats the discovered one.
func (w *Writer) resolveFeeds(ctx context.Context) error {
	feed, sitemap := discoverFeeds(w.docs)
	if err := w.service.registry.SaveAutoDiscoveredFeeds(ctx, w.site.Domain, feed, sitemap); err != nil {
		return err
	}

	userFeed, _, err := w.service.registry.UserEnteredFeeds(ctx, w.site.Domain)
	if err != nil {
		return err
	}
	webFeed := userFeed
	if webFeed == "" {
		webFeed = feed
	}
	if webFeed == "" {
		return nil
	}

	for _, doc := range w.docs {
		if doc.IsHome {
			doc.WebFeed = webFeed
		}
	}
	return nil
}

// discoverFeeds scans the crawl's XML documents. A URL ending sitemap.xml
// is the sitemap, last one seen wins; everything else is a feed candidate.
// The first candidate matching the preference list wins, else the first
// candidate.
func discoverFeeds(docs []*models.Document) (feed, sitemap string) {
	var candidates []string
	for _, doc := range docs {
		if !strings.HasSuffix(doc.ContentType, "xml") && !doc.IsWebFeed {
			continue
		}
		if strings.HasSuffix(doc.URL, "sitemap.xml") {
			sitemap = doc.URL
			continue
		}
		candidates = append(candidates, doc.URL)
	}
	if len(candidates) == 0 {
		return "", sitemap
	}

	for _, suffix := range feedPreference {
		for _, candidate := range candidates {
			if strings.HasSuffix(candidate, suffix) {
				return candidate, sitemap
			}
		}
	}
	return candidates[0], sitemap
}
