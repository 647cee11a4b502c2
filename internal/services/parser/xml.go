package parser

import (
	"bytes"
	"encoding/xml"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/ternarybob/indago/internal/models"
)

// parseXML builds a document for an XML page. The root element name stands
// in for the page type, so sitemaps index as "urlset" and feeds as "rss" or
// "feed". Pages that parse as a valid web feed are flagged for feed
// auto-discovery.
func (p *Parser) parseXML(page *FetchedPage) (*models.Document, error) {
	root, title := xmlOutline(page.Body)
	if p.isExcludedType(root) {
		p.logger.Info().Str("url", page.FinalURL).Str("page_type", root).Msg("Excluding page, type is on the exclusion list")
		return nil, nil
	}

	item := p.newDocument(page)
	item.PageType = root
	item.Title = title

	if feed, err := gofeed.NewParser().Parse(bytes.NewReader(page.Body)); err == nil && feed != nil {
		item.IsWebFeed = true
		if item.Title == "" {
			item.Title = strings.TrimSpace(feed.Title)
		}
	}

	item.ContentLastModified = p.resolveContentLastModified(item)
	return item, nil
}

// xmlOutline scans for the root element name and the first title element.
// The first title is the channel or feed title in every feed dialect, since
// entry titles always nest deeper. Scanning stops at the first malformed
// token and returns whatever was found.
func xmlOutline(body []byte) (root, title string) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.Strict = false

	var collecting bool
	var buf strings.Builder
	for root == "" || title == "" {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := token.(type) {
		case xml.StartElement:
			if root == "" {
				root = t.Name.Local
			}
			if title == "" && t.Name.Local == "title" {
				collecting = true
				buf.Reset()
			}
		case xml.CharData:
			if collecting {
				buf.Write(t)
			}
		case xml.EndElement:
			if collecting && t.Name.Local == "title" {
				collecting = false
				title = strings.TrimSpace(buf.String())
			}
		}
	}
	return root, title
}
