package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/models"
)

// parseHTML extracts the full document field set from an HTML page. The
// page type is resolved before anything else so excluded types cost no
// further work.
func (p *Parser) parseHTML(page *FetchedPage) (*models.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML for %s: %w", page.FinalURL, err)
	}

	pageType := metaContent(doc, `meta[property="og:type"]`)
	if pageType == "" {
		pageType = strings.TrimSpace(doc.Find("article[data-post-type]").AttrOr("data-post-type", ""))
	}
	if p.isExcludedType(pageType) {
		p.logger.Info().Str("url", page.FinalURL).Str("page_type", pageType).Msg("Excluding page, type is on the exclusion list")
		return nil, nil
	}

	item := p.newDocument(page)
	item.PageType = pageType
	item.Title = strings.TrimSpace(doc.Find("title").First().Text())
	item.Author = metaContent(doc, `meta[name="author"]`)

	item.Description = metaContent(doc, `meta[name="description"]`)
	if item.Description == "" {
		item.Description = metaContent(doc, `meta[property="og:description"]`)
	}

	if tags := metaContent(doc, `meta[name="keywords"]`); tags != "" {
		item.Tags = splitTags(tags)
	} else if tags := metaContent(doc, `meta[property="article:tag"]`); tags != "" {
		item.Tags = splitTags(tags)
	}

	published := metaContent(doc, `meta[property="article:published_time"]`)
	if published == "" {
		published = metaContent(doc, `meta[name="dc.date.issued"]`)
	}
	if published == "" {
		published = metaContent(doc, `meta[itemprop="datePublished"]`)
	}
	if published != "" {
		if formatted, ok := ParseDateToUTC(published); ok {
			item.PublishedDate = formatted
		}
	}

	if language, ok := doc.Find("html").Attr("lang"); ok && language != "" {
		item.Language = language
		item.LanguagePrimary = primaryLanguage(language)
	}

	item.ContainsAdverts = doc.Find(`ins[class*="adsbygoogle"]`).Length() > 0
	item.Content = extractContent(doc)
	item.IndexedOutlinks = p.extractOutlinks(doc, page.FinalURL)
	item.ContentLastModified = p.resolveContentLastModified(item)

	return item, nil
}

// extractContent pulls the readable text of a page. Navigation chrome is
// stripped first, then the most specific of main, article or body is
// flattened to single-spaced phrases.
func extractContent(doc *goquery.Document) string {
	body := doc.Find("body").First()
	body.Find("nav, header, footer").Remove()

	target := body
	if main := body.Find("main").First(); main.Length() > 0 {
		target = main
	} else if article := body.Find("article").First(); article.Length() > 0 {
		target = article
	}
	return common.NormalizeText(target.Text())
}

// extractOutlinks collects links pointing at other registered domains.
// They are written to the index so inlinks can be rebuilt for the target
// site on its next crawl.
func (p *Parser) extractOutlinks(doc *goquery.Document, pageURL string) []string {
	if len(p.outlinkDomains) == 0 {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var outlinks []string
	seen := make(map[string]bool)
	doc.Find("a[href], area[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		link := resolved.String()
		if seen[link] || !p.outlinkDomains[common.ExtractDomain(link, p.allowSubdomains)] {
			return
		}
		seen[link] = true
		outlinks = append(outlinks, link)
	})
	return outlinks
}

// metaContent returns the trimmed content attribute of the first element
// matching the selector.
func metaContent(doc *goquery.Document, selector string) string {
	value, _ := doc.Find(selector).Attr("content")
	return strings.TrimSpace(value)
}

// splitTags breaks a tag meta value into individual tags. Comma is the
// usual separator; a value with no commas but several spaces is treated as
// space-separated.
func splitTags(tags string) []string {
	var parts []string
	if !strings.Contains(tags, ",") && strings.Count(tags, " ") > 1 {
		parts = strings.Split(tags, " ")
	} else {
		parts = strings.Split(tags, ",")
	}

	var out []string
	for _, tag := range parts {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

func primaryLanguage(language string) string {
	if len(language) > 2 {
		return language[:2]
	}
	return language
}
