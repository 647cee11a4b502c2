package solr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
)

const (
	// inlinkRows bounds the inbound-link discovery query.
	inlinkRows = 10000

	// domainRows bounds per-domain page queries.
	domainRows = 1000
)

// parentQuery matches a domain's parent documents. Documents indexed before
// the relationship field existed carry no value, so children are excluded
// with a negative clause rather than selecting relationship:parent.
func parentQuery(domain string) string {
	return fmt.Sprintf("domain:%s AND -relationship:%s", domain, models.RelationshipChild)
}

// IndexedInlinks finds indexed pages linking into a domain and inverts the
// result into target URL -> list of inbound URLs.
func (c *Client) IndexedInlinks(ctx context.Context, domain string) (map[string][]string, error) {
	params := url.Values{}
	params.Set("q", "*:*")
	params.Set("fq", fmt.Sprintf("indexed_outlinks:*%s*", domain))
	params.Set("fl", "url,indexed_outlinks")
	params.Set("rows", strconv.Itoa(inlinkRows))

	var docs []outlinkDoc
	if _, err := c.Select(ctx, params, &docs); err != nil {
		return nil, fmt.Errorf("failed to load inlinks for %s: %w", domain, err)
	}

	// The filter query cannot restrict matches within the multivalued
	// field to the target domain, so other domains are dropped here.
	inlinks := make(map[string][]string)
	for _, doc := range docs {
		for _, outlink := range doc.IndexedOutlinks {
			if strings.Contains(outlink, domain) {
				inlinks[outlink] = append(inlinks[outlink], doc.URL)
			}
		}
	}
	return inlinks, nil
}

// AlreadyIndexedURLs lists the parent page URLs currently indexed for a domain.
func (c *Client) AlreadyIndexedURLs(ctx context.Context, domain string) ([]string, error) {
	params := url.Values{}
	params.Set("q", parentQuery(domain))
	params.Set("fl", "url")
	params.Set("rows", strconv.Itoa(domainRows))

	var docs []urlDoc
	if _, err := c.Select(ctx, params, &docs); err != nil {
		return nil, fmt.Errorf("failed to load indexed URLs for %s: %w", domain, err)
	}

	urls := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc.URL != "" {
			urls = append(urls, doc.URL)
		}
	}
	return urls, nil
}

// PriorContents returns the indexed content and chunks per page URL for a
// domain, keyed by URL.
func (c *Client) PriorContents(ctx context.Context, domain string) (map[string]models.PriorContent, error) {
	params := url.Values{}
	params.Set("q", parentQuery(domain))
	params.Set("fl", "url,content,content_last_modified,content_chunks,[child]")
	params.Set("rows", strconv.Itoa(domainRows))

	var docs []priorDoc
	if _, err := c.Select(ctx, params, &docs); err != nil {
		return nil, fmt.Errorf("failed to load prior contents for %s: %w", domain, err)
	}

	contents := make(map[string]models.PriorContent, len(docs))
	for _, doc := range docs {
		if doc.URL == "" {
			continue
		}
		contents[doc.URL] = models.PriorContent{
			Content:             doc.Content,
			ContentLastModified: doc.ContentLastModified,
			Chunks:              doc.Chunks,
		}
	}
	return contents, nil
}

// AddDocuments submits documents, with nested chunk children, to the index.
func (c *Client) AddDocuments(ctx context.Context, docs []*models.Document, commit bool) error {
	if len(docs) == 0 {
		return nil
	}
	payload, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("failed to encode documents: %w", err)
	}
	if err := c.update(ctx, "application/json", payload, commit); err != nil {
		return fmt.Errorf("failed to add %d documents: %w", len(docs), err)
	}
	return nil
}

// DeleteDomain removes every document belonging to a domain.
func (c *Client) DeleteDomain(ctx context.Context, domain string, commit bool) error {
	payload := []byte(fmt.Sprintf("<delete><query>domain:%s</query></delete>", domain))
	if err := c.update(ctx, "text/xml", payload, commit); err != nil {
		return fmt.Errorf("failed to delete documents for %s: %w", domain, err)
	}
	return nil
}

// Commit makes all pending updates visible.
func (c *Client) Commit(ctx context.Context) error {
	reqURL := c.baseURL + "/update"
	if _, err := c.do(ctx, http.MethodPost, reqURL, "text/xml", []byte("<commit/>")); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

var _ interfaces.SearchIndex = (*Client)(nil)
