// Package solr provides a client for the Solr core holding the page index.
// This package centralizes all search index interactions for the application.
package solr

import (
	"encoding/json"
	"fmt"

	"github.com/ternarybob/indago/internal/models"
)

// APIError represents an error response from Solr.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("solr error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// selectEnvelope is the standard Solr select response wrapper.
type selectEnvelope struct {
	Response struct {
		NumFound int             `json:"numFound"`
		Docs     json.RawMessage `json:"docs"`
	} `json:"response"`
}

// outlinkDoc carries the fields needed to invert the link graph.
type outlinkDoc struct {
	URL             string   `json:"url"`
	IndexedOutlinks []string `json:"indexed_outlinks"`
}

// urlDoc carries just the page URL.
type urlDoc struct {
	URL string `json:"url"`
}

// priorDoc is a parent document with its nested chunks, as returned by a
// select with the child doc transformer.
type priorDoc struct {
	URL                 string         `json:"url"`
	Content             string         `json:"content"`
	ContentLastModified string         `json:"content_last_modified"`
	Chunks              []models.Chunk `json:"content_chunks"`
}
