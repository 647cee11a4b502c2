// Package indexer buffers one crawl's documents and flushes them to the
// search index in a single commit, then records the outcome in the
// registry. A full index replaces the domain's documents with no window
// where the index is empty; an incremental index only adds.
package indexer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
	"github.com/ternarybob/indago/internal/services/chunker"
)

const (
	warnNoDocuments = "WARNING: No documents found. "
	disableReason   = "Indexing failed twice in a row, so indexing_enabled set to false"
)

// Service builds per-crawl writers around the shared pipeline dependencies
type Service struct {
	index    interfaces.SearchIndex
	registry interfaces.RegistryStore
	chunks   *chunker.Service
	mailer   interfaces.MailerService
	logger   arbor.ILogger
}

func NewService(index interfaces.SearchIndex, registry interfaces.RegistryStore, chunks *chunker.Service, mailer interfaces.MailerService, logger arbor.ILogger) *Service {
	return &Service{
		index:    index,
		registry: registry,
		chunks:   chunks,
		mailer:   mailer,
		logger:   logger,
	}
}

// NewWriter opens a document buffer for one site crawl. priors holds the
// currently indexed content per URL, used for chunk reuse.
func (s *Service) NewWriter(site *models.SiteConfig, priors map[string]models.PriorContent) *Writer {
	return &Writer{
		service: s,
		site:    site,
		priors:  priors,
		byKey:   make(map[string]int),
	}
}

// Writer collects the documents of one crawl until Close flushes them.
// Add and Count are safe for concurrent use; Close must wait until the
// crawl's fetch handlers have drained.
type Writer struct {
	service *Service
	site    *models.SiteConfig
	priors  map[string]models.PriorContent

	mu    sync.Mutex
	docs  []*models.Document
	byKey map[string]int
}

// Add buffers a parsed document. Two documents are duplicates when their
// URLs are equal after dropping one "www." and their titles match; sites
// often serve the same page on both hosts. The home page wins a duplicate
// pair regardless of arrival order. Reports whether the document was kept.
func (w *Writer) Add(doc *models.Document) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := strings.Replace(doc.URL, "www.", "", 1)
	if i, ok := w.byKey[key]; ok {
		kept := w.docs[i]
		if kept.Title == doc.Title {
			if doc.IsHome && !kept.IsHome {
				w.service.logger.Info().Str("url", kept.URL).Str("replaced_by", doc.URL).Msg("Replacing duplicate with the home page")
				w.docs[i] = doc
				return true
			}
			w.service.logger.Info().Str("url", doc.URL).Str("duplicate_of", kept.URL).Msg("Not going to add page, duplicate of an already collected URL")
			return false
		}
	}
	w.byKey[key] = len(w.docs)
	w.docs = append(w.docs, doc)
	return true
}

// Count returns the number of buffered documents
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.docs)
}

// Close flushes the crawl and records its outcome. The returned message is
// the COMPLETE log message. An error means nothing was recorded and the
// domain stays RUNNING for the stuck-job sweep to recover.
func (w *Writer) Close(ctx context.Context, stats models.CrawlStats, feedLinks []string) (string, error) {
	if len(w.docs) == 0 {
		return w.closeEmpty(ctx, stats)
	}

	if err := w.resolveFeeds(ctx); err != nil {
		return "", err
	}
	w.tagFeedEntries(feedLinks)

	for _, doc := range w.docs {
		var prior *models.PriorContent
		if p, ok := w.priors[doc.URL]; ok {
			prior = &p
		}
		w.service.chunks.AttachChunks(ctx, doc, w.site.ChunkLimit, prior, w.site.FullIndex)
	}

	if w.site.FullIndex {
		if err := w.service.index.DeleteDomain(ctx, w.site.Domain, false); err != nil {
			return "", fmt.Errorf("failed to clear domain before reindex: %w", err)
		}
	}
	if err := w.service.index.AddDocuments(ctx, w.docs, false); err != nil {
		return "", fmt.Errorf("failed to add documents: %w", err)
	}
	if err := w.service.index.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit index update: %w", err)
	}

	message := fmt.Sprintf("SUCCESS: %d documents found. log_count/WARNING: %d, log_count/ERROR: %d",
		len(w.docs), stats.WarningCount, stats.ErrorCount)
	if err := w.service.registry.MarkComplete(ctx, w.site.Domain, w.site.FullIndex, true, message); err != nil {
		return "", err
	}

	w.service.logger.Info().
		Str("domain", w.site.Domain).
		Int("documents", len(w.docs)).
		Bool("full_index", w.site.FullIndex).
		Msg("Indexing complete")
	return message, nil
}

// closeEmpty handles a crawl that produced no documents. The first
// occurrence only logs a warning and leaves the indexed documents alone; a
// second consecutive one deletes the domain from the index and disables
// indexing.
func (w *Writer) closeEmpty(ctx context.Context, stats models.CrawlStats) (string, error) {
	message := warnNoDocuments
	if stats.RobotsForbidden > 0 {
		message += "Likely robots.txt forbidden: "
	} else if stats.RetriesExhausted > 0 {
		message += "Likely site timeout: "
	}
	message += fmt.Sprintf("robotstxt/forbidden %d, retry/max_reached %d", stats.RobotsForbidden, stats.RetriesExhausted)

	previous, err := w.service.registry.LastCompleteLogMessage(ctx, w.site.Domain)
	if err != nil {
		return "", err
	}

	if err := w.service.registry.MarkComplete(ctx, w.site.Domain, w.site.FullIndex, false, message); err != nil {
		return "", err
	}
	w.service.logger.Warn().Str("domain", w.site.Domain).Msg(message)

	if !strings.HasPrefix(previous, "WARNING: No documents found") {
		return message, nil
	}

	if err := w.service.index.DeleteDomain(ctx, w.site.Domain, true); err != nil {
		return "", fmt.Errorf("failed to delete documents for disabled domain: %w", err)
	}
	if err := w.service.registry.DeactivateIndexing(ctx, w.site.Domain, disableReason); err != nil {
		return "", err
	}
	w.service.logger.Warn().Str("domain", w.site.Domain).Msg("Two crawls in a row found no documents, indexing disabled")

	if w.site.Tier == 3 && w.service.mailer != nil && w.service.mailer.IsConfigured() {
		subject := fmt.Sprintf("Indexing disabled for %s", w.site.Domain)
		body := fmt.Sprintf("Indexing of %s found no documents twice in a row, so indexing has been disabled.\n\n"+
			"Last crawl outcome: %s\n\n"+
			"Re-enable indexing once the site is reachable again.\n", w.site.Domain, message)
		if err := w.service.mailer.SendEmail("", "", subject, body); err != nil {
			w.service.logger.Warn().Err(err).Str("domain", w.site.Domain).Msg("Failed to send indexing disabled alert")
		}
	}

	return message, nil
}

// tagFeedEntries marks the buffered documents whose URL appeared as an
// entry in the site's web feed.
func (w *Writer) tagFeedEntries(feedLinks []string) {
	if len(feedLinks) == 0 {
		return
	}
	inFeed := make(map[string]bool, len(feedLinks))
	for _, link := range feedLinks {
		inFeed[link] = true
	}
	for _, doc := range w.docs {
		if inFeed[doc.URL] {
			doc.InWebFeed = true
		}
	}
}
