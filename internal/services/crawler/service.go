// Package crawler runs indexing jobs end to end: it fetches one site at a
// time, parses what it finds into documents and hands them to the index
// writer. Crawls are polite: they honour robots.txt, keep per-domain
// concurrency and delay within the configured bounds and stop after a
// wall-clock cap.
package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
	"github.com/ternarybob/indago/internal/services/indexer"
	"github.com/ternarybob/indago/internal/services/parser"
)

// Service crawls and indexes sites. It implements interfaces.SiteIndexer
// for the scheduler.
type Service struct {
	config   common.CrawlerConfig
	index    interfaces.SearchIndex
	registry interfaces.RegistryStore
	writers  *indexer.Service
	logger   arbor.ILogger
}

func NewService(config common.CrawlerConfig, index interfaces.SearchIndex, registry interfaces.RegistryStore, writers *indexer.Service, logger arbor.ILogger) *Service {
	return &Service{
		config:   config,
		index:    index,
		registry: registry,
		writers:  writers,
		logger:   logger,
	}
}

var _ interfaces.SiteIndexer = (*Service)(nil)

// IndexSite crawls one site and flushes the result to the index. An error
// means nothing was recorded and the domain stays RUNNING until the
// stuck-job sweep returns it to PENDING.
func (s *Service) IndexSite(ctx context.Context, site models.SiteConfig, commonConfig *models.CommonConfig) error {
	start := time.Now()
	s.logger.Info().
		Str("domain", site.Domain).
		Bool("full_index", site.FullIndex).
		Int("page_limit", site.PageLimit).
		Msg("Starting indexing job")

	inlinks, err := s.index.IndexedInlinks(ctx, site.Domain)
	if err != nil {
		return fmt.Errorf("failed to load indexed inlinks for %s: %w", site.Domain, err)
	}
	priors, err := s.index.PriorContents(ctx, site.Domain)
	if err != nil {
		return fmt.Errorf("failed to load indexed contents for %s: %w", site.Domain, err)
	}

	var already map[string]bool
	if !site.FullIndex {
		urls, err := s.index.AlreadyIndexedURLs(ctx, site.Domain)
		if err != nil {
			return fmt.Errorf("failed to load indexed URLs for %s: %w", site.Domain, err)
		}
		if site.PageLimit > 0 && len(urls) >= site.PageLimit {
			message := fmt.Sprintf("The indexing page limit was reached on the last index, so not going to perform incremental reindex for %s", site.Domain)
			s.logger.Info().Str("domain", site.Domain).Msg(message)
			return s.registry.MarkComplete(ctx, site.Domain, false, true, message)
		}
		already = make(map[string]bool, len(urls))
		for _, u := range urls {
			already[u] = true
		}
	}

	writer := s.writers.NewWriter(&site, priors)
	pages := parser.New(&site, commonConfig, inlinks, priors, s.logger)

	stats, feedLinks := newCrawl(s, &site, commonConfig, pages, writer, already).run(ctx)

	message, err := writer.Close(ctx, stats, feedLinks)
	if err != nil {
		return fmt.Errorf("failed to record indexing result for %s: %w", site.Domain, err)
	}

	s.logger.Info().
		Str("domain", site.Domain).
		Str("close_reason", stats.CloseReason).
		Int("pages_fetched", stats.PagesFetched).
		Str("outcome", message).
		Dur("duration", time.Since(start)).
		Msg("Finished indexing job")
	return nil
}
