package crawler

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/mmcdole/gofeed"

	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/models"
	"github.com/ternarybob/indago/internal/services/indexer"
	"github.com/ternarybob/indago/internal/services/parser"
)

// crawl is the state of one site crawl. Colly runs the fetch handlers on
// its own goroutines, so everything they share sits behind mu.
type crawl struct {
	service *Service
	site    *models.SiteConfig
	pages   *parser.Parser
	writer  *indexer.Writer
	already map[string]bool // URLs indexed by earlier crawls, incremental only

	allowSubdomains []string
	pageLimit       int // documents this crawl may accept, 0 is unlimited
	policy          *retryPolicy
	retries         *retryTracker

	ctx       context.Context
	collector *colly.Collector

	mu         sync.Mutex
	requested  map[uint32]string // request ID to its URL before redirects
	robotsSeen map[string]bool
	accepted   int
	feedLinks  []string
	stats      models.CrawlStats
}

func newCrawl(service *Service, site *models.SiteConfig, commonConfig *models.CommonConfig, pages *parser.Parser, writer *indexer.Writer, already map[string]bool) *crawl {
	limit := site.PageLimit
	if !site.FullIndex && limit > 0 {
		// Pages kept from earlier crawls still count toward the limit
		limit -= len(already)
	}
	var allowSubdomains []string
	if commonConfig != nil {
		allowSubdomains = commonConfig.AllowSubdomains
	}
	return &crawl{
		service:         service,
		site:            site,
		pages:           pages,
		writer:          writer,
		already:         already,
		allowSubdomains: allowSubdomains,
		pageLimit:       limit,
		policy:          newRetryPolicy(service.config.MaxRetries),
		retries:         newRetryTracker(),
		requested:       make(map[uint32]string),
		robotsSeen:      make(map[string]bool),
	}
}

// run crawls the site's start set and everything reachable from it within
// the crawl's depth, page and time budgets. The crawl never fails as a
// whole: fetch problems become counters that shape the completion message.
func (cr *crawl) run(ctx context.Context) (models.CrawlStats, []string) {
	if cap := cr.service.config.MaxCrawlTime; cap > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cap)
		defer cancel()
	}
	cr.ctx = ctx
	cr.collector = cr.newCollector(ctx)

	cr.start(cr.site.HomePage)
	if feed := cr.site.WebFeed; feed != "" && !sameURL(feed, cr.site.HomePage) {
		cr.start(feed)
	}
	cr.collector.Wait()

	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.stats.CloseReason == "" {
		if ctx.Err() != nil {
			cr.stats.CloseReason = models.CloseReasonTimeout
		} else {
			cr.stats.CloseReason = models.CloseReasonFinished
		}
	}
	return cr.stats, cr.feedLinks
}

func (cr *crawl) newCollector(ctx context.Context) *colly.Collector {
	cfg := cr.service.config
	opts := []colly.CollectorOption{
		colly.UserAgent(cfg.UserAgent),
		colly.Async(true),
		colly.DisallowedURLFilters(denyFilters(cr.site)...),
	}
	if !cr.site.FullIndex {
		// Incremental crawls look one hop past the start set
		opts = append(opts, colly.MaxDepth(2))
	}
	if !cfg.FollowRobotsTxt {
		opts = append(opts, colly.IgnoreRobotsTxt())
	}
	c := colly.NewCollector(opts...)
	c.MaxBodySize = cfg.MaxBodySize
	c.SetRequestTimeout(cfg.RequestTimeout)
	c.WithTransport(&contextAwareTransport{base: http.DefaultTransport, ctx: ctx})

	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.MaxConcurrency,
		Delay:       cfg.RequestDelay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		cr.service.logger.Warn().Err(err).Msg("Failed to apply crawl rate limit")
	}

	c.OnRequest(cr.onRequest)
	c.OnResponse(cr.onResponse)
	c.OnError(cr.onError)
	c.OnHTML("a[href], area[href]", func(e *colly.HTMLElement) {
		cr.enqueueLink(e.Request, e.Attr("href"))
	})
	return c
}

// start enqueues one of the crawl's entry URLs. Entry fetches that keep
// failing are retried here because a site whose home page is unreachable
// would otherwise end the crawl with nothing but a single error.
func (cr *crawl) start(url string) {
	for attempt := 1; ; attempt++ {
		err := cr.collector.Visit(url)
		if err == nil || alreadyVisited(err) {
			return
		}
		if isRobotsBlocked(err) {
			cr.countRobotsBlock(url)
			cr.service.logger.Warn().Str("url", url).Msg("Start URL blocked by robots.txt")
			return
		}
		if cr.ctx.Err() != nil || !cr.policy.retryable(0, err) || attempt > cr.policy.maxAttempts {
			cr.mu.Lock()
			if cr.policy.retryable(0, err) {
				cr.stats.RetriesExhausted++
			}
			cr.stats.ErrorCount++
			cr.mu.Unlock()
			cr.service.logger.Error().Err(err).Str("url", url).Msg("Failed to fetch start URL")
			return
		}
		time.Sleep(cr.policy.backoff(attempt))
	}
}

func (cr *crawl) onRequest(r *colly.Request) {
	if cr.ctx.Err() != nil {
		cr.setCloseReason(models.CloseReasonTimeout)
		r.Abort()
		return
	}
	if cr.limitReached() {
		r.Abort()
		return
	}
	cr.mu.Lock()
	cr.requested[r.ID] = r.URL.String()
	cr.mu.Unlock()
	cr.service.logger.Debug().Str("url", r.URL.String()).Msg("Fetching page")
}

func (cr *crawl) onResponse(r *colly.Response) {
	requestURL := cr.requestURL(r)
	finalURL := r.Request.URL.String()

	cr.mu.Lock()
	cr.stats.PagesFetched++
	cr.mu.Unlock()

	if warn := cr.service.config.WarnBodySize; warn > 0 && len(r.Body) > warn {
		cr.mu.Lock()
		cr.stats.WarningCount++
		cr.mu.Unlock()
		cr.service.logger.Warn().Str("url", finalURL).Int("bytes", len(r.Body)).Msg("Response body is unusually large")
	}

	isFeed := cr.isFeedURL(requestURL) || cr.isFeedURL(finalURL)
	if isFeed {
		cr.collectFeedEntries(r)
	}

	doc, err := cr.pages.Parse(&parser.FetchedPage{
		RequestURL:   requestURL,
		FinalURL:     finalURL,
		ContentType:  strings.TrimSpace(strings.Split(r.Headers.Get("Content-Type"), ";")[0]),
		LastModified: r.Headers.Get("Last-Modified"),
		IsHome:       cr.site.FullIndex && sameURL(requestURL, cr.site.HomePage),
		Body:         r.Body,
	})
	if err != nil {
		cr.mu.Lock()
		cr.stats.ErrorCount++
		cr.mu.Unlock()
		cr.service.logger.Error().Err(err).Str("url", finalURL).Msg("Failed to parse page")
		return
	}
	if doc == nil {
		return
	}
	if !cr.site.FullIndex && !isFeed && cr.already[doc.URL] {
		// Refetched only to discover links to pages not yet indexed
		return
	}

	cr.writer.Add(doc)
	cr.mu.Lock()
	cr.accepted++
	hit := cr.pageLimit > 0 && cr.accepted >= cr.pageLimit
	cr.mu.Unlock()
	if hit {
		cr.setCloseReason(models.CloseReasonPageLimit)
	}
}

func (cr *crawl) onError(r *colly.Response, err error) {
	cr.mu.Lock()
	delete(cr.requested, r.Request.ID)
	cr.mu.Unlock()

	if cr.ctx.Err() != nil {
		cr.setCloseReason(models.CloseReasonTimeout)
		return
	}

	url := r.Request.URL.String()
	if !cr.policy.retryable(r.StatusCode, err) {
		cr.service.logger.Debug().Err(err).Str("url", url).Int("status", r.StatusCode).Msg("Page not fetched")
		return
	}

	attempt := cr.retries.next(url)
	if attempt <= cr.policy.maxAttempts {
		time.Sleep(cr.policy.backoff(attempt))
		if cr.ctx.Err() == nil && r.Request.Retry() == nil {
			return
		}
	}
	cr.mu.Lock()
	cr.stats.RetriesExhausted++
	cr.stats.ErrorCount++
	cr.mu.Unlock()
	cr.service.logger.Error().Err(err).Str("url", url).Int("status", r.StatusCode).Msg("Giving up on page after retries")
}

// enqueueLink schedules a link found on a fetched page. Only same-site
// http(s) links are followed; incremental crawls skip links to pages that
// are already indexed.
func (cr *crawl) enqueueLink(req *colly.Request, href string) {
	absolute := req.AbsoluteURL(href)
	if absolute == "" {
		return
	}
	if !strings.HasPrefix(absolute, "http://") && !strings.HasPrefix(absolute, "https://") {
		return
	}
	if common.ExtractDomain(absolute, cr.allowSubdomains) != cr.site.Domain {
		return
	}
	if !cr.site.FullIndex && cr.already[absolute] {
		return
	}
	if cr.limitReached() {
		return
	}

	err := req.Visit(absolute)
	switch {
	case err == nil:
	case isRobotsBlocked(err):
		cr.countRobotsBlock(absolute)
		cr.service.logger.Debug().Str("url", absolute).Msg("Link blocked by robots.txt")
	case alreadyVisited(err), isExpectedSkip(err):
	default:
		cr.service.logger.Debug().Err(err).Str("url", absolute).Msg("Link not followed")
	}
}

// collectFeedEntries records the web feed's entry links and enqueues them,
// so posts the feed lists are fetched even when no page links to them.
func (cr *crawl) collectFeedEntries(r *colly.Response) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(r.Body))
	if err != nil {
		cr.service.logger.Debug().Err(err).Str("url", r.Request.URL.String()).Msg("Web feed did not parse")
		return
	}
	for _, item := range feed.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}
		if !cr.site.FullIndex && cr.already[link] {
			continue
		}
		cr.mu.Lock()
		cr.feedLinks = append(cr.feedLinks, link)
		cr.mu.Unlock()
		cr.enqueueLink(r.Request, link)
	}
}

// requestURL returns the URL a response was requested as, before any
// redirects, falling back to the final URL for requests that predate the
// crawl's bookkeeping.
func (cr *crawl) requestURL(r *colly.Response) string {
	cr.mu.Lock()
	original, ok := cr.requested[r.Request.ID]
	delete(cr.requested, r.Request.ID)
	cr.mu.Unlock()
	if !ok || original == "" {
		return r.Request.URL.String()
	}
	return original
}

func (cr *crawl) isFeedURL(url string) bool {
	return cr.site.WebFeed != "" && sameURL(url, cr.site.WebFeed)
}

func (cr *crawl) limitReached() bool {
	if cr.pageLimit <= 0 {
		return false
	}
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.accepted >= cr.pageLimit
}

func (cr *crawl) setCloseReason(reason string) {
	cr.mu.Lock()
	if cr.stats.CloseReason == "" {
		cr.stats.CloseReason = reason
	}
	cr.mu.Unlock()
}

// countRobotsBlock counts a robots.txt refusal once per URL, however many
// pages link to it.
func (cr *crawl) countRobotsBlock(url string) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.robotsSeen[url] {
		return
	}
	cr.robotsSeen[url] = true
	cr.stats.RobotsForbidden++
}

// sameURL reports whether two URLs differ at most by a trailing slash.
// Registered home and feed URLs are entered with and without one, and URL
// normalization adds one to bare hosts.
func sameURL(a, b string) bool {
	if a == b {
		return true
	}
	return strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
}

// contextAwareTransport cancels in-flight requests when the crawl's
// context expires, which the per-request client timeout cannot do.
type contextAwareTransport struct {
	base http.RoundTripper
	ctx  context.Context
}

func (t *contextAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	select {
	case <-t.ctx.Done():
		return nil, t.ctx.Err()
	default:
	}
	return t.base.RoundTrip(req.WithContext(t.ctx))
}
