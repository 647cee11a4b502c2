package models

// Crawl close reasons
const (
	CloseReasonFinished  = "finished"
	CloseReasonTimeout   = "timeout"
	CloseReasonPageLimit = "page_limit"
)

// CrawlStats counts what happened during one site crawl. The counters
// feed the completion log message, so their meaning is stable.
type CrawlStats struct {
	PagesFetched     int    `json:"pages_fetched"`
	RobotsForbidden  int    `json:"robots_forbidden"`  // Requests denied by robots.txt
	RetriesExhausted int    `json:"retries_exhausted"` // Requests still failing after the retry budget
	WarningCount     int    `json:"warning_count"`
	ErrorCount       int    `json:"error_count"`
	CloseReason      string `json:"close_reason"`
}

// CrawlResult is everything one site crawl produced
type CrawlResult struct {
	Documents []*Document `json:"documents"`
	FeedLinks []string    `json:"feed_links,omitempty"` // Entry URLs collected from the web feed
	Stats     CrawlStats  `json:"stats"`
}
