package crawler

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// retryPolicy decides which fetch failures are worth another attempt and
// how long to pause between attempts.
type retryPolicy struct {
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func newRetryPolicy(maxAttempts int) *retryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &retryPolicy{
		maxAttempts:    maxAttempts,
		initialBackoff: time.Second,
		maxBackoff:     15 * time.Second,
	}
}

// Transient server conditions. Any other status code is the site's answer
// and retrying would not change it.
var retryableStatusCodes = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

func (p *retryPolicy) retryable(statusCode int, err error) bool {
	if statusCode > 0 {
		return retryableStatusCodes[statusCode]
	}
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Transport failures without a more specific type arrive wrapped in
	// url.Error values.
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// backoff returns the pause before retry number attempt, exponential with
// jitter so parallel retries against one host spread out.
func (p *retryPolicy) backoff(attempt int) time.Duration {
	d := p.initialBackoff
	for i := 1; i < attempt && d < p.maxBackoff; i++ {
		d *= 2
	}
	if d > p.maxBackoff {
		d = p.maxBackoff
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

// retryTracker counts fetch failures per URL across handler invocations
type retryTracker struct {
	mu       sync.Mutex
	failures map[string]int
}

func newRetryTracker() *retryTracker {
	return &retryTracker{failures: make(map[string]int)}
}

// next records a failure for url and returns how many it has had so far
func (t *retryTracker) next(url string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[url]++
	return t.failures[url]
}

func isRobotsBlocked(err error) bool {
	return errors.Is(err, colly.ErrRobotsTxtBlocked)
}

func alreadyVisited(err error) bool {
	var visited *colly.AlreadyVisitedError
	return errors.As(err, &visited)
}

// isExpectedSkip reports enqueue refusals that are part of normal
// crawling: the depth budget and the URL deny filters.
func isExpectedSkip(err error) bool {
	return errors.Is(err, colly.ErrMaxDepth) || errors.Is(err, colly.ErrForbiddenURL)
}
