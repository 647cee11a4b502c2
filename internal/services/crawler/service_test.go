package crawler

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
	"github.com/ternarybob/indago/internal/services/chunker"
	"github.com/ternarybob/indago/internal/services/indexer"
)

type indexCall struct {
	op     string
	commit bool
	docs   int
}

type mockIndex struct {
	inlinks map[string][]string
	priors  map[string]models.PriorContent
	already []string

	mu    sync.Mutex
	calls []indexCall
	added []*models.Document
}

func (m *mockIndex) IndexedInlinks(ctx context.Context, domain string) (map[string][]string, error) {
	return m.inlinks, nil
}

func (m *mockIndex) AlreadyIndexedURLs(ctx context.Context, domain string) ([]string, error) {
	return m.already, nil
}

func (m *mockIndex) PriorContents(ctx context.Context, domain string) (map[string]models.PriorContent, error) {
	return m.priors, nil
}

func (m *mockIndex) AddDocuments(ctx context.Context, docs []*models.Document, commit bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, indexCall{op: "add", commit: commit, docs: len(docs)})
	m.added = append(m.added, docs...)
	return nil
}

func (m *mockIndex) DeleteDomain(ctx context.Context, domain string, commit bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, indexCall{op: "delete", commit: commit})
	return nil
}

func (m *mockIndex) Commit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, indexCall{op: "commit", commit: true})
	return nil
}

func (m *mockIndex) doc(url string) *models.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.added {
		if d.URL == url {
			return d
		}
	}
	return nil
}

type completedCall struct {
	domain    string
	fullIndex bool
	success   bool
	message   string
}

type mockRegistry struct {
	lastMessage string
	userFeed    string
	userSitemap string

	mu          sync.Mutex
	completed   []completedCall
	deactivated map[string]string
	savedFeed   string
	savedMap    string
}

func (m *mockRegistry) ClaimDomainsToIndex(ctx context.Context) ([]models.SiteConfig, error) {
	return nil, nil
}

func (m *mockRegistry) CommonConfig(ctx context.Context) (*models.CommonConfig, error) {
	return &models.CommonConfig{}, nil
}

func (m *mockRegistry) MarkComplete(ctx context.Context, domain string, fullIndex, success bool, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, completedCall{domain: domain, fullIndex: fullIndex, success: success, message: message})
	return nil
}

func (m *mockRegistry) LastCompleteLogMessage(ctx context.Context, domain string) (string, error) {
	return m.lastMessage, nil
}

func (m *mockRegistry) DeactivateIndexing(ctx context.Context, domain, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deactivated == nil {
		m.deactivated = make(map[string]string)
	}
	m.deactivated[domain] = reason
	return nil
}

func (m *mockRegistry) UserEnteredFeeds(ctx context.Context, domain string) (string, string, error) {
	return m.userFeed, m.userSitemap, nil
}

func (m *mockRegistry) SaveAutoDiscoveredFeeds(ctx context.Context, domain, webFeed, sitemap string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.savedFeed = webFeed
	m.savedMap = sitemap
	return nil
}

func (m *mockRegistry) ResetStuckJobs(ctx context.Context) ([]string, error) { return nil, nil }

func (m *mockRegistry) ExpiredListings(ctx context.Context, tier int) ([]models.ExpiredListing, error) {
	return nil, nil
}

func (m *mockRegistry) ExpireTier1Listing(ctx context.Context, domain string) error { return nil }

func (m *mockRegistry) DemoteListing(ctx context.Context, domain string, tier int) error { return nil }

func (m *mockRegistry) ResetIndexingDefaults(ctx context.Context, domain string, tier int) error {
	return nil
}

func (m *mockRegistry) Close() {}

func (m *mockRegistry) lastCompleted(t *testing.T) completedCall {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.completed)
	return m.completed[len(m.completed)-1]
}

func testConfig() common.CrawlerConfig {
	return common.CrawlerConfig{
		UserAgent:       "Mozilla/5.0 (compatible; indago/1.0; +https://indago.net)",
		MaxConcurrency:  4,
		RequestTimeout:  5 * time.Second,
		MaxBodySize:     1 << 20,
		WarnBodySize:    512 << 10,
		MaxCrawlTime:    time.Minute,
		FollowRobotsTxt: true,
		MaxRetries:      2,
	}
}

func newTestService(cfg common.CrawlerConfig, idx *mockIndex, reg *mockRegistry) *Service {
	logger := arbor.NewLogger()
	chunks := chunker.NewService(&common.EmbeddingsConfig{ChunkSize: 500, ChunkOverlap: 50}, nil, logger)
	writers := indexer.NewService(idx, reg, chunks, nil, logger)
	return NewService(cfg, idx, reg, writers, logger)
}

// testServer serves the given path to body mapping and counts requests
// per path. Unknown paths 404, including robots.txt.
type testServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newTestServer(pages map[string]string) *testServer {
	ts := &testServer{hits: make(map[string]int)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.hits[r.URL.Path]++
		ts.mu.Unlock()
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, ".xml") {
			w.Header().Set("Content-Type", "application/rss+xml")
		} else {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		}
		fmt.Fprint(w, body)
	}))
	return ts
}

func (ts *testServer) hitCount(path string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.hits[path]
}

func testSite(serverURL string) models.SiteConfig {
	return models.SiteConfig{
		Domain:    "127.0.0.1",
		HomePage:  serverURL,
		Tier:      3,
		PageLimit: 50,
		Category:  "personal-website",
		Public:    true,
		FullIndex: true,
	}
}

func htmlDoc(title, body string) string {
	return fmt.Sprintf("<html><head><title>%s</title></head><body>%s</body></html>", title, body)
}

func TestIndexSiteFullCrawl(t *testing.T) {
	ts := newTestServer(map[string]string{
		"/":          htmlDoc("Home", `<p>Welcome.</p><a href="/about">about</a> <a href="/posts/one">post</a> <a href="/download.zip">zip</a> <a href="mailto:me@example.com">mail</a>`),
		"/about":     htmlDoc("About", `<p>About me.</p>`),
		"/posts/one": htmlDoc("First post", `<p>Hello.</p>`),
	})
	defer ts.Close()

	idx := &mockIndex{}
	reg := &mockRegistry{}
	svc := newTestService(testConfig(), idx, reg)

	err := svc.IndexSite(context.Background(), testSite(ts.URL), &models.CommonConfig{})
	require.NoError(t, err)

	assert.Equal(t, []indexCall{
		{op: "delete", commit: false},
		{op: "add", commit: false, docs: 3},
		{op: "commit", commit: true},
	}, idx.calls)

	home := idx.doc(ts.URL + "/")
	require.NotNil(t, home)
	assert.True(t, home.IsHome)
	assert.Equal(t, ts.URL+"/", home.ID)
	assert.Equal(t, "Home", home.Title)

	about := idx.doc(ts.URL + "/about")
	require.NotNil(t, about)
	assert.False(t, about.IsHome)

	done := reg.lastCompleted(t)
	assert.True(t, done.fullIndex)
	assert.True(t, done.success)
	assert.Equal(t, "SUCCESS: 3 documents found. log_count/WARNING: 0, log_count/ERROR: 0", done.message)

	assert.Zero(t, ts.hitCount("/download.zip"), "extension blacklist should keep binaries unfetched")
}

func TestIndexSiteHomeRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/welcome", http.StatusFound)
			return
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/welcome", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, htmlDoc("Welcome", "<p>Hi.</p>"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	idx := &mockIndex{}
	reg := &mockRegistry{}
	svc := newTestService(testConfig(), idx, reg)

	require.NoError(t, svc.IndexSite(context.Background(), testSite(server.URL), &models.CommonConfig{}))

	home := idx.doc(server.URL + "/welcome")
	require.NotNil(t, home, "home doc should be keyed by its final URL")
	assert.Equal(t, server.URL+"/", home.ID, "home doc keeps the pre-redirect URL as its id")
	assert.True(t, home.IsHome)
}

func TestIndexSiteIncrementalFeed(t *testing.T) {
	var ts *testServer
	feed := func() string {
		return `<rss version="2.0"><channel><title>Posts</title>` +
			`<item><title>One</title><link>` + ts.URL + `/post1</link></item>` +
			`<item><title>Two</title><link>` + ts.URL + `/post2</link></item>` +
			`<item><title>Three</title><link>` + ts.URL + `/post3</link></item>` +
			`</channel></rss>`
	}
	mux := http.NewServeMux()
	ts = &testServer{hits: make(map[string]int)}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.hits[r.URL.Path]++
		ts.mu.Unlock()
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, htmlDoc("Home", `<a href="/post1">one</a> <a href="/post2">two</a>`))
		case "/feed.xml":
			w.Header().Set("Content-Type", "application/rss+xml")
			fmt.Fprint(w, feed())
		case "/post1", "/post2", "/post3":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, htmlDoc("Post "+r.URL.Path, "<p>Words.</p>"))
		default:
			http.NotFound(w, r)
		}
	})
	ts.Server = httptest.NewServer(mux)
	defer ts.Close()

	idx := &mockIndex{
		already: []string{ts.URL + "/", ts.URL + "/post1"},
	}
	reg := &mockRegistry{}
	svc := newTestService(testConfig(), idx, reg)

	site := testSite(ts.URL)
	site.FullIndex = false
	site.WebFeed = ts.URL + "/feed.xml"

	require.NoError(t, svc.IndexSite(context.Background(), site, &models.CommonConfig{}))

	for _, call := range idx.calls {
		assert.NotEqual(t, "delete", call.op, "incremental reindex must not clear the domain")
	}

	require.NotNil(t, idx.doc(ts.URL+"/feed.xml"), "the feed itself is indexed as an XML page")
	post2 := idx.doc(ts.URL + "/post2")
	require.NotNil(t, post2)
	assert.True(t, post2.InWebFeed)
	assert.False(t, post2.IsHome)
	require.NotNil(t, idx.doc(ts.URL+"/post3"), "feed entries are fetched even when unlinked")

	assert.Nil(t, idx.doc(ts.URL+"/"), "already indexed home is not re-added")
	assert.Nil(t, idx.doc(ts.URL+"/post1"), "already indexed entries are skipped")
	assert.Zero(t, ts.hitCount("/post1"))

	done := reg.lastCompleted(t)
	assert.False(t, done.fullIndex)
	assert.True(t, done.success)
	assert.Equal(t, "SUCCESS: 3 documents found. log_count/WARNING: 0, log_count/ERROR: 0", done.message)
}

func TestIndexSiteRobotsBlocked(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("page %s fetched despite robots.txt", r.URL.Path)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	idx := &mockIndex{}
	reg := &mockRegistry{}
	svc := newTestService(testConfig(), idx, reg)

	require.NoError(t, svc.IndexSite(context.Background(), testSite(server.URL), &models.CommonConfig{}))

	done := reg.lastCompleted(t)
	assert.False(t, done.success)
	assert.Equal(t, "WARNING: No documents found. Likely robots.txt forbidden: robotstxt/forbidden 1, retry/max_reached 0", done.message)
	assert.Empty(t, idx.calls, "nothing should reach the index")
	assert.Empty(t, reg.deactivated, "first empty crawl only warns")
}

func TestIndexSiteSecondEmptyCrawlDisables(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /\n")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	idx := &mockIndex{}
	reg := &mockRegistry{
		lastMessage: "WARNING: No documents found. Likely robots.txt forbidden: robotstxt/forbidden 1, retry/max_reached 0",
	}
	svc := newTestService(testConfig(), idx, reg)

	require.NoError(t, svc.IndexSite(context.Background(), testSite(server.URL), &models.CommonConfig{}))

	assert.Equal(t, []indexCall{{op: "delete", commit: true}}, idx.calls)
	assert.Equal(t, "Indexing failed twice in a row, so indexing_enabled set to false", reg.deactivated["127.0.0.1"])
}

func TestIndexSiteDeadSite(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadURL := "http://" + listener.Addr().String()
	require.NoError(t, listener.Close())

	idx := &mockIndex{}
	reg := &mockRegistry{}
	svc := newTestService(testConfig(), idx, reg)

	require.NoError(t, svc.IndexSite(context.Background(), testSite(deadURL), &models.CommonConfig{}))

	done := reg.lastCompleted(t)
	assert.False(t, done.success)
	assert.Equal(t, "WARNING: No documents found. Likely site timeout: robotstxt/forbidden 0, retry/max_reached 1", done.message)
}

func TestIndexSitePageLimit(t *testing.T) {
	pages := map[string]string{
		"/": htmlDoc("Home", `<a href="/p1">1</a><a href="/p2">2</a><a href="/p3">3</a><a href="/p4">4</a><a href="/p5">5</a><a href="/p6">6</a>`),
	}
	for i := 1; i <= 6; i++ {
		pages[fmt.Sprintf("/p%d", i)] = htmlDoc(fmt.Sprintf("Page %d", i), "<p>Text.</p>")
	}
	ts := newTestServer(pages)
	defer ts.Close()

	cfg := testConfig()
	cfg.MaxConcurrency = 1
	idx := &mockIndex{}
	reg := &mockRegistry{}
	svc := newTestService(cfg, idx, reg)

	site := testSite(ts.URL)
	site.PageLimit = 3

	require.NoError(t, svc.IndexSite(context.Background(), site, &models.CommonConfig{}))

	assert.Len(t, idx.added, 3)
	done := reg.lastCompleted(t)
	assert.Equal(t, "SUCCESS: 3 documents found. log_count/WARNING: 0, log_count/ERROR: 0", done.message)
}

func TestIndexSiteIncrementalSkipsWhenLimitAlreadyReached(t *testing.T) {
	ts := newTestServer(map[string]string{})
	defer ts.Close()

	idx := &mockIndex{already: []string{ts.URL + "/", ts.URL + "/a", ts.URL + "/b"}}
	reg := &mockRegistry{}
	svc := newTestService(testConfig(), idx, reg)

	site := testSite(ts.URL)
	site.FullIndex = false
	site.PageLimit = 3

	require.NoError(t, svc.IndexSite(context.Background(), site, &models.CommonConfig{}))

	done := reg.lastCompleted(t)
	assert.True(t, done.success)
	assert.False(t, done.fullIndex)
	assert.Equal(t, "The indexing page limit was reached on the last index, so not going to perform incremental reindex for 127.0.0.1", done.message)
	assert.Empty(t, ts.hits, "no requests when the reindex is skipped")
	assert.Empty(t, idx.calls)
}

func TestIndexSiteTypeExclusionDoesNotCountTowardLimit(t *testing.T) {
	ts := newTestServer(map[string]string{
		"/":     htmlDoc("Home", `<a href="/ad">ad</a><a href="/real">real</a>`),
		"/ad":   `<html><head><title>Ad</title><meta property="og:type" content="product"/></head><body><p>Buy.</p></body></html>`,
		"/real": htmlDoc("Real", "<p>Content.</p>"),
	})
	defer ts.Close()

	cfg := testConfig()
	cfg.MaxConcurrency = 1
	idx := &mockIndex{}
	reg := &mockRegistry{}
	svc := newTestService(cfg, idx, reg)

	site := testSite(ts.URL)
	site.PageLimit = 2
	site.Exclusions = []models.Filter{{Type: models.FilterTypePageType, Value: "product"}}

	require.NoError(t, svc.IndexSite(context.Background(), site, &models.CommonConfig{}))

	assert.Nil(t, idx.doc(ts.URL+"/ad"))
	assert.NotNil(t, idx.doc(ts.URL+"/real"), "dropped page must not consume the page limit")
	assert.Len(t, idx.added, 2)
}

func TestIndexSitePathExclusion(t *testing.T) {
	ts := newTestServer(map[string]string{
		"/":          htmlDoc("Home", `<a href="/private/x">private</a><a href="/public">public</a>`),
		"/private/x": htmlDoc("Hidden", "<p>No.</p>"),
		"/public":    htmlDoc("Public", "<p>Yes.</p>"),
	})
	defer ts.Close()

	idx := &mockIndex{}
	reg := &mockRegistry{}
	svc := newTestService(testConfig(), idx, reg)

	site := testSite(ts.URL)
	site.Exclusions = []models.Filter{{Type: models.FilterTypePath, Value: "/private/"}}

	require.NoError(t, svc.IndexSite(context.Background(), site, &models.CommonConfig{}))

	assert.Zero(t, ts.hitCount("/private/x"))
	assert.NotNil(t, idx.doc(ts.URL+"/public"))
	assert.Len(t, idx.added, 2)
}

func TestIndexSiteIgnoresRobotsWhenDisabled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, htmlDoc("Home", "<p>Open.</p>"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig()
	cfg.FollowRobotsTxt = false
	idx := &mockIndex{}
	reg := &mockRegistry{}
	svc := newTestService(cfg, idx, reg)

	require.NoError(t, svc.IndexSite(context.Background(), testSite(server.URL), &models.CommonConfig{}))

	assert.True(t, reg.lastCompleted(t).success)
	require.Len(t, idx.added, 1)
}

func TestIndexSiteRetriesTransientErrors(t *testing.T) {
	var mu sync.Mutex
	failures := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		failures++
		n := failures
		mu.Unlock()
		if n <= 2 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, htmlDoc("Back up", "<p>Served.</p>"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	idx := &mockIndex{}
	reg := &mockRegistry{}
	svc := newTestService(testConfig(), idx, reg)

	require.NoError(t, svc.IndexSite(context.Background(), testSite(server.URL), &models.CommonConfig{}))

	require.Len(t, idx.added, 1)
	assert.Equal(t, "Back up", idx.added[0].Title)
	done := reg.lastCompleted(t)
	assert.Equal(t, "SUCCESS: 1 documents found. log_count/WARNING: 0, log_count/ERROR: 0", done.message)
}

func TestIndexSiteWallCapStopsCrawl(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", http.NotFound)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, htmlDoc("Slow", "<p>Late.</p>"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig()
	cfg.MaxCrawlTime = 50 * time.Millisecond
	idx := &mockIndex{}
	reg := &mockRegistry{}
	svc := newTestService(cfg, idx, reg)

	require.NoError(t, svc.IndexSite(context.Background(), testSite(server.URL), &models.CommonConfig{}))

	done := reg.lastCompleted(t)
	assert.False(t, done.success)
	assert.True(t, strings.HasPrefix(done.message, "WARNING: No documents found."), done.message)
}

func TestSameURL(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"https://example.com", "https://example.com/", true},
		{"https://example.com/", "https://example.com/", true},
		{"https://example.com/feed/", "https://example.com/feed", true},
		{"https://example.com/a", "https://example.com/b", false},
		{"", "", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, sameURL(tc.a, tc.b), "%s vs %s", tc.a, tc.b)
	}
}

var _ interfaces.SearchIndex = (*mockIndex)(nil)
var _ interfaces.RegistryStore = (*mockRegistry)(nil)
