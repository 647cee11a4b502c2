package indexer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/models"
	"github.com/ternarybob/indago/internal/services/chunker"
)

type indexCall struct {
	op     string
	commit bool
	docs   int
}

type mockIndex struct {
	calls   []indexCall
	failAdd error
}

func (m *mockIndex) IndexedInlinks(_ context.Context, _ string) (map[string][]string, error) {
	return nil, nil
}

func (m *mockIndex) AlreadyIndexedURLs(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}

func (m *mockIndex) PriorContents(_ context.Context, _ string) (map[string]models.PriorContent, error) {
	return nil, nil
}

func (m *mockIndex) AddDocuments(_ context.Context, docs []*models.Document, commit bool) error {
	if m.failAdd != nil {
		return m.failAdd
	}
	m.calls = append(m.calls, indexCall{op: "add", commit: commit, docs: len(docs)})
	return nil
}

func (m *mockIndex) DeleteDomain(_ context.Context, _ string, commit bool) error {
	m.calls = append(m.calls, indexCall{op: "delete", commit: commit})
	return nil
}

func (m *mockIndex) Commit(_ context.Context) error {
	m.calls = append(m.calls, indexCall{op: "commit"})
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

	completed   []completedCall
	deactivated map[string]string
	savedFeed   string
	savedMap    string
	feedsSaved  bool
}

func (m *mockRegistry) ClaimDomainsToIndex(_ context.Context) ([]models.SiteConfig, error) {
	return nil, nil
}

func (m *mockRegistry) CommonConfig(_ context.Context) (*models.CommonConfig, error) {
	return &models.CommonConfig{}, nil
}

func (m *mockRegistry) MarkComplete(_ context.Context, domain string, fullIndex, success bool, message string) error {
	m.completed = append(m.completed, completedCall{domain, fullIndex, success, message})
	return nil
}

func (m *mockRegistry) LastCompleteLogMessage(_ context.Context, _ string) (string, error) {
	return m.lastMessage, nil
}

func (m *mockRegistry) DeactivateIndexing(_ context.Context, domain, reason string) error {
	if m.deactivated == nil {
		m.deactivated = make(map[string]string)
	}
	m.deactivated[domain] = reason
	return nil
}

func (m *mockRegistry) UserEnteredFeeds(_ context.Context, _ string) (string, string, error) {
	return m.userFeed, m.userSitemap, nil
}

func (m *mockRegistry) SaveAutoDiscoveredFeeds(_ context.Context, _ string, webFeed, sitemap string) error {
	m.feedsSaved = true
	m.savedFeed = webFeed
	m.savedMap = sitemap
	return nil
}

func (m *mockRegistry) ResetStuckJobs(_ context.Context) ([]string, error) { return nil, nil }

func (m *mockRegistry) ExpiredListings(_ context.Context, _ int) ([]models.ExpiredListing, error) {
	return nil, nil
}

func (m *mockRegistry) ExpireTier1Listing(_ context.Context, _ string) error { return nil }

func (m *mockRegistry) DemoteListing(_ context.Context, _ string, _ int) error { return nil }

func (m *mockRegistry) ResetIndexingDefaults(_ context.Context, _ string, _ int) error { return nil }

func (m *mockRegistry) Close() {}

type sentMail struct {
	replyTo, to, subject, body string
}

type mockMailer struct {
	sent []sentMail
}

func (m *mockMailer) SendEmail(replyTo, to, subject, body string) error {
	m.sent = append(m.sent, sentMail{replyTo, to, subject, body})
	return nil
}

func (m *mockMailer) IsConfigured() bool { return true }

func newTestWriter(index *mockIndex, registry *mockRegistry, mailer *mockMailer, site *models.SiteConfig, priors map[string]models.PriorContent) *Writer {
	chunks := chunker.NewService(&common.EmbeddingsConfig{ChunkSize: 500, ChunkOverlap: 50}, nil, arbor.NewLogger())
	service := NewService(index, registry, chunks, mailer, arbor.NewLogger())
	return service.NewWriter(site, priors)
}

func testSite() *models.SiteConfig {
	return &models.SiteConfig{
		Domain:     "example.com",
		HomePage:   "https://example.com/",
		Tier:       3,
		ChunkLimit: 50,
		FullIndex:  true,
	}
}

func doc(url, title string) *models.Document {
	return &models.Document{
		ID:           url,
		URL:          url,
		Domain:       "example.com",
		Relationship: models.RelationshipParent,
		Title:        title,
		ContentType:  "text/html",
	}
}

func TestAddDeduplicatesAcrossWWW(t *testing.T) {
	w := newTestWriter(&mockIndex{}, &mockRegistry{}, nil, testSite(), nil)

	require.True(t, w.Add(doc("https://www.example.com/a", "Page A")))
	assert.False(t, w.Add(doc("https://example.com/a", "Page A")))
	assert.Equal(t, 1, w.Count())
}

func TestAddKeepsSameURLDifferentTitle(t *testing.T) {
	w := newTestWriter(&mockIndex{}, &mockRegistry{}, nil, testSite(), nil)

	require.True(t, w.Add(doc("https://www.example.com/a", "Page A")))
	assert.True(t, w.Add(doc("https://example.com/a", "Other title")))
	assert.Equal(t, 2, w.Count())
}

func TestAddHomeWinsDuplicate(t *testing.T) {
	w := newTestWriter(&mockIndex{}, &mockRegistry{}, nil, testSite(), nil)

	require.True(t, w.Add(doc("https://www.example.com/", "Example")))
	home := doc("https://example.com/", "Example")
	home.IsHome = true
	assert.True(t, w.Add(home))

	require.Equal(t, 1, w.Count())
	assert.True(t, w.docs[0].IsHome)
}

func TestCloseFullIndexDeletesThenAddsThenCommits(t *testing.T) {
	index := &mockIndex{}
	registry := &mockRegistry{}
	w := newTestWriter(index, registry, nil, testSite(), nil)

	w.Add(doc("https://example.com/", "Home"))
	w.Add(doc("https://example.com/a", "Page A"))

	message, err := w.Close(context.Background(), models.CrawlStats{WarningCount: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS: 2 documents found. log_count/WARNING: 1, log_count/ERROR: 0", message)

	require.Equal(t, []indexCall{
		{op: "delete", commit: false},
		{op: "add", commit: false, docs: 2},
		{op: "commit"},
	}, index.calls)

	require.Len(t, registry.completed, 1)
	assert.Equal(t, completedCall{"example.com", true, true, message}, registry.completed[0])
	assert.True(t, registry.feedsSaved)
}

func TestCloseIncrementalOnlyAdds(t *testing.T) {
	index := &mockIndex{}
	site := testSite()
	site.FullIndex = false
	w := newTestWriter(index, &mockRegistry{}, nil, site, nil)

	w.Add(doc("https://example.com/new", "New page"))

	_, err := w.Close(context.Background(), models.CrawlStats{}, nil)
	require.NoError(t, err)

	require.Equal(t, []indexCall{
		{op: "add", commit: false, docs: 1},
		{op: "commit"},
	}, index.calls)
}

func TestCloseEmptyFirstOccurrenceOnlyWarns(t *testing.T) {
	index := &mockIndex{}
	registry := &mockRegistry{lastMessage: "SUCCESS: 12 documents found. log_count/WARNING: 0, log_count/ERROR: 0"}
	mailer := &mockMailer{}
	w := newTestWriter(index, registry, mailer, testSite(), nil)

	message, err := w.Close(context.Background(), models.CrawlStats{RobotsForbidden: 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, "WARNING: No documents found. Likely robots.txt forbidden: robotstxt/forbidden 3, retry/max_reached 0", message)

	require.Len(t, registry.completed, 1)
	assert.False(t, registry.completed[0].success)
	assert.Empty(t, index.calls)
	assert.Empty(t, registry.deactivated)
	assert.Empty(t, mailer.sent)
}

func TestCloseEmptyTimeoutClause(t *testing.T) {
	w := newTestWriter(&mockIndex{}, &mockRegistry{}, nil, testSite(), nil)

	message, err := w.Close(context.Background(), models.CrawlStats{RetriesExhausted: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, "WARNING: No documents found. Likely site timeout: robotstxt/forbidden 0, retry/max_reached 2", message)
}

func TestCloseEmptyTwiceDisablesIndexing(t *testing.T) {
	index := &mockIndex{}
	registry := &mockRegistry{lastMessage: "WARNING: No documents found. Likely robots.txt forbidden: robotstxt/forbidden 3, retry/max_reached 0"}
	mailer := &mockMailer{}
	w := newTestWriter(index, registry, mailer, testSite(), nil)

	_, err := w.Close(context.Background(), models.CrawlStats{RobotsForbidden: 3}, nil)
	require.NoError(t, err)

	require.Equal(t, []indexCall{{op: "delete", commit: true}}, index.calls)
	assert.Equal(t, "Indexing failed twice in a row, so indexing_enabled set to false", registry.deactivated["example.com"])

	require.Len(t, mailer.sent, 1)
	assert.Empty(t, mailer.sent[0].to)
	assert.Equal(t, "Indexing disabled for example.com", mailer.sent[0].subject)
	assert.Contains(t, mailer.sent[0].body, "twice in a row")
}

func TestCloseEmptyTwiceLowerTierSendsNoMail(t *testing.T) {
	registry := &mockRegistry{lastMessage: "WARNING: No documents found. robotstxt/forbidden 0, retry/max_reached 0"}
	mailer := &mockMailer{}
	site := testSite()
	site.Tier = 1
	w := newTestWriter(&mockIndex{}, registry, mailer, site, nil)

	_, err := w.Close(context.Background(), models.CrawlStats{}, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, registry.deactivated)
	assert.Empty(t, mailer.sent)
}

func TestCloseStampsDiscoveredFeedOnHome(t *testing.T) {
	registry := &mockRegistry{}
	w := newTestWriter(&mockIndex{}, registry, nil, testSite(), nil)

	home := doc("https://example.com/", "Example")
	home.IsHome = true
	w.Add(home)

	feed := doc("https://example.com/feed.xml", "")
	feed.ContentType = "application/rss+xml"
	feed.IsWebFeed = true
	w.Add(feed)

	sitemap := doc("https://example.com/sitemap.xml", "")
	sitemap.ContentType = "application/xml"
	w.Add(sitemap)

	_, err := w.Close(context.Background(), models.CrawlStats{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/feed.xml", home.WebFeed)
	assert.Equal(t, "https://example.com/feed.xml", registry.savedFeed)
	assert.Equal(t, "https://example.com/sitemap.xml", registry.savedMap)
}

func TestCloseUserFeedBeatsDiscovered(t *testing.T) {
	registry := &mockRegistry{userFeed: "https://example.com/custom.rss"}
	w := newTestWriter(&mockIndex{}, registry, nil, testSite(), nil)

	home := doc("https://example.com/", "Example")
	home.IsHome = true
	w.Add(home)

	feed := doc("https://example.com/feed.xml", "")
	feed.ContentType = "application/rss+xml"
	w.Add(feed)

	_, err := w.Close(context.Background(), models.CrawlStats{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/custom.rss", home.WebFeed)
	assert.Equal(t, "https://example.com/feed.xml", registry.savedFeed)
}

func TestCloseTagsFeedEntries(t *testing.T) {
	w := newTestWriter(&mockIndex{}, &mockRegistry{}, nil, testSite(), nil)

	inFeed := doc("https://example.com/post-1", "Post 1")
	other := doc("https://example.com/about", "About")
	w.Add(inFeed)
	w.Add(other)

	_, err := w.Close(context.Background(), models.CrawlStats{}, []string{"https://example.com/post-1"})
	require.NoError(t, err)

	assert.True(t, inFeed.InWebFeed)
	assert.False(t, other.InWebFeed)
}

func TestCloseReusesPriorChunksWhenContentUnchanged(t *testing.T) {
	priorChunks := []models.Chunk{{
		ID:           "https://example.com/post!chunk001",
		URL:          "https://example.com/post",
		Domain:       "example.com",
		Relationship: models.RelationshipChild,
		No:           1,
		Text:         "Unchanged words.",
		Vector:       []float32{0.5, 0.5},
	}}
	priors := map[string]models.PriorContent{
		"https://example.com/post": {Content: "Unchanged words.", Chunks: priorChunks},
	}
	w := newTestWriter(&mockIndex{}, &mockRegistry{}, nil, testSite(), priors)

	page := doc("https://example.com/post", "Post")
	page.Content = "Unchanged words."
	w.Add(page)

	_, err := w.Close(context.Background(), models.CrawlStats{}, nil)
	require.NoError(t, err)

	assert.Equal(t, priorChunks, page.Chunks)
}

func TestCloseIndexErrorRecordsNothing(t *testing.T) {
	index := &mockIndex{failAdd: errors.New("connection refused")}
	registry := &mockRegistry{}
	w := newTestWriter(index, registry, nil, testSite(), nil)

	w.Add(doc("https://example.com/", "Home"))

	_, err := w.Close(context.Background(), models.CrawlStats{}, nil)
	require.Error(t, err)
	assert.Empty(t, registry.completed)
}
