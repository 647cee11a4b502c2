package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
)

type tierAction struct {
	op     string
	domain string
	tier   int
}

// mockStore records maintenance calls in order. The indexing-job methods
// are unused here and return zero values.
type mockStore struct {
	stuck      []string
	stuckErr   error
	expired    map[int][]models.ExpiredListing
	expiredErr map[int]error
	tier1Err   error
	demoteErr  error

	calls []tierAction
}

var _ interfaces.RegistryStore = (*mockStore)(nil)

func (m *mockStore) ClaimDomainsToIndex(ctx context.Context) ([]models.SiteConfig, error) {
	return nil, nil
}

func (m *mockStore) CommonConfig(ctx context.Context) (*models.CommonConfig, error) {
	return &models.CommonConfig{}, nil
}

func (m *mockStore) MarkComplete(ctx context.Context, domain string, fullIndex, success bool, message string) error {
	return nil
}

func (m *mockStore) LastCompleteLogMessage(ctx context.Context, domain string) (string, error) {
	return "", nil
}

func (m *mockStore) DeactivateIndexing(ctx context.Context, domain, reason string) error {
	return nil
}

func (m *mockStore) UserEnteredFeeds(ctx context.Context, domain string) (string, string, error) {
	return "", "", nil
}

func (m *mockStore) SaveAutoDiscoveredFeeds(ctx context.Context, domain, webFeed, sitemap string) error {
	return nil
}

func (m *mockStore) ResetStuckJobs(ctx context.Context) ([]string, error) {
	m.calls = append(m.calls, tierAction{op: "reset_stuck"})
	return m.stuck, m.stuckErr
}

func (m *mockStore) ExpiredListings(ctx context.Context, tier int) ([]models.ExpiredListing, error) {
	m.calls = append(m.calls, tierAction{op: "expired_listings", tier: tier})
	if err := m.expiredErr[tier]; err != nil {
		return nil, err
	}
	return m.expired[tier], nil
}

func (m *mockStore) ExpireTier1Listing(ctx context.Context, domain string) error {
	m.calls = append(m.calls, tierAction{op: "expire_tier1", domain: domain})
	return m.tier1Err
}

func (m *mockStore) DemoteListing(ctx context.Context, domain string, tier int) error {
	m.calls = append(m.calls, tierAction{op: "demote", domain: domain, tier: tier})
	return m.demoteErr
}

func (m *mockStore) ResetIndexingDefaults(ctx context.Context, domain string, tier int) error {
	m.calls = append(m.calls, tierAction{op: "reset_defaults", domain: domain, tier: tier})
	return nil
}

func (m *mockStore) Close() {}

type mockIndex struct {
	deleted   []string
	deleteErr error
}

var _ interfaces.SearchIndex = (*mockIndex)(nil)

func (m *mockIndex) IndexedInlinks(ctx context.Context, domain string) (map[string][]string, error) {
	return nil, nil
}

func (m *mockIndex) AlreadyIndexedURLs(ctx context.Context, domain string) ([]string, error) {
	return nil, nil
}

func (m *mockIndex) PriorContents(ctx context.Context, domain string) (map[string]models.PriorContent, error) {
	return nil, nil
}

func (m *mockIndex) AddDocuments(ctx context.Context, docs []*models.Document, commit bool) error {
	return nil
}

func (m *mockIndex) DeleteDomain(ctx context.Context, domain string, commit bool) error {
	if !commit {
		return fmt.Errorf("expiry deletes must commit")
	}
	m.deleted = append(m.deleted, domain)
	return m.deleteErr
}

func (m *mockIndex) Commit(ctx context.Context) error { return nil }

type mockMailer struct {
	configured bool
	sent       []sentMail
	sendErr    error
}

type sentMail struct {
	replyTo, to, subject, body string
}

var _ interfaces.MailerService = (*mockMailer)(nil)

func (m *mockMailer) SendEmail(replyTo, to, subject, body string) error {
	m.sent = append(m.sent, sentMail{replyTo, to, subject, body})
	return m.sendErr
}

func (m *mockMailer) IsConfigured() bool { return m.configured }

func newTestService(store *mockStore, index *mockIndex, mailer *mockMailer) *Service {
	return NewService(store, index, mailer, arbor.NewLogger())
}

func TestRunMaintenanceOrder(t *testing.T) {
	store := &mockStore{stuck: []string{"stuck.example.com"}}
	service := newTestService(store, &mockIndex{}, &mockMailer{})

	err := service.RunMaintenance(context.Background())
	require.NoError(t, err)

	want := []tierAction{
		{op: "reset_stuck"},
		{op: "expired_listings", tier: 1},
		{op: "expired_listings", tier: 2},
		{op: "expired_listings", tier: 3},
	}
	assert.Equal(t, want, store.calls)
}

func TestTier1ExpiryRemovesFromIndex(t *testing.T) {
	store := &mockStore{
		expired: map[int][]models.ExpiredListing{
			1: {{Domain: "basic.example.com", Tier: 1}},
		},
	}
	index := &mockIndex{}
	mailer := &mockMailer{configured: true}
	service := newTestService(store, index, mailer)

	err := service.RunMaintenance(context.Background())
	require.NoError(t, err)

	assert.Contains(t, store.calls, tierAction{op: "expire_tier1", domain: "basic.example.com"})
	assert.Equal(t, []string{"basic.example.com"}, index.deleted)
	assert.Empty(t, mailer.sent, "tier 1 expiry does not notify")
	for _, call := range store.calls {
		assert.NotEqual(t, "demote", call.op)
	}
}

func TestTier2ExpiryDemotesWithoutMail(t *testing.T) {
	store := &mockStore{
		expired: map[int][]models.ExpiredListing{
			2: {{Domain: "trial.example.com", Tier: 2, Email: "owner@trial.example.com"}},
		},
	}
	index := &mockIndex{}
	mailer := &mockMailer{configured: true}
	service := newTestService(store, index, mailer)

	err := service.RunMaintenance(context.Background())
	require.NoError(t, err)

	assert.Contains(t, store.calls, tierAction{op: "demote", domain: "trial.example.com", tier: 2})
	assert.Contains(t, store.calls, tierAction{op: "reset_defaults", domain: "trial.example.com", tier: 1})
	assert.Empty(t, index.deleted)
	assert.Empty(t, mailer.sent)
}

func TestTier3ExpirySendsNotice(t *testing.T) {
	store := &mockStore{
		expired: map[int][]models.ExpiredListing{
			3: {{Domain: "full.example.com", Tier: 3, Email: "owner@full.example.com"}},
		},
	}
	mailer := &mockMailer{configured: true}
	service := newTestService(store, &mockIndex{}, mailer)

	err := service.RunMaintenance(context.Background())
	require.NoError(t, err)

	assert.Contains(t, store.calls, tierAction{op: "demote", domain: "full.example.com", tier: 3})
	assert.Contains(t, store.calls, tierAction{op: "reset_defaults", domain: "full.example.com", tier: 2})

	require.Len(t, mailer.sent, 1)
	notice := mailer.sent[0]
	assert.Empty(t, notice.to, "notice routes to the admin default")
	assert.Equal(t, "Full listing expiry", notice.subject)
	assert.Contains(t, notice.body, "full.example.com")
	assert.Contains(t, notice.body, "owner@full.example.com")
	assert.True(t, strings.Contains(notice.body, "expired"))
}

func TestTier3ExpiryWithoutContactSkipsNotice(t *testing.T) {
	store := &mockStore{
		expired: map[int][]models.ExpiredListing{
			3: {{Domain: "quiet.example.com", Tier: 3}},
		},
	}
	mailer := &mockMailer{configured: true}
	service := newTestService(store, &mockIndex{}, mailer)

	err := service.RunMaintenance(context.Background())
	require.NoError(t, err)

	assert.Contains(t, store.calls, tierAction{op: "demote", domain: "quiet.example.com", tier: 3})
	assert.Empty(t, mailer.sent)
}

func TestExpiryContinuesPastFailingListing(t *testing.T) {
	store := &mockStore{
		expired: map[int][]models.ExpiredListing{
			2: {
				{Domain: "broken.example.com", Tier: 2},
				{Domain: "fine.example.com", Tier: 2},
			},
		},
	}
	store.demoteErr = errors.New("demote failed")
	service := newTestService(store, &mockIndex{}, &mockMailer{})

	err := service.RunMaintenance(context.Background())
	require.NoError(t, err, "per-listing failures are logged, not returned")

	assert.Contains(t, store.calls, tierAction{op: "demote", domain: "broken.example.com", tier: 2})
	assert.Contains(t, store.calls, tierAction{op: "demote", domain: "fine.example.com", tier: 2})
}

func TestMaintenanceContinuesPastFailingStep(t *testing.T) {
	store := &mockStore{
		stuckErr:   errors.New("registry unavailable"),
		expiredErr: map[int]error{1: errors.New("registry unavailable")},
		expired: map[int][]models.ExpiredListing{
			2: {{Domain: "trial.example.com", Tier: 2}},
		},
	}
	service := newTestService(store, &mockIndex{}, &mockMailer{})

	err := service.RunMaintenance(context.Background())
	assert.Error(t, err)

	assert.Contains(t, store.calls, tierAction{op: "expired_listings", tier: 2})
	assert.Contains(t, store.calls, tierAction{op: "demote", domain: "trial.example.com", tier: 2})
	assert.Contains(t, store.calls, tierAction{op: "expired_listings", tier: 3})
}
