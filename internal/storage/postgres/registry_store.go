package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
)

const defaultBatchLimit = 8

// Domains due for indexing: new (PENDING), or COMPLETE with the full or
// incremental reindex frequency lapsed. The CASE column distinguishes a due
// full index from a due incremental one; when both are due the full wins.
// PENDING domains sort first, then higher tiers, so they survive the LIMIT.
// FOR UPDATE SKIP LOCKED keeps two concurrent passes off the same rows.
const sqlSelectDomainsToIndex = `
SELECT d.domain, d.home_page, l.tier, d.domain_first_submitted,
       d.indexing_page_limit, d.content_chunks_limit, d.category, d.api_enabled,
       d.include_in_public_search, d.web_feed_auto_discovered, d.web_feed_user_entered,
       CASE
           WHEN d.indexing_status = 'PENDING' THEN TRUE
           WHEN NOW() - d.last_full_index_completed > d.full_reindex_frequency THEN TRUE
           WHEN NOW() - d.last_index_completed > d.incremental_reindex_frequency THEN FALSE
       END AS full_index
FROM tblDomains d
INNER JOIN tblListingStatus l ON d.domain = l.domain
WHERE d.indexing_type = 'spider/default'
  AND d.indexing_enabled = TRUE
  AND l.status = 'ACTIVE'
  AND (
      (d.indexing_status = 'PENDING')
      OR (d.indexing_status = 'COMPLETE' AND NOW() - d.last_full_index_completed > d.full_reindex_frequency)
      OR (d.indexing_status = 'COMPLETE' AND NOW() - d.last_index_completed > d.incremental_reindex_frequency)
  )
ORDER BY d.indexing_status DESC, l.tier DESC
LIMIT $1
FOR UPDATE OF d SKIP LOCKED`

const sqlSelectFilters = `
SELECT type, value FROM tblIndexingFilters
WHERE domain = $1 AND action = 'exclude'`

const sqlMarkRunning = `
UPDATE tblDomains
SET indexing_status = 'RUNNING', indexing_status_changed = NOW()
WHERE domain = $1`

const sqlInsertLog = `
INSERT INTO tblIndexingLog (domain, status, timestamp, message)
VALUES ($1, $2, NOW(), $3)`

const sqlSelectAllDomains = `
SELECT d.domain FROM tblDomains d
INNER JOIN tblListingStatus l ON d.domain = l.domain
WHERE l.status = 'ACTIVE' AND d.indexing_enabled = TRUE`

const sqlSelectSubdomainSuffixes = `
SELECT setting_value FROM tblSettings
WHERE setting_name = 'domain_allowing_subdomains'`

const sqlMarkComplete = `
UPDATE tblDomains
SET indexing_status = 'COMPLETE', indexing_status_changed = NOW()
WHERE domain = $1`

const sqlAdvanceLastIndex = `
UPDATE tblDomains SET last_index_completed = NOW() WHERE domain = $1`

const sqlAdvanceLastFullIndex = `
UPDATE tblDomains SET last_full_index_completed = NOW() WHERE domain = $1`

const sqlSelectLastCompleteMessage = `
SELECT message FROM tblIndexingLog
WHERE domain = $1 AND status = 'COMPLETE'
ORDER BY timestamp DESC LIMIT 1`

const sqlDeactivateIndexing = `
UPDATE tblDomains
SET indexing_enabled = FALSE, indexing_disabled_changed = NOW(), indexing_disabled_reason = $1
WHERE domain = $2`

const sqlSelectUserEnteredFeeds = `
SELECT web_feed_user_entered, sitemap_user_entered FROM tblDomains WHERE domain = $1`

const sqlUpdateAutoDiscoveredFeeds = `
UPDATE tblDomains
SET web_feed_auto_discovered = NULLIF($1, ''), sitemap_auto_discovered = NULLIF($2, '')
WHERE domain = $3`

const sqlSelectStuckJobs = `
SELECT domain FROM tblDomains
WHERE indexing_type = 'spider/default'
  AND indexing_status = 'RUNNING'
  AND indexing_status_changed + INTERVAL '6 hours' < NOW()`

const sqlResetStuckJob = `
UPDATE tblDomains
SET indexing_status = 'PENDING', indexing_status_changed = NOW()
WHERE domain = $1`

const sqlSelectExpiredListings = `
SELECT d.domain, l.tier, d.email FROM tblDomains d
INNER JOIN tblListingStatus l ON d.domain = l.domain
WHERE l.listing_end < NOW()
  AND l.status = 'ACTIVE'
  AND l.tier = $1
  AND d.indexing_type = 'spider/default'
ORDER BY d.domain_first_submitted ASC`

const sqlClearModeratorApproval = `
UPDATE tblDomains SET moderator_approved = NULL WHERE domain = $1`

const sqlExpireTier1 = `
UPDATE tblListingStatus
SET status = 'PENDING', status_changed = NOW(),
    pending_state = 'MODERATOR_REVIEW', pending_state_changed = NOW()
WHERE domain = $1 AND tier = 1`

const sqlExpireListing = `
UPDATE tblListingStatus
SET status = 'EXPIRED', status_changed = NOW()
WHERE domain = $1 AND tier = $2`

const sqlOpenListing = `
INSERT INTO tblListingStatus (domain, tier, status, status_changed, listing_start, listing_end)
VALUES ($1, $2, 'ACTIVE', NOW(), NOW(), NOW() + (SELECT listing_duration FROM tblTiers WHERE tier = $2))
ON CONFLICT (domain, tier) DO UPDATE SET
    status = EXCLUDED.status,
    status_changed = EXCLUDED.status_changed,
    listing_start = EXCLUDED.listing_start,
    listing_end = EXCLUDED.listing_end`

const sqlResetIndexingDefaults = `
UPDATE tblDomains
SET full_reindex_frequency = tblTiers.default_full_reindex_frequency,
    incremental_reindex_frequency = tblTiers.default_incremental_reindex_frequency,
    indexing_page_limit = tblTiers.default_indexing_page_limit,
    content_chunks_limit = tblTiers.default_content_chunks_limit,
    on_demand_reindexing = tblTiers.default_on_demand_reindexing,
    api_enabled = tblTiers.default_api_enabled,
    indexing_enabled = TRUE,
    indexing_status = 'PENDING',
    indexing_status_changed = NOW()
FROM tblTiers
WHERE tblTiers.tier = $1 AND tblDomains.domain = $2`

// RegistryStore implements the RegistryStore interface for Postgres
type RegistryStore struct {
	db         *PostgresDB
	logger     arbor.ILogger
	batchLimit int
}

// NewRegistryStore creates a new RegistryStore instance
func NewRegistryStore(db *PostgresDB, logger arbor.ILogger, batchLimit int) interfaces.RegistryStore {
	if batchLimit <= 0 {
		batchLimit = defaultBatchLimit
	}
	return &RegistryStore{
		db:         db,
		logger:     logger,
		batchLimit: batchLimit,
	}
}

// ClaimDomainsToIndex selects the batch of due domains and flips each to
// RUNNING in the same transaction, loading exclusion filters along the way.
func (s *RegistryStore) ClaimDomainsToIndex(ctx context.Context) ([]models.SiteConfig, error) {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, sqlSelectDomainsToIndex, s.batchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to select domains to index: %w", err)
	}

	var sites []models.SiteConfig
	for rows.Next() {
		var (
			site      models.SiteConfig
			dateAdded *time.Time
			category  *string
			feedAuto  *string
			feedUser  *string
			fullIndex *bool
		)
		if err := rows.Scan(&site.Domain, &site.HomePage, &site.Tier, &dateAdded,
			&site.PageLimit, &site.ChunkLimit, &category, &site.APIEnabled,
			&site.Public, &feedAuto, &feedUser, &fullIndex); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan domain row: %w", err)
		}
		if dateAdded != nil {
			site.DateDomainAdded = *dateAdded
		}
		if category != nil {
			site.Category = *category
		}
		// Only tier 3 listings have verified ownership.
		site.OwnerVerified = site.Tier == 3
		if feedUser != nil && *feedUser != "" {
			site.WebFeed = *feedUser
		} else if feedAuto != nil {
			site.WebFeed = *feedAuto
		}
		if fullIndex != nil {
			site.FullIndex = *fullIndex
		}
		sites = append(sites, site)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read domain rows: %w", err)
	}

	for i := range sites {
		domain := sites[i].Domain
		if _, err := tx.Exec(ctx, sqlMarkRunning, domain); err != nil {
			return nil, fmt.Errorf("failed to mark %s RUNNING: %w", domain, err)
		}
		if _, err := tx.Exec(ctx, sqlInsertLog, domain, models.IndexingRunning, ""); err != nil {
			return nil, fmt.Errorf("failed to log RUNNING for %s: %w", domain, err)
		}

		exclusions, err := loadExclusions(ctx, tx, domain)
		if err != nil {
			return nil, err
		}
		sites[i].Exclusions = exclusions
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", err)
	}

	if len(sites) > 0 {
		s.logger.Info().Int("count", len(sites)).Msg("Claimed domains for indexing")
	}
	return sites, nil
}

func loadExclusions(ctx context.Context, tx pgx.Tx, domain string) ([]models.Filter, error) {
	rows, err := tx.Query(ctx, sqlSelectFilters, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to select filters for %s: %w", domain, err)
	}
	defer rows.Close()

	var filters []models.Filter
	for rows.Next() {
		var f models.Filter
		if err := rows.Scan(&f.Type, &f.Value); err != nil {
			return nil, fmt.Errorf("failed to scan filter row for %s: %w", domain, err)
		}
		filters = append(filters, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read filter rows for %s: %w", domain, err)
	}
	return filters, nil
}

// CommonConfig loads the registry state shared by every job in a pass: the
// set of all registered domains and the suffixes allowing subdomains.
func (s *RegistryStore) CommonConfig(ctx context.Context) (*models.CommonConfig, error) {
	domains, err := s.selectStrings(ctx, sqlSelectAllDomains)
	if err != nil {
		return nil, fmt.Errorf("failed to select registered domains: %w", err)
	}

	suffixes, err := s.selectStrings(ctx, sqlSelectSubdomainSuffixes)
	if err != nil {
		return nil, fmt.Errorf("failed to select subdomain suffixes: %w", err)
	}

	return &models.CommonConfig{
		Domains:         domains,
		AllowSubdomains: suffixes,
	}, nil
}

func (s *RegistryStore) selectStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

// MarkComplete records the end of a job. last_index_completed always
// advances so a completed attempt, failed or not, leaves the domain due
// again only when its reindex frequency lapses. The full-index timestamp
// advances only on success.
func (s *RegistryStore) MarkComplete(ctx context.Context, domain string, fullIndex, success bool, message string) error {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin completion transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, sqlMarkComplete, domain); err != nil {
		return fmt.Errorf("failed to mark %s COMPLETE: %w", domain, err)
	}
	if _, err := tx.Exec(ctx, sqlAdvanceLastIndex, domain); err != nil {
		return fmt.Errorf("failed to advance last index for %s: %w", domain, err)
	}
	if success && fullIndex {
		if _, err := tx.Exec(ctx, sqlAdvanceLastFullIndex, domain); err != nil {
			return fmt.Errorf("failed to advance last full index for %s: %w", domain, err)
		}
	}
	if _, err := tx.Exec(ctx, sqlInsertLog, domain, models.IndexingComplete, message); err != nil {
		return fmt.Errorf("failed to log COMPLETE for %s: %w", domain, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit completion for %s: %w", domain, err)
	}

	s.logger.Debug().Str("domain", domain).Bool("full_index", fullIndex).Msg("Marked indexing complete")
	return nil
}

// LastCompleteLogMessage returns the latest COMPLETE log message, or "" when
// the domain has never completed an index.
func (s *RegistryStore) LastCompleteLogMessage(ctx context.Context, domain string) (string, error) {
	var message string
	err := s.db.Pool().QueryRow(ctx, sqlSelectLastCompleteMessage, domain).Scan(&message)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to select last complete message for %s: %w", domain, err)
	}
	return message, nil
}

// DeactivateIndexing turns indexing off for a domain and records why
func (s *RegistryStore) DeactivateIndexing(ctx context.Context, domain, reason string) error {
	if _, err := s.db.Pool().Exec(ctx, sqlDeactivateIndexing, reason, domain); err != nil {
		return fmt.Errorf("failed to deactivate indexing for %s: %w", domain, err)
	}
	s.logger.Warn().Str("domain", domain).Str("reason", reason).Msg("Indexing deactivated")
	return nil
}

// UserEnteredFeeds returns the owner-entered web feed and sitemap URLs
func (s *RegistryStore) UserEnteredFeeds(ctx context.Context, domain string) (string, string, error) {
	var webFeed, sitemap *string
	err := s.db.Pool().QueryRow(ctx, sqlSelectUserEnteredFeeds, domain).Scan(&webFeed, &sitemap)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to select user entered feeds for %s: %w", domain, err)
	}

	var feedValue, sitemapValue string
	if webFeed != nil {
		feedValue = *webFeed
	}
	if sitemap != nil {
		sitemapValue = *sitemap
	}
	return feedValue, sitemapValue, nil
}

// SaveAutoDiscoveredFeeds stores the crawl's feed and sitemap discoveries,
// clearing stale values when a discovery is empty.
func (s *RegistryStore) SaveAutoDiscoveredFeeds(ctx context.Context, domain, webFeed, sitemap string) error {
	if _, err := s.db.Pool().Exec(ctx, sqlUpdateAutoDiscoveredFeeds, webFeed, sitemap, domain); err != nil {
		return fmt.Errorf("failed to save auto discovered feeds for %s: %w", domain, err)
	}
	return nil
}

// ResetStuckJobs returns domains left RUNNING for over 6 hours to PENDING so
// a later pass retries them, and reports which domains were reset.
func (s *RegistryStore) ResetStuckJobs(ctx context.Context) ([]string, error) {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin stuck job transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, sqlSelectStuckJobs)
	if err != nil {
		return nil, fmt.Errorf("failed to select stuck jobs: %w", err)
	}
	var domains []string
	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan stuck job row: %w", err)
		}
		domains = append(domains, domain)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stuck job rows: %w", err)
	}

	for _, domain := range domains {
		if _, err := tx.Exec(ctx, sqlResetStuckJob, domain); err != nil {
			return nil, fmt.Errorf("failed to reset stuck job %s: %w", domain, err)
		}
		message := "Indexing was RUNNING for over 6 hours and has been reset to PENDING"
		if _, err := tx.Exec(ctx, sqlInsertLog, domain, models.IndexingPending, message); err != nil {
			return nil, fmt.Errorf("failed to log stuck job reset for %s: %w", domain, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit stuck job resets: %w", err)
	}
	return domains, nil
}

// ExpiredListings returns ACTIVE listings at a tier whose period has lapsed,
// oldest submission first.
func (s *RegistryStore) ExpiredListings(ctx context.Context, tier int) ([]models.ExpiredListing, error) {
	rows, err := s.db.Pool().Query(ctx, sqlSelectExpiredListings, tier)
	if err != nil {
		return nil, fmt.Errorf("failed to select expired tier %d listings: %w", tier, err)
	}
	defer rows.Close()

	var listings []models.ExpiredListing
	for rows.Next() {
		var (
			listing models.ExpiredListing
			email   *string
		)
		if err := rows.Scan(&listing.Domain, &listing.Tier, &email); err != nil {
			return nil, fmt.Errorf("failed to scan expired listing row: %w", err)
		}
		if email != nil {
			listing.Email = *email
		}
		listings = append(listings, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read expired listing rows: %w", err)
	}
	return listings, nil
}

// ExpireTier1Listing sends a basic listing back to moderator review
func (s *RegistryStore) ExpireTier1Listing(ctx context.Context, domain string) error {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tier 1 expiry transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, sqlClearModeratorApproval, domain); err != nil {
		return fmt.Errorf("failed to clear moderator approval for %s: %w", domain, err)
	}
	if _, err := tx.Exec(ctx, sqlExpireTier1, domain); err != nil {
		return fmt.Errorf("failed to expire tier 1 listing for %s: %w", domain, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit tier 1 expiry for %s: %w", domain, err)
	}
	return nil
}

// DemoteListing expires the listing at tier and opens an ACTIVE listing one
// tier down, with the lower tier's listing duration.
func (s *RegistryStore) DemoteListing(ctx context.Context, domain string, tier int) error {
	newTier := tier - 1
	if newTier < 1 {
		return fmt.Errorf("cannot demote %s below tier 1", domain)
	}

	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin demotion transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, sqlExpireListing, domain, tier); err != nil {
		return fmt.Errorf("failed to expire tier %d listing for %s: %w", tier, domain, err)
	}
	if _, err := tx.Exec(ctx, sqlOpenListing, domain, newTier); err != nil {
		return fmt.Errorf("failed to open tier %d listing for %s: %w", newTier, domain, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit demotion for %s: %w", domain, err)
	}
	return nil
}

// ResetIndexingDefaults applies a tier's default indexing settings to a
// domain and queues it for a fresh full index.
func (s *RegistryStore) ResetIndexingDefaults(ctx context.Context, domain string, tier int) error {
	if _, err := s.db.Pool().Exec(ctx, sqlResetIndexingDefaults, tier, domain); err != nil {
		return fmt.Errorf("failed to reset indexing defaults for %s: %w", domain, err)
	}
	return nil
}

// Close closes the underlying connection pool
func (s *RegistryStore) Close() {
	s.db.Close()
}
