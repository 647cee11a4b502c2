package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/models"
	"github.com/ternarybob/indago/internal/services/workers"
)

// RunOnce executes a single scheduling pass: registry maintenance first,
// then claim the due domains and index them with bounded parallelism. The
// claim flips each domain to RUNNING inside the selection transaction, so
// concurrent passes on other hosts cannot pick the same domain up.
func (s *Service) RunOnce(ctx context.Context) error {
	passID, ok := s.beginPass()
	if !ok {
		return ErrPassRunning
	}
	defer s.endPass()

	if err := s.maintenance.RunMaintenance(ctx); err != nil {
		s.logger.Warn().Err(err).Str("pass_id", passID).Msg("Maintenance completed with errors")
	}

	sites, err := s.store.ClaimDomainsToIndex(ctx)
	if err != nil {
		return fmt.Errorf("failed to claim domains to index: %w", err)
	}
	if len(sites) == 0 {
		s.logger.Debug().Str("pass_id", passID).Msg("No domains due for indexing")
		return nil
	}

	commonConfig, err := s.store.CommonConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load common config: %w", err)
	}

	s.logger.Info().Str("pass_id", passID).Int("sites", len(sites)).Msg("Starting indexing pass")
	started := time.Now()

	pool := workers.NewPool(ctx, s.parallelism, s.logger)
	pool.Start()
	for _, site := range sites {
		err := pool.Submit(func(jobCtx context.Context) {
			s.runJob(jobCtx, passID, site, commonConfig)
		})
		if err != nil {
			// Pass cancelled mid-submission; unclaimed RUNNING domains are
			// returned to the queue by the stuck sweep.
			break
		}
	}
	pool.Wait()

	s.logger.Info().
		Str("pass_id", passID).
		Int("sites", len(sites)).
		Str("duration", time.Since(started).Round(time.Millisecond).String()).
		Msg("Indexing pass finished")
	return nil
}

// runJob indexes one claimed site. A failed or panicking job leaves the
// domain RUNNING in the registry; the stuck sweep returns it to the queue.
func (s *Service) runJob(ctx context.Context, passID string, site models.SiteConfig, commonConfig *models.CommonConfig) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			stackTrace := common.GetStackTrace()
			s.logger.Error().
				Str("pass_id", passID).
				Str("domain", site.Domain).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Recovered from panic in indexing job - writing crash file")
			common.WriteCrashFile(r, stackTrace)
			s.recordOutcome(JobOutcome{
				Domain:    site.Domain,
				FullIndex: site.FullIndex,
				Error:     fmt.Sprintf("panic: %v", r),
				Duration:  time.Since(started).Round(time.Millisecond).String(),
				Finished:  time.Now(),
			})
		}
	}()

	s.trackSite(site.Domain)
	defer s.untrackSite(site.Domain)

	err := s.indexer.IndexSite(ctx, site, commonConfig)
	outcome := JobOutcome{
		Domain:    site.Domain,
		FullIndex: site.FullIndex,
		Success:   err == nil,
		Duration:  time.Since(started).Round(time.Millisecond).String(),
		Finished:  time.Now(),
	}
	if err != nil {
		outcome.Error = err.Error()
		s.logger.Error().Err(err).Str("pass_id", passID).Str("domain", site.Domain).Msg("Indexing job failed")
	}
	s.recordOutcome(outcome)
}
