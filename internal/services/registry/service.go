// Package registry performs the registry-side maintenance that runs ahead
// of every indexing pass: returning stuck jobs to the queue and expiring
// listings whose paid or trial period has lapsed.
package registry

import (
	"context"
	"errors"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/indago/internal/interfaces"
)

// Service runs registry maintenance. It is driven by the scheduler before
// each indexing pass.
type Service struct {
	store  interfaces.RegistryStore
	index  interfaces.SearchIndex
	mailer interfaces.MailerService
	logger arbor.ILogger
}

func NewService(store interfaces.RegistryStore, index interfaces.SearchIndex, mailer interfaces.MailerService, logger arbor.ILogger) *Service {
	return &Service{
		store:  store,
		index:  index,
		mailer: mailer,
		logger: logger,
	}
}

// RunMaintenance executes one maintenance sweep: stuck jobs first, then
// listing expiry for tiers 1 to 3 in order. A failing step is reported but
// never stops the remaining steps; the pass itself must go ahead.
func (s *Service) RunMaintenance(ctx context.Context) error {
	var errs []error
	if err := s.sweepStuckJobs(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Stuck job sweep failed")
		errs = append(errs, err)
	}
	for tier := 1; tier <= 3; tier++ {
		if err := s.expireListings(ctx, tier); err != nil {
			s.logger.Error().Err(err).Int("tier", tier).Msg("Listing expiry failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
