package registry

import (
	"context"
	"fmt"
)

// sweepStuckJobs returns domains that have been RUNNING past the stuck
// threshold to PENDING. A crawler crash or an unclean shutdown leaves its
// row RUNNING, and the RUNNING state blocks re-selection, so without the
// sweep the domain would never be indexed again.
func (s *Service) sweepStuckJobs(ctx context.Context) error {
	domains, err := s.store.ResetStuckJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset stuck jobs: %w", err)
	}
	if len(domains) > 0 {
		s.logger.Warn().Msgf("The following domains have had indexing RUNNING for over 6 hours, so something is likely to be wrong: %v", domains)
	}
	return nil
}
