package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/indago/internal/models"
)

// expireListings processes every lapsed listing at the given tier. Tier 1
// sites go back to moderator review and drop out of the index; tier 2 and 3
// sites move down a tier and pick up the lower tier's indexing defaults.
// A listing that fails to expire is logged and left for the next sweep.
func (s *Service) expireListings(ctx context.Context, tier int) error {
	s.logger.Debug().Int("tier", tier).Msg("Looking for expired listings")
	listings, err := s.store.ExpiredListings(ctx, tier)
	if err != nil {
		return fmt.Errorf("failed to load expired tier %d listings: %w", tier, err)
	}
	for _, listing := range listings {
		s.logger.Info().Msgf("Expiring the following tier %d listing: %s", tier, listing.Domain)
		if err := s.expireListing(ctx, tier, listing); err != nil {
			s.logger.Error().Err(err).Str("domain", listing.Domain).Msg("Failed to expire listing")
		}
	}
	return nil
}

func (s *Service) expireListing(ctx context.Context, tier int, listing models.ExpiredListing) error {
	if tier == 1 {
		if err := s.store.ExpireTier1Listing(ctx, listing.Domain); err != nil {
			return fmt.Errorf("failed to expire tier 1 listing: %w", err)
		}
		if err := s.index.DeleteDomain(ctx, listing.Domain, true); err != nil {
			return fmt.Errorf("failed to delete indexed documents: %w", err)
		}
		return nil
	}

	newTier := tier - 1
	if err := s.store.DemoteListing(ctx, listing.Domain, tier); err != nil {
		return fmt.Errorf("failed to demote listing: %w", err)
	}
	if err := s.store.ResetIndexingDefaults(ctx, listing.Domain, newTier); err != nil {
		return fmt.Errorf("failed to reset indexing defaults: %w", err)
	}
	if tier == 3 && listing.Email != "" {
		s.sendExpiryNotice(listing)
	}
	return nil
}

// sendExpiryNotice tells a full listing owner their subscription lapsed.
// The notice goes to the admin address for now; the recipient switches to
// the site contact once delivery has been proven out in production.
func (s *Service) sendExpiryNotice(listing models.ExpiredListing) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	subject := "Full listing expiry"
	if err := s.mailer.SendEmail("", "", subject, expiryNoticeBody(listing)); err != nil {
		s.logger.Error().Err(err).Str("domain", listing.Domain).Msg("Error sending email")
	}
}

func expiryNoticeBody(listing models.ExpiredListing) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", listing.Email)
	fmt.Fprintf(&b, "Thank you for subscribing %s. I hope you have found it useful.\n\n", listing.Domain)
	b.WriteString("Unfortunately, your subscription has now expired, and your Full listing has reverted to a Free Trial listing. ")
	b.WriteString("If you would like to continue using the search as a service, you will need to resubscribe. ")
	b.WriteString("While the Free Trial listing is active you can do this from the subscriptions page under Manage Site. ")
	b.WriteString("Once the Free Trial expires, you will need to renew via Add Site, although you will not need to verify ownership of your site again.\n\n")
	b.WriteString("If you have any questions or comments, please don't hesitate to reply.\n\n")
	b.WriteString("Regards,\n\nThe Indago team\n")
	return b.String()
}
