package quota

import (
	"context"
	"strings"
	"time"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

// DailyPolicy sizes the free grant issued once per user per UTC day.
type DailyPolicy struct {
	Amount           int
	BoostedAmount    int
	BoostedCountries []string
}

// AmountFor returns the grant size for a user in country.
func (p DailyPolicy) AmountFor(country string) int {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		return p.Amount
	}
	for _, c := range p.BoostedCountries {
		if strings.EqualFold(c, country) {
			return p.BoostedAmount
		}
	}
	return p.Amount
}

// DailyIssuer issues daily_free grants.
type DailyIssuer struct {
	grants domain.GrantRepository
	policy DailyPolicy
	now    func() time.Time
	logger infra.Logger
}

// NewDailyIssuer constructs a DailyIssuer.
func NewDailyIssuer(grants domain.GrantRepository, policy DailyPolicy, logger infra.Logger) *DailyIssuer {
	return &DailyIssuer{
		grants: grants,
		policy: policy,
		now:    time.Now,
		logger: logger.With().Str("component", "daily_quota").Logger(),
	}
}

// DailyResult reports the outcome of a daily check.
type DailyResult struct {
	Grant   domain.QuotaGrant
	Created bool
	Country string
}

// Check issues today's grant for userID if it does not exist yet.
func (d *DailyIssuer) Check(ctx context.Context, userID, country string) (*DailyResult, error) {
	amount := d.policy.AmountFor(country)
	grant, created, err := d.grants.IssueDaily(ctx, userID, amount, d.now())
	if err != nil {
		return nil, err
	}
	if created {
		d.logger.Info().
			Str("user_id", userID).
			Str("country", country).
			Int("amount", grant.Amount).
			Msg("daily quota issued")
	}
	return &DailyResult{Grant: *grant, Created: created, Country: country}, nil
}

// Active lists the user's non-expired grants.
func (d *DailyIssuer) Active(ctx context.Context, userID string) ([]domain.QuotaGrant, error) {
	return d.grants.ListActive(ctx, userID, d.now())
}
