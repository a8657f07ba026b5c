package store

import (
	"context"

	"github.com/aristath/tradedeck/internal/domain"
)

// Market holds the market index snapshot. No push channel carries it, so the
// store polls unconditionally on the fallback interval.
type Market struct {
	*Store[domain.MarketOverview]
}

// NewMarket builds the market overview store. Call Start to begin.
func NewMarket(d Deps) *Market {
	m := &Market{}
	m.Store = NewStore(Options[domain.MarketOverview]{
		Name: "market",
		Fetch: func(ctx context.Context) (domain.MarketOverview, error) {
			overview, err := d.Client.MarketOverview(ctx)
			if err != nil {
				return domain.MarketOverview{}, err
			}
			return *overview, nil
		},
		// Connected deliberately nil: poll whether or not the push
		// connection is up.
		Clock:     d.Clock,
		PollEvery: d.Sync.FallbackPollEvery,
		Cache:     d.Cache,
		Log:       d.Log,
	})
	return m
}
