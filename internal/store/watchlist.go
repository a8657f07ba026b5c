package store

import (
	"context"
	"encoding/json"

	"github.com/aristath/tradedeck/internal/domain"
)

// Watchlist synchronizes the watched symbols. A watchlist_update replaces
// the list wholesale; a price_update patches the matching entry. Updates are
// applied in arrival order, so the latest quote for a symbol wins.
type Watchlist struct {
	*Store[[]domain.WatchItem]

	deps  Deps
	unsub []func()
}

// NewWatchlist wires the watchlist store into the router. Call Start to begin.
func NewWatchlist(d Deps) *Watchlist {
	w := &Watchlist{deps: d}
	w.Store = NewStore(Options[[]domain.WatchItem]{
		Name: "watchlist",
		Fetch: func(ctx context.Context) ([]domain.WatchItem, error) {
			return d.Client.Watchlist(ctx)
		},
		Connected: d.Connected,
		Clock:     d.Clock,
		PollEvery: d.Sync.FallbackPollEvery,
		Cache:     d.Cache,
		Log:       d.Log,
	})

	w.unsub = append(w.unsub,
		d.Router.Subscribe(domain.WatchlistUpdate, w.handleWatchlistUpdate),
		d.Router.Subscribe(domain.PriceUpdate, w.handlePriceUpdate),
	)
	return w
}

// Close detaches from the router and stops the sync core.
func (w *Watchlist) Close() {
	for _, fn := range w.unsub {
		fn()
	}
	w.Store.Close()
}

// Add registers a symbol with the server and reflects it locally right away.
func (w *Watchlist) Add(ctx context.Context, stockCode string) error {
	if err := w.deps.Client.AddToWatchlist(ctx, stockCode); err != nil {
		return err
	}
	w.ApplyPush(func(cur []domain.WatchItem) []domain.WatchItem {
		for _, item := range cur {
			if item.StockCode == stockCode {
				return cur
			}
		}
		out := make([]domain.WatchItem, len(cur), len(cur)+1)
		copy(out, cur)
		return append(out, domain.WatchItem{StockCode: stockCode})
	})
	return nil
}

// Remove drops a symbol from the server and reflects it locally right away.
func (w *Watchlist) Remove(ctx context.Context, stockCode string) error {
	if err := w.deps.Client.RemoveFromWatchlist(ctx, stockCode); err != nil {
		return err
	}
	w.ApplyPush(func(cur []domain.WatchItem) []domain.WatchItem {
		out := make([]domain.WatchItem, 0, len(cur))
		for _, item := range cur {
			if item.StockCode != stockCode {
				out = append(out, item)
			}
		}
		return out
	})
	return nil
}

func (w *Watchlist) handleWatchlistUpdate(env domain.Envelope) {
	var items []domain.WatchItem
	if err := json.Unmarshal(env.Data, &items); err != nil {
		w.log.Warn().Err(err).Msg("Dropping undecodable watchlist update")
		return
	}
	w.ApplyPush(func([]domain.WatchItem) []domain.WatchItem { return items })
}

func (w *Watchlist) handlePriceUpdate(env domain.Envelope) {
	var tick domain.PriceTick
	if err := json.Unmarshal(env.Data, &tick); err != nil {
		w.log.Warn().Err(err).Msg("Dropping undecodable price update")
		return
	}

	w.ApplyPush(func(cur []domain.WatchItem) []domain.WatchItem {
		touched := false
		out := make([]domain.WatchItem, len(cur))
		copy(out, cur)
		for i := range out {
			if out[i].StockCode != tick.StockCode {
				continue
			}
			out[i].CurrentPrice = tick.CurrentPrice
			out[i].ChangeAmount = tick.ChangeAmount
			out[i].ChangeRate = tick.ChangeRate
			if tick.Volume > 0 {
				out[i].Volume = tick.Volume
			}
			out[i].UpdatedAt = tick.Timestamp
			touched = true
		}
		if !touched {
			return cur
		}
		return out
	})
}
