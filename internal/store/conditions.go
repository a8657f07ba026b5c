package store

import (
	"context"
	"encoding/json"

	"github.com/aristath/tradedeck/internal/domain"
)

// Conditions synchronizes the trading rule set. Local edits are optimistic
// and written back debounced; trading_status pushes are authoritative for
// the active flag and are field-merged, never a wholesale replace.
type Conditions struct {
	*Store[domain.TradingConditions]

	deps  Deps
	unsub []func()
}

// NewConditions wires the conditions store into the router. Call Start to
// begin.
func NewConditions(d Deps) *Conditions {
	c := &Conditions{deps: d}
	c.Store = NewStore(Options[domain.TradingConditions]{
		Name: "conditions",
		Fetch: func(ctx context.Context) (domain.TradingConditions, error) {
			conditions, err := d.Client.TradingConditions(ctx)
			if err != nil {
				return domain.TradingConditions{}, err
			}
			return *conditions, nil
		},
		WriteBack: func(ctx context.Context, data domain.TradingConditions) error {
			return d.Client.SaveTradingConditions(ctx, &data)
		},
		Connected: d.Connected,
		Clock:     d.Clock,
		Debounce:  d.Sync.DebounceWindow,
		WriteTTL:  d.Sync.PendingWriteTTL,
		PollEvery: d.Sync.FallbackPollEvery,
		Cache:     d.Cache,
		Log:       d.Log,
	})

	c.unsub = append(c.unsub,
		d.Router.Subscribe(domain.TradingStatus, c.handleTradingStatus),
	)
	return c
}

// Close detaches from the router and stops the sync core.
func (c *Conditions) Close() {
	for _, fn := range c.unsub {
		fn()
	}
	c.Store.Close()
}

// Update applies a local edit optimistically; the write-back is debounced so
// a burst of edits reaches the server as one save.
func (c *Conditions) Update(edit func(cur *domain.TradingConditions)) {
	c.Mutate(func(cur domain.TradingConditions) domain.TradingConditions {
		edit(&cur)
		return cur
	})
}

// StartTrading enables automatic trading on the server immediately, outside
// the debounce path.
func (c *Conditions) StartTrading(ctx context.Context) error {
	if err := c.deps.Client.StartTrading(ctx); err != nil {
		return err
	}
	c.ApplyPush(func(cur domain.TradingConditions) domain.TradingConditions {
		cur.AutoTradingEnabled = true
		return cur
	})
	return nil
}

// StopTrading disables automatic trading on the server immediately, outside
// the debounce path.
func (c *Conditions) StopTrading(ctx context.Context) error {
	if err := c.deps.Client.StopTrading(ctx); err != nil {
		return err
	}
	c.ApplyPush(func(cur domain.TradingConditions) domain.TradingConditions {
		cur.AutoTradingEnabled = false
		return cur
	})
	return nil
}

func (c *Conditions) handleTradingStatus(env domain.Envelope) {
	var status domain.TradingStatusData
	if err := json.Unmarshal(env.Data, &status); err != nil {
		c.log.Warn().Err(err).Msg("Dropping undecodable trading status")
		return
	}
	c.ApplyPush(func(cur domain.TradingConditions) domain.TradingConditions {
		cur.AutoTradingEnabled = status.IsActive
		return cur
	})
}
