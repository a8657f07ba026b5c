package store

import (
	"context"
	"encoding/json"

	"github.com/aristath/tradedeck/internal/domain"
)

// Account synchronizes the account snapshot. Pushes replace the snapshot
// wholesale; price ticks patch the matching position. Derived fields are
// always recomputed locally instead of trusting the wire.
type Account struct {
	*Store[domain.AccountBalance]

	deps  Deps
	unsub []func()
}

// NewAccount wires the account store into the router. Call Start to begin.
func NewAccount(d Deps) *Account {
	a := &Account{deps: d}
	a.Store = NewStore(Options[domain.AccountBalance]{
		Name: "account",
		Fetch: func(ctx context.Context) (domain.AccountBalance, error) {
			balance, err := d.Client.AccountBalance(ctx)
			if err != nil {
				return domain.AccountBalance{}, err
			}
			balance.Normalize()
			return *balance, nil
		},
		Connected: d.Connected,
		Clock:     d.Clock,
		PollEvery: d.Sync.FallbackPollEvery,
		Cache:     d.Cache,
		Log:       d.Log,
	})

	a.unsub = append(a.unsub,
		d.Router.Subscribe(domain.AccountUpdate, a.handleAccountUpdate),
		d.Router.Subscribe(domain.PriceUpdate, a.handlePriceUpdate),
	)
	return a
}

// Close detaches from the router and stops the sync core.
func (a *Account) Close() {
	for _, fn := range a.unsub {
		fn()
	}
	a.Store.Close()
}

// ForceRefresh asks the server to re-query the broker and replaces the
// snapshot with the result.
func (a *Account) ForceRefresh(ctx context.Context) (*domain.AccountBalance, error) {
	balance, err := a.deps.Client.RefreshAccountBalance(ctx)
	if err != nil {
		return nil, err
	}
	balance.Normalize()
	a.ApplyPush(func(domain.AccountBalance) domain.AccountBalance { return *balance })
	return balance, nil
}

func (a *Account) handleAccountUpdate(env domain.Envelope) {
	var balance domain.AccountBalance
	if err := json.Unmarshal(env.Data, &balance); err != nil {
		a.log.Warn().Err(err).Msg("Dropping undecodable account update")
		return
	}
	balance.Normalize()
	a.ApplyPush(func(domain.AccountBalance) domain.AccountBalance { return balance })
}

func (a *Account) handlePriceUpdate(env domain.Envelope) {
	var tick domain.PriceTick
	if err := json.Unmarshal(env.Data, &tick); err != nil {
		a.log.Warn().Err(err).Msg("Dropping undecodable price update")
		return
	}

	a.ApplyPush(func(cur domain.AccountBalance) domain.AccountBalance {
		touched := false
		positions := make([]domain.Position, len(cur.Positions))
		copy(positions, cur.Positions)
		for i := range positions {
			if positions[i].StockCode == tick.StockCode {
				positions[i].CurrentPrice = tick.CurrentPrice
				touched = true
			}
		}
		if !touched {
			return cur
		}
		cur.Positions = positions
		cur.Normalize()
		return cur
	})
}
