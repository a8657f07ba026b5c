package store

import (
	"context"
	"encoding/json"

	"github.com/aristath/tradedeck/internal/domain"
)

// Orders synchronizes the order book. An order_update push carries a single
// order; rather than patching two lists by hand the store re-pulls both, so
// fills and cancellations land consistently.
type Orders struct {
	*Store[domain.OrderBook]

	deps  Deps
	unsub []func()
}

// NewOrders wires the order store into the router. Call Start to begin.
func NewOrders(d Deps) *Orders {
	o := &Orders{deps: d}
	o.Store = NewStore(Options[domain.OrderBook]{
		Name: "orders",
		Fetch: func(ctx context.Context) (domain.OrderBook, error) {
			history, err := d.Client.OrderHistory(ctx)
			if err != nil {
				return domain.OrderBook{}, err
			}
			pending, err := d.Client.PendingOrders(ctx)
			if err != nil {
				return domain.OrderBook{}, err
			}
			return domain.OrderBook{History: history, Pending: pending}, nil
		},
		Connected: d.Connected,
		Clock:     d.Clock,
		PollEvery: d.Sync.FallbackPollEvery,
		Cache:     d.Cache,
		Log:       d.Log,
	})

	o.unsub = append(o.unsub,
		d.Router.Subscribe(domain.OrderUpdate, o.handleOrderUpdate),
	)
	return o
}

// Close detaches from the router and stops the sync core.
func (o *Orders) Close() {
	for _, fn := range o.unsub {
		fn()
	}
	o.Store.Close()
}

// Buy submits a buy order and refreshes the order book.
func (o *Orders) Buy(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	order, err := o.deps.Client.PlaceBuyOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	o.Refresh()
	return order, nil
}

// Sell submits a sell order and refreshes the order book.
func (o *Orders) Sell(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	order, err := o.deps.Client.PlaceSellOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	o.Refresh()
	return order, nil
}

// Cancel cancels a pending order and refreshes the order book.
func (o *Orders) Cancel(ctx context.Context, orderID string) error {
	if err := o.deps.Client.CancelOrder(ctx, orderID); err != nil {
		return err
	}
	o.Refresh()
	return nil
}

func (o *Orders) handleOrderUpdate(env domain.Envelope) {
	var order domain.Order
	if err := json.Unmarshal(env.Data, &order); err != nil {
		o.log.Warn().Err(err).Msg("Dropping undecodable order update")
		return
	}
	o.log.Debug().Str("order_id", order.OrderID).Str("status", order.Status).Msg("Order update received")
	// The re-pull must not run on the dispatch path: a slow server would
	// stall every subsequent push behind it. Refresh coalesces concurrent
	// pulls, so firing one per update is safe.
	go o.Refresh()
}
