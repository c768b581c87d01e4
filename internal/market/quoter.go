package market

import (
	"context"

	"github.com/moexsim/broker-engine/internal/model"
	"github.com/moexsim/broker-engine/internal/store"
)

// StoreQuoter serves price snapshots to the trade engine out of the
// catalog's cached prices. The engine reads one snapshot per trade and
// holds no lock on the instrument; a concurrent refresh may change the
// price after the snapshot is taken.
type StoreQuoter struct {
	store store.Store
}

// NewStoreQuoter creates a catalog-backed price oracle.
func NewStoreQuoter(st store.Store) *StoreQuoter {
	return &StoreQuoter{store: st}
}

// Quote returns the current price and lot size for a ticker.
// Returns store.ErrNotFound for unknown instruments.
func (q *StoreQuoter) Quote(ctx context.Context, ticker string) (model.Quote, error) {
	st, err := q.store.GetStock(ctx, ticker)
	if err != nil {
		return model.Quote{}, err
	}
	return model.Quote{Ticker: st.Ticker, Price: st.Price, LotSize: st.LotSize}, nil
}
