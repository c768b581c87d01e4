package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/moexsim/broker-engine/internal/metrics"
	"github.com/moexsim/broker-engine/internal/model"
	"github.com/moexsim/broker-engine/internal/store"
)

// Broadcaster pushes refreshed quotes to streaming subscribers.
// Implemented by the WebSocket hub; nil disables broadcasting.
type Broadcaster interface {
	BroadcastQuote(q model.Quote)
}

// Refresher periodically pulls price snapshots from the feed and applies
// them to the catalog. It is the only writer of stock prices; the trade
// engine treats prices as a read-only oracle.
type Refresher struct {
	store    store.Store
	feed     Feed
	hub      Broadcaster
	interval time.Duration
}

// NewRefresher creates a price refresher. Pass nil for hub if streaming
// broadcasts are not needed.
func NewRefresher(st store.Store, feed Feed, hub Broadcaster, interval time.Duration) *Refresher {
	return &Refresher{
		store:    st,
		feed:     feed,
		hub:      hub,
		interval: interval,
	}
}

// Run refreshes immediately, then on every interval tick until ctx is
// cancelled. Must be called in a goroutine.
func (r *Refresher) Run(ctx context.Context) {
	if err := r.RefreshOnce(ctx); err != nil {
		slog.Error("price refresh failed", "err", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RefreshOnce(ctx); err != nil {
				slog.Error("price refresh failed", "err", err)
				metrics.PriceRefreshFailures.Inc()
			}
		}
	}
}

// RefreshOnce pulls one snapshot from the feed and applies it. Quotes for
// untracked tickers and quotes without a positive price are skipped.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	tickers, err := r.store.ListTickers(ctx)
	if err != nil {
		return fmt.Errorf("list tracked tickers: %w", err)
	}
	if len(tickers) == 0 {
		slog.Warn("no tracked stocks, skipping price refresh")
		return nil
	}
	tracked := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		tracked[t] = true
	}

	quotes, err := r.feed.Quotes(ctx)
	if err != nil {
		return fmt.Errorf("fetch quotes: %w", err)
	}

	var apply []model.Quote
	for _, q := range quotes {
		if !tracked[q.Ticker] || !q.Price.IsPositive() {
			continue
		}
		apply = append(apply, q)
	}

	if len(apply) == 0 {
		slog.Warn("no valid quotes received from feed")
		return nil
	}

	updated, err := r.store.UpdateQuotes(ctx, apply)
	if err != nil {
		return fmt.Errorf("apply quotes: %w", err)
	}

	if r.hub != nil {
		for _, q := range apply {
			r.hub.BroadcastQuote(q)
		}
	}

	metrics.PriceRefreshTotal.Inc()
	metrics.QuotesUpdated.Set(float64(updated))
	slog.Info("stock prices refreshed", "received", len(quotes), "updated", updated)
	return nil
}
