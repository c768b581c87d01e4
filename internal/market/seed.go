package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/moexsim/broker-engine/internal/model"
	"github.com/moexsim/broker-engine/internal/store"
)

// BlueChips is the default set of tickers tracked by a fresh catalog.
var BlueChips = []string{
	"SBER", "GAZP", "LKOH", "TATN", "T", "NVTK", "YDEX", "GMKN",
	"PLZL", "X5", "ROSN", "SNGS", "MOEX", "CHMF", "NLMK",
}

// SeedCatalog populates an empty catalog with the blue-chip tickers,
// taking names and lot sizes from the feed where available. Existing
// stocks are left untouched. Prices stay 0 until the first refresh.
// Returns the number of stocks created.
func SeedCatalog(ctx context.Context, st store.Store, feed Feed) (int, error) {
	lookup := make(map[string]Security)
	securities, err := feed.Securities(ctx)
	if err != nil {
		// Seed with placeholder names rather than failing startup;
		// the next refresh cycle fills in real data.
		slog.Error("could not fetch security list, seeding with defaults", "err", err)
	} else {
		for _, s := range securities {
			lookup[s.Ticker] = s
		}
	}

	created := 0
	for _, ticker := range BlueChips {
		_, err := st.GetStock(ctx, ticker)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return created, fmt.Errorf("seed %s: %w", ticker, err)
		}

		name := fmt.Sprintf("Company %s", ticker)
		lotSize := int64(1)
		if sec, ok := lookup[ticker]; ok {
			if sec.Name != "" {
				name = sec.Name
			}
			if sec.LotSize > 0 {
				lotSize = sec.LotSize
			}
		}

		stock := &model.Stock{
			Ticker:       ticker,
			Name:         name,
			Price:        decimal.Zero, // no tradable price yet
			LotSize:      lotSize,
			Sector:       "OTHR",
			ListingLevel: "1",
			Type:         "COMMON",
			BlueChip:     true,
		}
		if err := st.UpsertStock(ctx, stock); err != nil {
			return created, fmt.Errorf("seed %s: %w", ticker, err)
		}
		created++
	}

	slog.Info("stock catalog seeded", "created", created)
	return created, nil
}
