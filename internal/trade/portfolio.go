package trade

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/moexsim/broker-engine/internal/model"
	"github.com/moexsim/broker-engine/internal/store"
)

// DelistedLabel replaces the instrument name in views that reference a
// ticker no longer present in the catalog. The transaction record itself
// is never deleted or changed.
const DelistedLabel = "Delisted"

// DefaultHistoryLimit bounds History when the caller passes no limit.
const DefaultHistoryLimit = 50

var hundred = decimal.NewFromInt(100)

// Summarize values every position of the account at current prices and
// aggregates P&L. Read-only; safe to call concurrently with trades. The
// snapshot may be stale by the time it returns, which is acceptable for
// a summary view.
func (e *Engine) Summarize(ctx context.Context, userID string) (*model.PortfolioSummary, error) {
	account, err := e.store.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve account: %w", err)
	}

	positions, err := e.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	summary := &model.PortfolioSummary{
		UserID:                 userID,
		Balance:                account.Balance,
		TotalMarketValue:       decimal.Zero,
		TotalCostBasis:         decimal.Zero,
		TotalProfitLoss:        decimal.Zero,
		TotalProfitLossPercent: decimal.Zero,
		Positions:              make([]model.PositionView, 0, len(positions)),
	}

	for _, p := range positions {
		view := model.PositionView{
			Ticker:   p.Ticker,
			Name:     DelistedLabel,
			Quantity: p.Quantity,
			LotSize:  1,
			AvgPrice: p.AvgPrice,
		}

		stock, err := e.store.GetStock(ctx, p.Ticker)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("resolve instrument %s: %w", p.Ticker, err)
		}
		if err == nil {
			view.Name = stock.Name
			view.LotSize = stock.LotSize
			view.CurrentPrice = stock.Price
		}

		qty := decimal.NewFromInt(p.Quantity)
		view.MarketValue = view.CurrentPrice.Mul(qty)
		view.CostBasis = p.AvgPrice.Mul(qty)
		view.ProfitLoss = view.MarketValue.Sub(view.CostBasis)
		view.ProfitLossPercent = decimal.Zero
		if view.CostBasis.IsPositive() {
			view.ProfitLossPercent = view.ProfitLoss.Div(view.CostBasis).Mul(hundred).Round(2)
		}

		summary.TotalMarketValue = summary.TotalMarketValue.Add(view.MarketValue)
		summary.TotalCostBasis = summary.TotalCostBasis.Add(view.CostBasis)
		summary.TotalProfitLoss = summary.TotalProfitLoss.Add(view.ProfitLoss)
		summary.Positions = append(summary.Positions, view)
	}

	if summary.TotalCostBasis.IsPositive() {
		summary.TotalProfitLossPercent = summary.TotalProfitLoss.
			Div(summary.TotalCostBasis).Mul(hundred).Round(2)
	}
	summary.NetWorth = summary.Balance.Add(summary.TotalMarketValue)

	return summary, nil
}

// History returns the account's executed trades, newest first, bounded
// by limit (DefaultHistoryLimit when limit <= 0). Pure read.
func (e *Engine) History(ctx context.Context, userID string, limit int) ([]model.TransactionView, error) {
	if _, err := e.store.GetOrCreateAccount(ctx, userID); err != nil {
		return nil, fmt.Errorf("resolve account: %w", err)
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	txs, err := e.store.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	names := make(map[string]string)
	views := make([]model.TransactionView, 0, len(txs))
	for _, t := range txs {
		name, ok := names[t.Ticker]
		if !ok {
			name = DelistedLabel
			stock, err := e.store.GetStock(ctx, t.Ticker)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("resolve instrument %s: %w", t.Ticker, err)
			}
			if err == nil {
				name = stock.Name
			}
			names[t.Ticker] = name
		}

		views = append(views, model.TransactionView{
			ID:         t.ID,
			Action:     t.Action,
			Ticker:     t.Ticker,
			Name:       name,
			Quantity:   t.Quantity,
			Price:      t.Price,
			Total:      t.Price.Mul(decimal.NewFromInt(t.Quantity)),
			Commission: t.Commission,
			Timestamp:  t.Timestamp,
		})
	}
	return views, nil
}
