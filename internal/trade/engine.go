// Package trade implements the portfolio ledger and trade-execution
// engine: validation of buy/sell requests against business rules, the
// atomic account/position/transaction-log state transition, and the
// read-only portfolio valuation over it.
//
// All monetary values use shopspring/decimal, never float64.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/moexsim/broker-engine/internal/metrics"
	"github.com/moexsim/broker-engine/internal/model"
	"github.com/moexsim/broker-engine/internal/store"
)

// Quoter is the price oracle consumed by the engine: a point-in-time
// snapshot of price and lot size per ticker. The engine never holds a
// lock on the instrument; a concurrent price refresh between snapshot
// and commit is accepted.
type Quoter interface {
	Quote(ctx context.Context, ticker string) (model.Quote, error)
}

// Engine validates and executes trades. Trades against the same account
// are serialized through a per-account lock; trades against different
// accounts never block each other.
type Engine struct {
	store          store.Store
	quotes         Quoter
	commissionRate decimal.Decimal
	locks          accountLocks
}

// NewEngine creates a trade engine with explicit storage and price-oracle
// collaborators. commissionRate is a fraction of trade notional, e.g.
// 0.001 for 0.1%.
func NewEngine(st store.Store, quotes Quoter, commissionRate decimal.Decimal) *Engine {
	return &Engine{
		store:          st,
		quotes:         quotes,
		commissionRate: commissionRate,
	}
}

// TradeResult describes a successfully executed trade.
type TradeResult struct {
	TradeID          string          `json:"trade_id"`
	Action           string          `json:"action"`
	Ticker           string          `json:"ticker"`
	Quantity         int64           `json:"quantity"`
	Price            decimal.Decimal `json:"price"`
	Commission       decimal.Decimal `json:"commission"`
	Total            decimal.Decimal `json:"total"`   // cash debited (buy) or credited (sell)
	Balance          decimal.Decimal `json:"balance"` // balance after the trade
	PositionQuantity int64           `json:"position_quantity"`
	AvgPrice         decimal.Decimal `json:"average_buy_price"`
	Message          string          `json:"message"`
}

// Buy purchases quantity units of ticker at the current snapshot price.
// The account is created with the starting balance if it does not exist.
// Fails with ErrInstrumentNotFound, ErrPriceUnavailable, *LotSizeError,
// or *InsufficientFundsError without mutating any state.
func (e *Engine) Buy(ctx context.Context, userID, ticker string, quantity int64) (*TradeResult, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	start := time.Now()
	unlock := e.locks.lock(userID)
	defer unlock()

	account, err := e.store.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve account: %w", err)
	}

	quote, err := e.snapshot(ctx, ticker)
	if err != nil {
		rejected(model.ActionBuy, err)
		return nil, err
	}

	if quantity%quote.LotSize != 0 {
		err := &LotSizeError{Ticker: ticker, Quantity: quantity, LotSize: quote.LotSize}
		rejected(model.ActionBuy, err)
		return nil, err
	}

	qty := decimal.NewFromInt(quantity)
	cost := quote.Price.Mul(qty)
	commission := cost.Mul(e.commissionRate).Round(2)
	totalDebit := cost.Add(commission)

	if account.Balance.LessThan(totalDebit) {
		err := &InsufficientFundsError{Required: totalDebit, Available: account.Balance}
		rejected(model.ActionBuy, err)
		return nil, err
	}

	pos, err := e.store.GetPosition(ctx, userID, ticker)
	if errors.Is(err, store.ErrNotFound) {
		pos = &model.Position{UserID: userID, Ticker: ticker, AvgPrice: decimal.Zero}
	} else if err != nil {
		return nil, fmt.Errorf("resolve position: %w", err)
	}

	// Weighted average cost over the old holding and this trade.
	// Commission affects cash only, never the cost basis.
	newQuantity := pos.Quantity + quantity
	oldCost := pos.AvgPrice.Mul(decimal.NewFromInt(pos.Quantity))
	newAvgPrice := oldCost.Add(cost).Div(decimal.NewFromInt(newQuantity)).Round(2)

	newBalance := account.Balance.Sub(totalDebit)
	record := model.Transaction{
		ID:         uuid.New().String(),
		UserID:     userID,
		Ticker:     ticker,
		Action:     model.ActionBuy,
		Quantity:   quantity,
		Price:      quote.Price,
		Commission: commission,
		Timestamp:  time.Now().UTC(),
	}

	err = e.store.ApplyTrade(ctx, &model.TradeMutation{
		UserID:      userID,
		PrevBalance: account.Balance,
		NewBalance:  newBalance,
		Position: model.Position{
			UserID:   userID,
			Ticker:   ticker,
			Quantity: newQuantity,
			AvgPrice: newAvgPrice,
		},
		Record: record,
	})
	if err != nil {
		return nil, fmt.Errorf("commit buy: %w", err)
	}

	metrics.TradesTotal.WithLabelValues(model.ActionBuy).Inc()
	metrics.TradeLatency.WithLabelValues(model.ActionBuy).Observe(time.Since(start).Seconds())
	slog.Info("buy executed",
		"user", userID,
		"ticker", ticker,
		"qty", quantity,
		"price", quote.Price.String(),
		"commission", commission.String(),
		"avg_price", newAvgPrice.String(),
		"balance", newBalance.String(),
	)

	return &TradeResult{
		TradeID:          record.ID,
		Action:           model.ActionBuy,
		Ticker:           ticker,
		Quantity:         quantity,
		Price:            quote.Price,
		Commission:       commission,
		Total:            totalDebit,
		Balance:          newBalance,
		PositionQuantity: newQuantity,
		AvgPrice:         newAvgPrice,
		Message: fmt.Sprintf("Bought %d %s. Debited %s (incl. commission %s).",
			quantity, ticker, totalDebit.StringFixed(2), commission.StringFixed(2)),
	}, nil
}

// Sell disposes quantity units of a held position at the current snapshot
// price. The average buy price of the remainder is unchanged; a sell that
// empties the position removes it entirely. Fails with
// ErrInstrumentNotFound, ErrNoPosition, ErrPriceUnavailable,
// *LotSizeError, or *InsufficientQuantityError without mutating state.
func (e *Engine) Sell(ctx context.Context, userID, ticker string, quantity int64) (*TradeResult, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	start := time.Now()
	unlock := e.locks.lock(userID)
	defer unlock()

	account, err := e.store.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve account: %w", err)
	}

	quote, err := e.snapshot(ctx, ticker)
	if err != nil {
		rejected(model.ActionSell, err)
		return nil, err
	}

	pos, err := e.store.GetPosition(ctx, userID, ticker)
	if errors.Is(err, store.ErrNotFound) {
		rejected(model.ActionSell, ErrNoPosition)
		return nil, fmt.Errorf("%w: %s", ErrNoPosition, ticker)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve position: %w", err)
	}

	if quantity%quote.LotSize != 0 {
		err := &LotSizeError{Ticker: ticker, Quantity: quantity, LotSize: quote.LotSize}
		rejected(model.ActionSell, err)
		return nil, err
	}

	if pos.Quantity < quantity {
		err := &InsufficientQuantityError{Ticker: ticker, Requested: quantity, Available: pos.Quantity}
		rejected(model.ActionSell, err)
		return nil, err
	}

	qty := decimal.NewFromInt(quantity)
	revenue := quote.Price.Mul(qty)
	commission := revenue.Mul(e.commissionRate).Round(2)
	netCredit := revenue.Sub(commission)

	newQuantity := pos.Quantity - quantity
	newBalance := account.Balance.Add(netCredit)
	record := model.Transaction{
		ID:         uuid.New().String(),
		UserID:     userID,
		Ticker:     ticker,
		Action:     model.ActionSell,
		Quantity:   quantity,
		Price:      quote.Price,
		Commission: commission,
		Timestamp:  time.Now().UTC(),
	}

	err = e.store.ApplyTrade(ctx, &model.TradeMutation{
		UserID:      userID,
		PrevBalance: account.Balance,
		NewBalance:  newBalance,
		Position: model.Position{
			UserID:   userID,
			Ticker:   ticker,
			Quantity: newQuantity,
			AvgPrice: pos.AvgPrice,
		},
		DeletePos: newQuantity == 0,
		Record:    record,
	})
	if err != nil {
		return nil, fmt.Errorf("commit sell: %w", err)
	}

	metrics.TradesTotal.WithLabelValues(model.ActionSell).Inc()
	metrics.TradeLatency.WithLabelValues(model.ActionSell).Observe(time.Since(start).Seconds())
	slog.Info("sell executed",
		"user", userID,
		"ticker", ticker,
		"qty", quantity,
		"price", quote.Price.String(),
		"commission", commission.String(),
		"remaining", newQuantity,
		"balance", newBalance.String(),
	)

	message := fmt.Sprintf("Sold %d %s. Credited %s (commission %s deducted). Remaining: %d.",
		quantity, ticker, netCredit.StringFixed(2), commission.StringFixed(2), newQuantity)
	if newQuantity == 0 {
		message = fmt.Sprintf("Sold %d %s. Credited %s (commission %s deducted). Position closed.",
			quantity, ticker, netCredit.StringFixed(2), commission.StringFixed(2))
	}

	return &TradeResult{
		TradeID:          record.ID,
		Action:           model.ActionSell,
		Ticker:           ticker,
		Quantity:         quantity,
		Price:            quote.Price,
		Commission:       commission,
		Total:            netCredit,
		Balance:          newBalance,
		PositionQuantity: newQuantity,
		AvgPrice:         pos.AvgPrice,
		Message:          message,
	}, nil
}

// snapshot resolves the instrument and takes one point-in-time price
// snapshot, normalizing a degenerate lot size to 1.
func (e *Engine) snapshot(ctx context.Context, ticker string) (model.Quote, error) {
	quote, err := e.quotes.Quote(ctx, ticker)
	if errors.Is(err, store.ErrNotFound) {
		return model.Quote{}, fmt.Errorf("%w: %s", ErrInstrumentNotFound, ticker)
	}
	if err != nil {
		return model.Quote{}, fmt.Errorf("resolve instrument %s: %w", ticker, err)
	}
	if !quote.Price.IsPositive() {
		return model.Quote{}, fmt.Errorf("%w: %s", ErrPriceUnavailable, ticker)
	}
	if quote.LotSize <= 0 {
		quote.LotSize = 1
	}
	return quote, nil
}

// rejected counts a business-rule rejection by reason.
func rejected(action string, err error) {
	var lotErr *LotSizeError
	var fundsErr *InsufficientFundsError
	var qtyErr *InsufficientQuantityError

	reason := "other"
	switch {
	case errors.Is(err, ErrInstrumentNotFound):
		reason = "instrument_not_found"
	case errors.Is(err, ErrPriceUnavailable):
		reason = "price_unavailable"
	case errors.Is(err, ErrNoPosition):
		reason = "no_position"
	case errors.As(err, &lotErr):
		reason = "lot_size"
	case errors.As(err, &fundsErr):
		reason = "insufficient_funds"
	case errors.As(err, &qtyErr):
		reason = "insufficient_quantity"
	}
	metrics.TradeRejections.WithLabelValues(action, reason).Inc()
}

// accountLocks serializes trades per account. Locks are created on first
// use and kept for the process lifetime (bounded by the number of users).
type accountLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *accountLocks) lock(key string) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*sync.Mutex)
	}
	mu, ok := l.m[key]
	if !ok {
		mu = &sync.Mutex{}
		l.m[key] = mu
	}
	l.mu.Unlock()

	mu.Lock()
	return mu.Unlock
}
