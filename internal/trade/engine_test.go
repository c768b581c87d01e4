package trade_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/moexsim/broker-engine/internal/market"
	"github.com/moexsim/broker-engine/internal/model"
	"github.com/moexsim/broker-engine/internal/store"
	"github.com/moexsim/broker-engine/internal/trade"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newTestEngine creates an engine over a fresh in-memory store seeded
// with SBER (250.00, lot 10) and AAPL (100.00, lot 1).
func newTestEngine(t *testing.T) (*trade.Engine, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore(d("100000.00"))
	seedStock(t, ms, "SBER", "Sberbank", "250.00", 10)
	seedStock(t, ms, "AAPL", "Apple", "100.00", 1)
	engine := trade.NewEngine(ms, market.NewStoreQuoter(ms), d("0.001"))
	return engine, ms
}

func seedStock(t *testing.T, ms *store.MemoryStore, ticker, name, price string, lotSize int64) {
	t.Helper()
	err := ms.UpsertStock(context.Background(), &model.Stock{
		Ticker:       ticker,
		Name:         name,
		Price:        d(price),
		LotSize:      lotSize,
		Sector:       "FINS",
		ListingLevel: "1",
		Type:         "COMMON",
		BlueChip:     true,
	})
	if err != nil {
		t.Fatalf("failed to seed stock: %v", err)
	}
}

func balanceOf(t *testing.T, ms *store.MemoryStore, userID string) decimal.Decimal {
	t.Helper()
	a, err := ms.GetOrCreateAccount(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to get account: %v", err)
	}
	return a.Balance
}

func TestBuy_FreshAccount(t *testing.T) {
	engine, ms := newTestEngine(t)

	// 20 × 250.00 × 1.001 = 5005.00 debited.
	result, err := engine.Buy(context.Background(), "user1", "SBER", 20)
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	if !result.Total.Equal(d("5005.00")) {
		t.Errorf("expected total debit 5005.00, got %s", result.Total)
	}
	if !result.Commission.Equal(d("5.00")) {
		t.Errorf("expected commission 5.00, got %s", result.Commission)
	}
	if !result.Balance.Equal(d("94995.00")) {
		t.Errorf("expected balance 94995.00, got %s", result.Balance)
	}
	if result.PositionQuantity != 20 {
		t.Errorf("expected position quantity 20, got %d", result.PositionQuantity)
	}
	if !result.AvgPrice.Equal(d("250.00")) {
		t.Errorf("expected avg price 250.00, got %s", result.AvgPrice)
	}

	pos, err := ms.GetPosition(context.Background(), "user1", "SBER")
	if err != nil {
		t.Fatalf("position not persisted: %v", err)
	}
	if pos.Quantity != 20 || !pos.AvgPrice.Equal(d("250.00")) {
		t.Errorf("unexpected persisted position: %+v", pos)
	}
	if got := balanceOf(t, ms, "user1"); !got.Equal(d("94995.00")) {
		t.Errorf("expected persisted balance 94995.00, got %s", got)
	}
}

func TestSell_FullPositionIsDeleted(t *testing.T) {
	engine, ms := newTestEngine(t)

	if _, err := engine.Buy(context.Background(), "user1", "SBER", 20); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	// 20 × 250.00 × 0.999 = 4995.00 credited.
	result, err := engine.Sell(context.Background(), "user1", "SBER", 20)
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	if !result.Total.Equal(d("4995.00")) {
		t.Errorf("expected net credit 4995.00, got %s", result.Total)
	}
	if !result.Balance.Equal(d("99990.00")) {
		t.Errorf("expected balance 99990.00, got %s", result.Balance)
	}
	if result.PositionQuantity != 0 {
		t.Errorf("expected position quantity 0, got %d", result.PositionQuantity)
	}

	// A position never persists with quantity 0.
	if _, err := ms.GetPosition(context.Background(), "user1", "SBER"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected position to be deleted, got err=%v", err)
	}
}

func TestSell_PartialKeepsAvgPrice(t *testing.T) {
	engine, ms := newTestEngine(t)

	if _, err := engine.Buy(context.Background(), "user1", "SBER", 20); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	result, err := engine.Sell(context.Background(), "user1", "SBER", 10)
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	if result.PositionQuantity != 10 {
		t.Errorf("expected remaining quantity 10, got %d", result.PositionQuantity)
	}
	// 100000 − 5005.00 + 10×250×0.999 = 97492.50
	if !result.Balance.Equal(d("97492.50")) {
		t.Errorf("expected balance 97492.50, got %s", result.Balance)
	}

	pos, err := ms.GetPosition(context.Background(), "user1", "SBER")
	if err != nil {
		t.Fatalf("position missing: %v", err)
	}
	if !pos.AvgPrice.Equal(d("250.00")) {
		t.Errorf("partial sell must not change avg price, got %s", pos.AvgPrice)
	}
}

func TestBuy_WeightedAverageCost(t *testing.T) {
	engine, ms := newTestEngine(t)

	if _, err := engine.Buy(context.Background(), "user1", "SBER", 100); err != nil {
		t.Fatalf("first buy failed: %v", err)
	}

	// Price moves, second buy reweights the average.
	seedStock(t, ms, "SBER", "Sberbank", "310.00", 10)
	result, err := engine.Buy(context.Background(), "user1", "SBER", 50)
	if err != nil {
		t.Fatalf("second buy failed: %v", err)
	}

	// (100×250 + 50×310) / 150 = 270.00
	if result.PositionQuantity != 150 {
		t.Errorf("expected quantity 150, got %d", result.PositionQuantity)
	}
	if !result.AvgPrice.Equal(d("270.00")) {
		t.Errorf("expected avg price 270.00, got %s", result.AvgPrice)
	}
}

func TestBuy_LotSizeViolation(t *testing.T) {
	engine, ms := newTestEngine(t)

	_, err := engine.Buy(context.Background(), "user1", "SBER", 15)
	var lotErr *trade.LotSizeError
	if !errors.As(err, &lotErr) {
		t.Fatalf("expected LotSizeError, got %v", err)
	}
	if lotErr.LotSize != 10 {
		t.Errorf("expected reported lot size 10, got %d", lotErr.LotSize)
	}

	// Nothing mutated, nothing recorded.
	if got := balanceOf(t, ms, "user1"); !got.Equal(d("100000.00")) {
		t.Errorf("balance changed on rejected trade: %s", got)
	}
	txs, _ := ms.ListTransactions(context.Background(), "user1", 0)
	if len(txs) != 0 {
		t.Errorf("expected no transactions, got %d", len(txs))
	}
}

func TestBuy_InsufficientFunds(t *testing.T) {
	engine, ms := newTestEngine(t)

	// 1000 × 250 × 1.001 = 250250.00 > 100000.00
	_, err := engine.Buy(context.Background(), "user1", "SBER", 1000)
	var fundsErr *trade.InsufficientFundsError
	if !errors.As(err, &fundsErr) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if !fundsErr.Required.Equal(d("250250.00")) {
		t.Errorf("expected required 250250.00, got %s", fundsErr.Required)
	}
	if !fundsErr.Available.Equal(d("100000.00")) {
		t.Errorf("expected available 100000.00, got %s", fundsErr.Available)
	}
	if got := balanceOf(t, ms, "user1"); !got.Equal(d("100000.00")) {
		t.Errorf("balance changed on rejected trade: %s", got)
	}
}

func TestSell_NoPosition(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Sell(context.Background(), "user1", "AAPL", 1)
	if !errors.Is(err, trade.ErrNoPosition) {
		t.Fatalf("expected ErrNoPosition, got %v", err)
	}
}

func TestSell_InsufficientQuantity(t *testing.T) {
	engine, _ := newTestEngine(t)

	if _, err := engine.Buy(context.Background(), "user1", "SBER", 10); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	_, err := engine.Sell(context.Background(), "user1", "SBER", 20)
	var qtyErr *trade.InsufficientQuantityError
	if !errors.As(err, &qtyErr) {
		t.Fatalf("expected InsufficientQuantityError, got %v", err)
	}
	if qtyErr.Available != 10 {
		t.Errorf("expected reported available 10, got %d", qtyErr.Available)
	}
}

func TestTrade_UnknownInstrument(t *testing.T) {
	engine, _ := newTestEngine(t)

	if _, err := engine.Buy(context.Background(), "user1", "ZZZZ", 1); !errors.Is(err, trade.ErrInstrumentNotFound) {
		t.Errorf("expected ErrInstrumentNotFound on buy, got %v", err)
	}
	if _, err := engine.Sell(context.Background(), "user1", "ZZZZ", 1); !errors.Is(err, trade.ErrInstrumentNotFound) {
		t.Errorf("expected ErrInstrumentNotFound on sell, got %v", err)
	}
}

func TestBuy_PriceUnavailable(t *testing.T) {
	engine, ms := newTestEngine(t)
	seedStock(t, ms, "NEWX", "New Listing", "0", 1)

	if _, err := engine.Buy(context.Background(), "user1", "NEWX", 1); !errors.Is(err, trade.ErrPriceUnavailable) {
		t.Errorf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestTrade_InvalidQuantity(t *testing.T) {
	engine, _ := newTestEngine(t)

	if _, err := engine.Buy(context.Background(), "user1", "SBER", 0); !errors.Is(err, trade.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := engine.Sell(context.Background(), "user1", "SBER", -5); !errors.Is(err, trade.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
}

// Ledger conservation: debits − credits recorded in the transaction log
// equal initial − current balance.
func TestLedger_Conservation(t *testing.T) {
	engine, ms := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.Buy(ctx, "user1", "SBER", 50); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if _, err := engine.Buy(ctx, "user1", "AAPL", 3); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if _, err := engine.Sell(ctx, "user1", "SBER", 20); err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	txs, err := ms.ListTransactions(ctx, "user1", 0)
	if err != nil {
		t.Fatalf("failed to list transactions: %v", err)
	}

	net := decimal.Zero // debits − credits
	for _, tx := range txs {
		notional := tx.Price.Mul(decimal.NewFromInt(tx.Quantity))
		if tx.Action == model.ActionBuy {
			net = net.Add(notional).Add(tx.Commission)
		} else {
			net = net.Sub(notional).Add(tx.Commission)
		}
	}

	spent := d("100000.00").Sub(balanceOf(t, ms, "user1"))
	if !net.Equal(spent) {
		t.Errorf("ledger conservation violated: ledger net %s, balance delta %s", net, spent)
	}
}

// N concurrent buys against the same account must serialize: every trade
// succeeds and the final balance reflects all of them.
func TestBuy_ConcurrentSameAccount(t *testing.T) {
	engine, ms := newTestEngine(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Buy(context.Background(), "user1", "SBER", 10)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("concurrent buy %d failed: %v", i, err)
		}
	}

	// 100000 − 8 × (10 × 250 × 1.001) = 100000 − 20020.00
	if got := balanceOf(t, ms, "user1"); !got.Equal(d("79980.00")) {
		t.Errorf("expected balance 79980.00, got %s", got)
	}
	pos, err := ms.GetPosition(context.Background(), "user1", "SBER")
	if err != nil {
		t.Fatalf("position missing: %v", err)
	}
	if pos.Quantity != 80 {
		t.Errorf("expected quantity 80, got %d", pos.Quantity)
	}
}

// Trades against different accounts proceed independently.
func TestBuy_ConcurrentDistinctAccounts(t *testing.T) {
	engine, ms := newTestEngine(t)

	var wg sync.WaitGroup
	users := []string{"alice", "bob", "carol", "dave"}
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			if _, err := engine.Buy(context.Background(), u, "SBER", 10); err != nil {
				t.Errorf("buy for %s failed: %v", u, err)
			}
		}(u)
	}
	wg.Wait()

	for _, u := range users {
		if got := balanceOf(t, ms, u); !got.Equal(d("97497.50")) {
			t.Errorf("expected balance 97497.50 for %s, got %s", u, got)
		}
	}
}
