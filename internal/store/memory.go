package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moexsim/broker-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu              sync.RWMutex
	startingBalance decimal.Decimal
	accounts        map[string]*model.Account
	positions       map[string]map[string]*model.Position // userID → ticker → position
	transactions    []model.Transaction                    // append-only, oldest first
	stocks          map[string]*model.Stock
}

// NewMemoryStore creates a new in-memory store. New accounts start with
// startingBalance.
func NewMemoryStore(startingBalance decimal.Decimal) *MemoryStore {
	return &MemoryStore{
		startingBalance: startingBalance,
		accounts:        make(map[string]*model.Account),
		positions:       make(map[string]map[string]*model.Position),
		stocks:          make(map[string]*model.Stock),
	}
}

func (s *MemoryStore) GetOrCreateAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		a = &model.Account{
			UserID:    userID,
			Balance:   s.startingBalance,
			CreatedAt: time.Now().UTC(),
		}
		s.accounts[userID] = a
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, userID, ticker string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[userID][ticker]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]model.Position, 0, len(s.positions[userID]))
	for _, p := range s.positions[userID] {
		positions = append(positions, *p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Ticker < positions[j].Ticker })
	return positions, nil
}

func (s *MemoryStore) ApplyTrade(_ context.Context, m *model.TradeMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[m.UserID]
	if !ok {
		return ErrNotFound
	}
	if !a.Balance.Equal(m.PrevBalance) {
		return ErrConflict
	}

	// Point of no return: everything below must succeed together.
	a.Balance = m.NewBalance

	if m.DeletePos {
		delete(s.positions[m.UserID], m.Position.Ticker)
	} else {
		byTicker, ok := s.positions[m.UserID]
		if !ok {
			byTicker = make(map[string]*model.Position)
			s.positions[m.UserID] = byTicker
		}
		pos := m.Position
		byTicker[pos.Ticker] = &pos
	}

	s.transactions = append(s.transactions, m.Record)
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string, limit int) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if s.transactions[i].UserID != userID {
			continue
		}
		result = append(result, s.transactions[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) GetStock(_ context.Context, ticker string) (*model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stocks[ticker]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *st
	return &copy, nil
}

func (s *MemoryStore) ListStocks(_ context.Context, f StockFilter) ([]model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stocks []model.Stock
	for _, st := range s.stocks {
		if !st.Price.IsPositive() {
			continue
		}
		if f.Query != "" && !matchesQuery(st, f.Query) {
			continue
		}
		if f.Sector != "" && st.Sector != f.Sector {
			continue
		}
		if f.ListingLevel != "" && st.ListingLevel != f.ListingLevel {
			continue
		}
		if f.StockType != "" && st.Type != f.StockType {
			continue
		}
		if f.BlueChipOnly && !st.BlueChip {
			continue
		}
		stocks = append(stocks, *st)
	}
	sort.Slice(stocks, func(i, j int) bool { return stocks[i].Ticker < stocks[j].Ticker })
	return stocks, nil
}

func (s *MemoryStore) SearchStocks(_ context.Context, query string, limit int) ([]model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stocks []model.Stock
	for _, st := range s.stocks {
		if matchesQuery(st, query) {
			stocks = append(stocks, *st)
		}
	}
	sort.Slice(stocks, func(i, j int) bool { return stocks[i].Ticker < stocks[j].Ticker })
	if limit > 0 && len(stocks) > limit {
		stocks = stocks[:limit]
	}
	return stocks, nil
}

func (s *MemoryStore) ListTickers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tickers := make([]string, 0, len(s.stocks))
	for t := range s.stocks {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers, nil
}

func (s *MemoryStore) UpsertStock(_ context.Context, st *model.Stock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *st
	s.stocks[st.Ticker] = &copy
	return nil
}

func (s *MemoryStore) UpdateQuotes(_ context.Context, quotes []model.Quote) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	now := time.Now().UTC()
	for _, q := range quotes {
		st, ok := s.stocks[q.Ticker]
		if !ok {
			continue
		}
		st.Price = q.Price
		if q.LotSize > 0 {
			st.LotSize = q.LotSize
		}
		st.UpdatedAt = now
		updated++
	}
	return updated, nil
}

func (s *MemoryStore) DeleteStock(_ context.Context, ticker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stocks[ticker]; !ok {
		return ErrNotFound
	}
	delete(s.stocks, ticker)
	return nil
}

func matchesQuery(st *model.Stock, query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(st.Ticker), q) ||
		strings.Contains(strings.ToLower(st.Name), q)
}
