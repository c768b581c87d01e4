package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/moexsim/broker-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: stock quotes and account positions.
// Writes go to the primary store and invalidate the affected keys.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetStock(ctx context.Context, ticker string) (*model.Stock, error) {
	data, err := s.rdb.Get(ctx, stockKey(ticker)).Bytes()
	if err == nil {
		var st model.Stock
		if json.Unmarshal(data, &st) == nil {
			return &st, nil
		}
	}

	st, err := s.primary.GetStock(ctx, ticker)
	if err != nil {
		return nil, err
	}

	s.cacheStock(ctx, st)
	return st, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

// --- Writes (primary first, then invalidate) ---

func (s *CachedStore) ApplyTrade(ctx context.Context, m *model.TradeMutation) error {
	if err := s.primary.ApplyTrade(ctx, m); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(m.UserID))
	return nil
}

func (s *CachedStore) UpsertStock(ctx context.Context, st *model.Stock) error {
	if err := s.primary.UpsertStock(ctx, st); err != nil {
		return err
	}
	s.rdb.Del(ctx, stockKey(st.Ticker))
	return nil
}

func (s *CachedStore) UpdateQuotes(ctx context.Context, quotes []model.Quote) (int, error) {
	n, err := s.primary.UpdateQuotes(ctx, quotes)
	if err != nil {
		return n, err
	}
	keys := make([]string, 0, len(quotes))
	for _, q := range quotes {
		keys = append(keys, stockKey(q.Ticker))
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return n, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetOrCreateAccount(ctx context.Context, userID string) (*model.Account, error) {
	return s.primary.GetOrCreateAccount(ctx, userID)
}

func (s *CachedStore) GetPosition(ctx context.Context, userID, ticker string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, userID, ticker)
}

func (s *CachedStore) ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, userID, limit)
}

func (s *CachedStore) ListStocks(ctx context.Context, f StockFilter) ([]model.Stock, error) {
	return s.primary.ListStocks(ctx, f)
}

func (s *CachedStore) SearchStocks(ctx context.Context, query string, limit int) ([]model.Stock, error) {
	return s.primary.SearchStocks(ctx, query, limit)
}

func (s *CachedStore) ListTickers(ctx context.Context) ([]string, error) {
	return s.primary.ListTickers(ctx)
}

func (s *CachedStore) DeleteStock(ctx context.Context, ticker string) error {
	if err := s.primary.DeleteStock(ctx, ticker); err != nil {
		return err
	}
	s.rdb.Del(ctx, stockKey(ticker))
	return nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheStock(ctx context.Context, st *model.Stock) {
	if data, err := json.Marshal(st); err == nil {
		s.rdb.Set(ctx, stockKey(st.Ticker), data, s.ttl)
	}
}

func stockKey(ticker string) string  { return fmt.Sprintf("stock:%s", ticker) }
func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }
