// Package store defines the persistence interface for the broker engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/moexsim/broker-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by ApplyTrade when the account balance no longer
// matches the mutation's expected balance, i.e. a concurrent trade won the
// race. Nothing is written in that case.
var ErrConflict = errors.New("stale account state")

// StockFilter narrows ListStocks results. Zero values mean "no filter".
type StockFilter struct {
	Query        string // ticker or name substring, case-insensitive
	Sector       string
	ListingLevel string
	StockType    string
	BlueChipOnly bool
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts ---

	// GetOrCreateAccount returns the account for userID, creating it with
	// the configured starting balance if it does not exist yet.
	GetOrCreateAccount(ctx context.Context, userID string) (*model.Account, error)

	// --- Positions ---

	// GetPosition returns the position for (userID, ticker) or ErrNotFound.
	GetPosition(ctx context.Context, userID, ticker string) (*model.Position, error)

	// ListPositions returns all positions of an account.
	ListPositions(ctx context.Context, userID string) ([]model.Position, error)

	// --- Trade commit ---

	// ApplyTrade atomically commits one executed trade: the balance update
	// (guarded by PrevBalance, ErrConflict on mismatch), the position
	// upsert or delete, and the transaction append. All or nothing.
	ApplyTrade(ctx context.Context, m *model.TradeMutation) error

	// --- Immutable transaction log ---

	// ListTransactions returns up to limit transactions of an account,
	// newest first.
	ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)

	// --- Instrument reference ---

	// GetStock returns the stock for a ticker or ErrNotFound.
	GetStock(ctx context.Context, ticker string) (*model.Stock, error)

	// ListStocks returns stocks matching the filter, ordered by ticker.
	// Stocks without a tradable price (≤ 0) are excluded.
	ListStocks(ctx context.Context, f StockFilter) ([]model.Stock, error)

	// SearchStocks returns up to limit stocks whose ticker or name
	// contains the query, ordered by ticker.
	SearchStocks(ctx context.Context, query string, limit int) ([]model.Stock, error)

	// ListTickers returns every tracked ticker, tradable or not.
	ListTickers(ctx context.Context) ([]string, error)

	// UpsertStock creates or replaces a stock's metadata.
	UpsertStock(ctx context.Context, s *model.Stock) error

	// UpdateQuotes bulk-applies price/lot snapshots from the feed and
	// returns the number of stocks updated. Unknown tickers are skipped.
	UpdateQuotes(ctx context.Context, quotes []model.Quote) (int, error)

	// DeleteStock delists an instrument. Transaction records referencing
	// it are kept; views render them with a redacted label.
	DeleteStock(ctx context.Context, ticker string) error
}
