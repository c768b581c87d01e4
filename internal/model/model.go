// Package model defines the core domain types shared across the broker engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade actions recorded in the transaction log.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
)

// Account is a user's cash ledger. Created lazily with a fixed starting
// balance on first access, never deleted. The balance is mutated only by
// the trade engine and never goes negative.
type Account struct {
	UserID    string          `json:"user_id" db:"user_id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Position is a holding of one instrument in one account. At most one
// Position exists per (account, ticker) pair. A Position never persists
// with quantity 0: it is deleted the moment a sell empties it.
type Position struct {
	UserID   string          `json:"user_id" db:"user_id"`
	Ticker   string          `json:"ticker" db:"ticker"`
	Quantity int64           `json:"quantity" db:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price" db:"avg_price"` // weighted average buy price, commission excluded
}

// Transaction is an immutable record of an executed trade.
// Once created, these are never modified or deleted.
type Transaction struct {
	ID         string          `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Ticker     string          `json:"ticker" db:"ticker"`
	Action     string          `json:"action" db:"action"` // "BUY" or "SELL"
	Quantity   int64           `json:"quantity" db:"quantity"`
	Price      decimal.Decimal `json:"price" db:"price"`           // execution price, commission excluded
	Commission decimal.Decimal `json:"commission" db:"commission"` // fee charged against cash
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
}

// Stock is the instrument reference: metadata plus a cached price
// snapshot maintained by the periodic feed refresher. A price of 0 means
// no tradable price has been received yet.
type Stock struct {
	Ticker       string          `json:"ticker" db:"ticker"`
	Name         string          `json:"name" db:"name"`
	Price        decimal.Decimal `json:"price" db:"price"`
	LotSize      int64           `json:"lot_size" db:"lot_size"` // trade quantities must be exact multiples
	Sector       string          `json:"sector" db:"sector"`
	ListingLevel string          `json:"listing_level" db:"listing_level"`
	Type         string          `json:"type" db:"type"` // "COMMON" or "PREFERRED"
	BlueChip     bool            `json:"blue_chip" db:"blue_chip"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Quote is a point-in-time price snapshot for one instrument.
type Quote struct {
	Ticker  string          `json:"ticker"`
	Price   decimal.Decimal `json:"price"`
	LotSize int64           `json:"lot_size"`
}

// TradeMutation is the atomic state transition produced by one executed
// trade: a compare-and-swap balance update, a position upsert or delete,
// and a transaction append. Stores apply all of it or none of it.
type TradeMutation struct {
	UserID      string
	PrevBalance decimal.Decimal // expected balance; mismatch means a lost update
	NewBalance  decimal.Decimal
	Position    Position // post-trade position state
	DeletePos   bool     // true when the sell emptied the position
	Record      Transaction
}

// PositionView is one row of a portfolio summary: a position joined with
// the instrument's current price.
type PositionView struct {
	Ticker            string          `json:"ticker"`
	Name              string          `json:"name"`
	Quantity          int64           `json:"quantity"`
	LotSize           int64           `json:"lot_size"`
	CurrentPrice      decimal.Decimal `json:"current_price"`
	AvgPrice          decimal.Decimal `json:"average_buy_price"`
	MarketValue       decimal.Decimal `json:"market_value"`
	CostBasis         decimal.Decimal `json:"cost_basis"`
	ProfitLoss        decimal.Decimal `json:"profit_loss"`
	ProfitLossPercent decimal.Decimal `json:"profit_loss_percent"`
}

// PortfolioSummary aggregates all positions of an account with P&L.
type PortfolioSummary struct {
	UserID                 string          `json:"user_id"`
	Balance                decimal.Decimal `json:"balance"`
	TotalMarketValue       decimal.Decimal `json:"total_market_value"`
	TotalCostBasis         decimal.Decimal `json:"total_cost_basis"`
	NetWorth               decimal.Decimal `json:"net_worth"` // balance + Σ market value
	TotalProfitLoss        decimal.Decimal `json:"total_profit_loss"`
	TotalProfitLossPercent decimal.Decimal `json:"total_profit_loss_percent"`
	Positions              []PositionView  `json:"positions"`
}

// TransactionView is one row of the trade history as presented to the
// transport layer. Name falls back to a redacted label when the
// instrument was delisted after the trade.
type TransactionView struct {
	ID         string          `json:"id"`
	Action     string          `json:"action"`
	Ticker     string          `json:"ticker"`
	Name       string          `json:"name"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Total      decimal.Decimal `json:"total"` // price × quantity
	Commission decimal.Decimal `json:"commission"`
	Timestamp  time.Time       `json:"timestamp"`
}
