package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/moexsim/broker-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Trade commits run in a single transaction with the account row locked.
type PostgresStore struct {
	pool            *pgxpool.Pool
	startingBalance decimal.Decimal
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool, startingBalance decimal.Decimal) *PostgresStore {
	return &PostgresStore{pool: pool, startingBalance: startingBalance}
}

// Migrate creates the schema if it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			user_id    TEXT PRIMARY KEY,
			balance    NUMERIC(14,2) NOT NULL CHECK (balance >= 0),
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS positions (
			user_id   TEXT NOT NULL REFERENCES accounts(user_id),
			ticker    TEXT NOT NULL,
			quantity  BIGINT NOT NULL CHECK (quantity > 0),
			avg_price NUMERIC(14,2) NOT NULL,
			PRIMARY KEY (user_id, ticker)
		);
		CREATE TABLE IF NOT EXISTS transactions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES accounts(user_id),
			ticker     TEXT NOT NULL,
			action     TEXT NOT NULL CHECK (action IN ('BUY', 'SELL')),
			quantity   BIGINT NOT NULL,
			price      NUMERIC(14,2) NOT NULL,
			commission NUMERIC(14,2) NOT NULL,
			timestamp  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS transactions_user_ts_idx
			ON transactions (user_id, timestamp DESC);
		CREATE TABLE IF NOT EXISTS stocks (
			ticker        TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			price         NUMERIC(14,2) NOT NULL DEFAULT 0,
			lot_size      BIGINT NOT NULL DEFAULT 1,
			sector        TEXT NOT NULL DEFAULT 'OTHR',
			listing_level TEXT NOT NULL DEFAULT '3',
			type          TEXT NOT NULL DEFAULT 'COMMON',
			blue_chip     BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at    TIMESTAMPTZ NOT NULL
		)`)
	return err
}

func (s *PostgresStore) GetOrCreateAccount(ctx context.Context, userID string) (*model.Account, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, balance, created_at)
		 VALUES ($1, $2::NUMERIC, NOW())
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, s.startingBalance.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("create account %s: %w", userID, err)
	}

	var a model.Account
	var balance string
	err = s.pool.QueryRow(ctx,
		`SELECT user_id, balance::TEXT, created_at FROM accounts WHERE user_id = $1`, userID).
		Scan(&a.UserID, &balance, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}
	a.Balance, _ = decimal.NewFromString(balance)
	return &a, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, ticker string) (*model.Position, error) {
	var p model.Position
	var avgPrice string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, ticker, quantity, avg_price::TEXT
		 FROM positions WHERE user_id = $1 AND ticker = $2`, userID, ticker).
		Scan(&p.UserID, &p.Ticker, &p.Quantity, &avgPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", userID, ticker, err)
	}
	p.AvgPrice, _ = decimal.NewFromString(avgPrice)
	return &p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, ticker, quantity, avg_price::TEXT
		 FROM positions WHERE user_id = $1 ORDER BY ticker`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var avgPrice string
		if err := rows.Scan(&p.UserID, &p.Ticker, &p.Quantity, &avgPrice); err != nil {
			return nil, err
		}
		p.AvgPrice, _ = decimal.NewFromString(avgPrice)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ApplyTrade commits the whole mutation in one transaction. The account
// row is locked for the duration, and the expected-balance guard turns a
// lost update into ErrConflict instead of a silent overwrite.
func (s *PostgresStore) ApplyTrade(ctx context.Context, m *model.TradeMutation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin trade tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var balanceS string
	err = tx.QueryRow(ctx,
		`SELECT balance::TEXT FROM accounts WHERE user_id = $1 FOR UPDATE`, m.UserID).
		Scan(&balanceS)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock account %s: %w", m.UserID, err)
	}
	balance, _ := decimal.NewFromString(balanceS)
	if !balance.Equal(m.PrevBalance) {
		return ErrConflict
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $2::NUMERIC WHERE user_id = $1`,
		m.UserID, m.NewBalance.String()); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	if m.DeletePos {
		if _, err := tx.Exec(ctx,
			`DELETE FROM positions WHERE user_id = $1 AND ticker = $2`,
			m.UserID, m.Position.Ticker); err != nil {
			return fmt.Errorf("delete position: %w", err)
		}
	} else {
		if _, err := tx.Exec(ctx,
			`INSERT INTO positions (user_id, ticker, quantity, avg_price)
			 VALUES ($1, $2, $3, $4::NUMERIC)
			 ON CONFLICT (user_id, ticker)
			 DO UPDATE SET quantity = EXCLUDED.quantity, avg_price = EXCLUDED.avg_price`,
			m.Position.UserID, m.Position.Ticker, m.Position.Quantity,
			m.Position.AvgPrice.String()); err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}
	}

	r := m.Record
	if _, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, ticker, action, quantity, price, commission, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
		r.ID, r.UserID, r.Ticker, r.Action, r.Quantity,
		r.Price.String(), r.Commission.String(), r.Timestamp); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	q := `SELECT id, user_id, ticker, action, quantity, price::TEXT, commission::TEXT, timestamp
	      FROM transactions WHERE user_id = $1 ORDER BY timestamp DESC, id`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var priceS, commissionS string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Ticker, &t.Action, &t.Quantity,
			&priceS, &commissionS, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(priceS)
		t.Commission, _ = decimal.NewFromString(commissionS)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (s *PostgresStore) GetStock(ctx context.Context, ticker string) (*model.Stock, error) {
	st, err := scanStock(s.pool.QueryRow(ctx, stockColumns+` FROM stocks WHERE ticker = $1`, ticker))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stock %s: %w", ticker, err)
	}
	return st, nil
}

func (s *PostgresStore) ListStocks(ctx context.Context, f StockFilter) ([]model.Stock, error) {
	q := stockColumns + ` FROM stocks WHERE price > 0`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.Query != "" {
		p := arg("%" + f.Query + "%")
		q += ` AND (ticker ILIKE ` + p + ` OR name ILIKE ` + p + `)`
	}
	if f.Sector != "" {
		q += ` AND sector = ` + arg(f.Sector)
	}
	if f.ListingLevel != "" {
		q += ` AND listing_level = ` + arg(f.ListingLevel)
	}
	if f.StockType != "" {
		q += ` AND type = ` + arg(f.StockType)
	}
	if f.BlueChipOnly {
		q += ` AND blue_chip`
	}
	q += ` ORDER BY ticker`

	return s.queryStocks(ctx, q, args...)
}

func (s *PostgresStore) SearchStocks(ctx context.Context, query string, limit int) ([]model.Stock, error) {
	return s.queryStocks(ctx,
		stockColumns+` FROM stocks
		 WHERE ticker ILIKE $1 OR name ILIKE $1
		 ORDER BY ticker LIMIT $2`,
		"%"+query+"%", limit)
}

func (s *PostgresStore) ListTickers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT ticker FROM stocks ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

func (s *PostgresStore) UpsertStock(ctx context.Context, st *model.Stock) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stocks (ticker, name, price, lot_size, sector, listing_level, type, blue_chip, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6, $7, $8, NOW())
		 ON CONFLICT (ticker) DO UPDATE SET
			name = EXCLUDED.name, price = EXCLUDED.price, lot_size = EXCLUDED.lot_size,
			sector = EXCLUDED.sector, listing_level = EXCLUDED.listing_level,
			type = EXCLUDED.type, blue_chip = EXCLUDED.blue_chip, updated_at = NOW()`,
		st.Ticker, st.Name, st.Price.String(), st.LotSize,
		st.Sector, st.ListingLevel, st.Type, st.BlueChip,
	)
	return err
}

func (s *PostgresStore) UpdateQuotes(ctx context.Context, quotes []model.Quote) (int, error) {
	updated := 0
	for _, q := range quotes {
		tag, err := s.pool.Exec(ctx,
			`UPDATE stocks
			 SET price = $2::NUMERIC,
			     lot_size = CASE WHEN $3 > 0 THEN $3 ELSE lot_size END,
			     updated_at = NOW()
			 WHERE ticker = $1`,
			q.Ticker, q.Price.String(), q.LotSize,
		)
		if err != nil {
			return updated, fmt.Errorf("update quote %s: %w", q.Ticker, err)
		}
		updated += int(tag.RowsAffected())
	}
	return updated, nil
}

func (s *PostgresStore) DeleteStock(ctx context.Context, ticker string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM stocks WHERE ticker = $1`, ticker)
	if err != nil {
		return fmt.Errorf("delete stock %s: %w", ticker, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const stockColumns = `SELECT ticker, name, price::TEXT, lot_size, sector, listing_level, type, blue_chip, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStock(row rowScanner) (*model.Stock, error) {
	var st model.Stock
	var priceS string
	if err := row.Scan(&st.Ticker, &st.Name, &priceS, &st.LotSize,
		&st.Sector, &st.ListingLevel, &st.Type, &st.BlueChip, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.Price, _ = decimal.NewFromString(priceS)
	return &st, nil
}

func (s *PostgresStore) queryStocks(ctx context.Context, q string, args ...any) ([]model.Stock, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stocks []model.Stock
	for rows.Next() {
		st, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		stocks = append(stocks, *st)
	}
	return stocks, rows.Err()
}
