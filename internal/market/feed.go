package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moexsim/broker-engine/internal/model"
)

// Security is instrument metadata published by the exchange.
type Security struct {
	Ticker  string
	Name    string
	LotSize int64
}

// Feed supplies instrument metadata and price snapshots from an external
// market-data source.
type Feed interface {
	// Securities returns the listed instruments of the tracked board.
	Securities(ctx context.Context) ([]Security, error)

	// Quotes returns last-trade price snapshots. Instruments without a
	// trade yet carry a zero price.
	Quotes(ctx context.Context) ([]model.Quote, error)
}

// ISSClient fetches securities and market data from the MOEX ISS API
// (board TQBR of the stock/shares market).
type ISSClient struct {
	baseURL string
	board   string
	client  *http.Client
}

// NewISSClient creates a MOEX ISS feed client. baseURL is typically
// https://iss.moex.com.
func NewISSClient(baseURL string) *ISSClient {
	return &ISSClient{
		baseURL: baseURL,
		board:   "TQBR",
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// issTable is the generic ISS block: a column header plus data rows.
type issTable struct {
	Columns []string `json:"columns"`
	Data    [][]any  `json:"data"`
}

func (t *issTable) index(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

type issDocument struct {
	Securities issTable `json:"securities"`
	Marketdata issTable `json:"marketdata"`
}

func (c *ISSClient) fetch(ctx context.Context) (*issDocument, error) {
	url := fmt.Sprintf(
		"%s/iss/engines/stock/markets/shares/boards/%s/securities.json"+
			"?iss.meta=off&iss.only=securities,marketdata"+
			"&securities.columns=SECID,SHORTNAME,LOTSIZE&marketdata.columns=SECID,LAST",
		c.baseURL, c.board)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ISS board %s: %w", c.board, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch ISS board %s: unexpected status %d", c.board, resp.StatusCode)
	}

	var doc issDocument
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber() // keep prices exact for decimal conversion
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode ISS response: %w", err)
	}
	return &doc, nil
}

func (c *ISSClient) Securities(ctx context.Context) ([]Security, error) {
	doc, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}

	t := doc.Securities
	secID, shortName, lotSize := t.index("SECID"), t.index("SHORTNAME"), t.index("LOTSIZE")
	if secID < 0 {
		return nil, fmt.Errorf("ISS securities block missing SECID column")
	}

	var securities []Security
	for _, row := range t.Data {
		s := Security{
			Ticker:  cellString(row, secID),
			Name:    cellString(row, shortName),
			LotSize: cellInt(row, lotSize),
		}
		if s.Ticker == "" {
			continue
		}
		if s.LotSize <= 0 {
			s.LotSize = 1
		}
		securities = append(securities, s)
	}
	return securities, nil
}

func (c *ISSClient) Quotes(ctx context.Context) ([]model.Quote, error) {
	doc, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}

	md := doc.Marketdata
	mdID, last := md.index("SECID"), md.index("LAST")
	if mdID < 0 {
		return nil, fmt.Errorf("ISS marketdata block missing SECID column")
	}

	// Lot sizes live in the securities block, keyed by ticker.
	sec := doc.Securities
	secID, lotSize := sec.index("SECID"), sec.index("LOTSIZE")
	lots := make(map[string]int64, len(sec.Data))
	for _, row := range sec.Data {
		if ticker := cellString(row, secID); ticker != "" {
			lots[ticker] = cellInt(row, lotSize)
		}
	}

	var quotes []model.Quote
	for _, row := range md.Data {
		ticker := cellString(row, mdID)
		if ticker == "" {
			continue
		}
		quotes = append(quotes, model.Quote{
			Ticker:  ticker,
			Price:   cellDecimal(row, last),
			LotSize: lots[ticker],
		})
	}
	return quotes, nil
}

// --- ISS cell accessors (cells may be string, number, or null) ---

func cellString(row []any, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	s, _ := row[i].(string)
	return s
}

func cellInt(row []any, i int) int64 {
	if i < 0 || i >= len(row) {
		return 0
	}
	n, ok := row[i].(json.Number)
	if !ok {
		return 0
	}
	v, err := n.Int64()
	if err != nil {
		return 0
	}
	return v
}

func cellDecimal(row []any, i int) decimal.Decimal {
	if i < 0 || i >= len(row) {
		return decimal.Zero
	}
	n, ok := row[i].(json.Number)
	if !ok {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}
