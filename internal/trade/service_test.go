package trade_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/moexsim/broker-engine/internal/market"
	"github.com/moexsim/broker-engine/internal/model"
	"github.com/moexsim/broker-engine/internal/store"
	"github.com/moexsim/broker-engine/internal/trade"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()

	ms := store.NewMemoryStore(decimal.RequireFromString("100000.00"))
	seedStock(t, ms, "SBER", "Sberbank", "250.00", 10)

	engine := trade.NewEngine(ms, market.NewStoreQuoter(ms), decimal.RequireFromString("0.001"))
	svc := trade.NewService(engine, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/trade/buy", svc.Buy)
	r.Post("/api/v1/trade/sell", svc.Sell)
	r.Get("/api/v1/portfolio/{userID}/summary", svc.Summary)
	r.Get("/api/v1/portfolio/{userID}/history", svc.History)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, ms
}

func doTrade(t *testing.T, srv *httptest.Server, path string, req trade.TradeRequest) *http.Response {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHTTP_BuyHappyPath(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doTrade(t, srv, "/api/v1/trade/buy", trade.TradeRequest{
		UserID: "user1", Ticker: "SBER", Quantity: 20,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	result := decodeBody[trade.TradeResult](t, resp)
	if result.Action != model.ActionBuy || result.Ticker != "SBER" || result.Quantity != 20 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !result.Total.Equal(decimal.RequireFromString("5005.00")) {
		t.Errorf("Total = %s, want 5005.00", result.Total)
	}
	if !result.Balance.Equal(decimal.RequireFromString("94995.00")) {
		t.Errorf("Balance = %s, want 94995.00", result.Balance)
	}
	if result.TradeID == "" {
		t.Error("TradeID is empty")
	}
}

func TestHTTP_TickerIsNormalized(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doTrade(t, srv, "/api/v1/trade/buy", trade.TradeRequest{
		UserID: "user1", Ticker: "  sber ", Quantity: 10,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	result := decodeBody[trade.TradeResult](t, resp)
	if result.Ticker != "SBER" {
		t.Errorf("Ticker = %q, want SBER", result.Ticker)
	}
}

func TestHTTP_ValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name string
		req  trade.TradeRequest
	}{
		{"missing user", trade.TradeRequest{Ticker: "SBER", Quantity: 10}},
		{"zero quantity", trade.TradeRequest{UserID: "user1", Ticker: "SBER", Quantity: 0}},
		{"negative quantity", trade.TradeRequest{UserID: "user1", Ticker: "SBER", Quantity: -10}},
		{"bad ticker", trade.TradeRequest{UserID: "user1", Ticker: "sb er!", Quantity: 10}},
		{"empty ticker", trade.TradeRequest{UserID: "user1", Quantity: 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doTrade(t, srv, "/api/v1/trade/buy", tc.req)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestHTTP_MalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/trade/buy", "application/json",
		bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHTTP_UnknownInstrumentIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doTrade(t, srv, "/api/v1/trade/buy", trade.TradeRequest{
		UserID: "user1", Ticker: "NOPE", Quantity: 1,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHTTP_BusinessRejectionsAre409(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name string
		path string
		req  trade.TradeRequest
	}{
		{"lot size", "/api/v1/trade/buy", trade.TradeRequest{UserID: "user1", Ticker: "SBER", Quantity: 15}},
		{"insufficient funds", "/api/v1/trade/buy", trade.TradeRequest{UserID: "user1", Ticker: "SBER", Quantity: 1000}},
		{"no position", "/api/v1/trade/sell", trade.TradeRequest{UserID: "user1", Ticker: "SBER", Quantity: 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doTrade(t, srv, tc.path, tc.req)
			if resp.StatusCode != http.StatusConflict {
				t.Errorf("status = %d, want 409", resp.StatusCode)
			}
			body := decodeBody[map[string]string](t, resp)
			if body["error"] == "" {
				t.Error("error body missing message")
			}
		})
	}
}

func TestHTTP_SummaryReflectsTrades(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doTrade(t, srv, "/api/v1/trade/buy", trade.TradeRequest{
		UserID: "user1", Ticker: "SBER", Quantity: 20,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("buy status = %d", resp.StatusCode)
	}

	sresp, err := http.Get(srv.URL + "/api/v1/portfolio/user1/summary")
	if err != nil {
		t.Fatalf("GET summary: %v", err)
	}
	defer sresp.Body.Close()
	if sresp.StatusCode != http.StatusOK {
		t.Fatalf("summary status = %d, want 200", sresp.StatusCode)
	}

	summary := decodeBody[model.PortfolioSummary](t, sresp)
	if len(summary.Positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(summary.Positions))
	}
	if summary.Positions[0].Ticker != "SBER" || summary.Positions[0].Quantity != 20 {
		t.Errorf("unexpected position: %+v", summary.Positions[0])
	}
	if !summary.Balance.Equal(decimal.RequireFromString("94995.00")) {
		t.Errorf("Balance = %s, want 94995.00", summary.Balance)
	}
}

func TestHTTP_SummaryCreatesFreshAccount(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/portfolio/newuser/summary")
	if err != nil {
		t.Fatalf("GET summary: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	summary := decodeBody[model.PortfolioSummary](t, resp)
	if !summary.Balance.Equal(decimal.RequireFromString("100000.00")) {
		t.Errorf("Balance = %s, want 100000.00", summary.Balance)
	}
	if len(summary.Positions) != 0 {
		t.Errorf("positions = %d, want 0", len(summary.Positions))
	}
}

func TestHTTP_HistoryLimitValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, limit := range []string{"0", "-1", "abc"} {
		resp, err := http.Get(fmt.Sprintf("%s/api/v1/portfolio/user1/history?limit=%s", srv.URL, limit))
		if err != nil {
			t.Fatalf("GET history: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", limit, resp.StatusCode)
		}
	}
}

func TestHTTP_HistoryReturnsTrades(t *testing.T) {
	srv, _ := newTestServer(t)

	doTrade(t, srv, "/api/v1/trade/buy", trade.TradeRequest{UserID: "user1", Ticker: "SBER", Quantity: 10})
	doTrade(t, srv, "/api/v1/trade/sell", trade.TradeRequest{UserID: "user1", Ticker: "SBER", Quantity: 10})

	resp, err := http.Get(srv.URL + "/api/v1/portfolio/user1/history")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	history := decodeBody[[]model.TransactionView](t, resp)
	if len(history) != 2 {
		t.Fatalf("history entries = %d, want 2", len(history))
	}
	if history[0].Action != model.ActionSell {
		t.Errorf("newest entry action = %s, want SELL", history[0].Action)
	}
	if history[0].Name != "Sberbank" {
		t.Errorf("Name = %q, want Sberbank", history[0].Name)
	}
}
