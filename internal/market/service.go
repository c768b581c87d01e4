package market

import (
	"encoding/json"
	"net/http"

	"github.com/moexsim/broker-engine/internal/model"
	"github.com/moexsim/broker-engine/internal/store"
)

// Service exposes the stock catalog over HTTP: full listing with filters
// and a lightweight ticker/name search.
type Service struct {
	store store.Store
}

// NewService creates a catalog service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// stockSearchResult is the trimmed payload returned by search.
type stockSearchResult struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
}

// ListStocks handles GET /api/v1/market/stocks
// Optional query parameters: q, sector, listing_level, stock_type,
// blue_chip=true. Stocks without a tradable price are never listed.
func (s *Service) ListStocks(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	filter := store.StockFilter{
		Query:        params.Get("q"),
		BlueChipOnly: params.Get("blue_chip") == "true",
	}
	if v := params.Get("sector"); v != "" && v != "ALL" {
		filter.Sector = v
	}
	if v := params.Get("listing_level"); v != "" && v != "ALL" {
		filter.ListingLevel = v
	}
	if v := params.Get("stock_type"); v != "" && v != "ALL" {
		filter.StockType = v
	}

	stocks, err := s.store.ListStocks(r.Context(), filter)
	if err != nil {
		writeError(w, "failed to list stocks", http.StatusInternalServerError)
		return
	}
	if stocks == nil {
		stocks = []model.Stock{}
	}

	writeJSON(w, http.StatusOK, stocks)
}

// SearchStocks handles GET /api/v1/market/search?q=SBER
// Returns at most 10 {ticker, name} pairs.
func (s *Service) SearchStocks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusOK, []stockSearchResult{})
		return
	}

	stocks, err := s.store.SearchStocks(r.Context(), query, 10)
	if err != nil {
		writeError(w, "failed to search stocks", http.StatusInternalServerError)
		return
	}

	results := make([]stockSearchResult, 0, len(stocks))
	for _, st := range stocks {
		results = append(results, stockSearchResult{Ticker: st.Ticker, Name: st.Name})
	}
	writeJSON(w, http.StatusOK, results)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
