package trade

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/moexsim/broker-engine/internal/market"
)

// Service adapts the engine to HTTP. Business rejections map to 4xx with
// a structured error body; storage failures surface as a generic 500
// without leaking internals.
type Service struct {
	engine *Engine
	wsHub  *WSHub // optional hub for trade broadcasts
}

// NewService creates the trade/portfolio HTTP service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(engine *Engine, hub *WSHub) *Service {
	return &Service{engine: engine, wsHub: hub}
}

// TradeRequest is the JSON body for POST /trade/buy and /trade/sell.
type TradeRequest struct {
	UserID   string `json:"user_id"`
	Ticker   string `json:"ticker"`
	Quantity int64  `json:"quantity"`
}

// Buy handles POST /api/v1/trade/buy
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	s.trade(w, r, s.engine.Buy)
}

// Sell handles POST /api/v1/trade/sell
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	s.trade(w, r, s.engine.Sell)
}

func (s *Service) trade(w http.ResponseWriter, r *http.Request,
	exec func(ctx context.Context, userID, ticker string, quantity int64) (*TradeResult, error)) {

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Quantity <= 0 {
		writeError(w, "quantity must be a positive integer", http.StatusBadRequest)
		return
	}
	ticker, err := market.NormalizeTicker(req.Ticker)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := exec(r.Context(), req.UserID, ticker, req.Quantity)
	if err != nil {
		s.writeTradeError(w, req.UserID, err)
		return
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastTrade(result)
	}

	writeJSON(w, http.StatusOK, result)
}

// writeTradeError maps engine failures to HTTP statuses: unknown
// instruments are 404, business-rule rejections are 409, anything else
// is an internal error.
func (s *Service) writeTradeError(w http.ResponseWriter, userID string, err error) {
	switch {
	case errors.Is(err, ErrInstrumentNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case IsBusinessError(err):
		slog.Warn("trade rejected", "user", userID, "reason", err.Error())
		writeError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("trade failed", "user", userID, "err", err)
		writeError(w, "trade could not be processed", http.StatusInternalServerError)
	}
}

// Summary handles GET /api/v1/portfolio/{userID}/summary
func (s *Service) Summary(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	summary, err := s.engine.Summarize(r.Context(), userID)
	if err != nil {
		slog.Error("portfolio summary failed", "user", userID, "err", err)
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// History handles GET /api/v1/portfolio/{userID}/history?limit=50
func (s *Service) History(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	history, err := s.engine.History(r.Context(), userID, limit)
	if err != nil {
		slog.Error("history failed", "user", userID, "err", err)
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, history)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
