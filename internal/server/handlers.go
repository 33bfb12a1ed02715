package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"PortfolioLedger/internal/config"
	"PortfolioLedger/internal/engine"
	"PortfolioLedger/internal/ingestion"
	"PortfolioLedger/internal/journal"
	"PortfolioLedger/internal/position"
	"PortfolioLedger/internal/snapshot"

	"github.com/go-chi/chi/v5"
)

// --- assets ---

type addAssetRequest struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	AvgCost      float64 `json:"avg_cost"`
	CurrentPrice float64 `json:"current_price"`
	Exchange     string  `json:"exchange,omitempty"`
}

func (s *Server) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Assets())
}

func (s *Server) handleAddAsset(w http.ResponseWriter, r *http.Request) {
	var req addAssetRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	if err := s.engine.AddAsset(req.Symbol, req.Quantity, req.AvgCost, req.CurrentPrice, req.Exchange); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, s.engine.Assets())
}

func (s *Server) handleRemoveAsset(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if !s.engine.RemoveAsset(symbol) {
		http.Error(w, "asset not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

// handleUpdatePrices accepts the same tick shapes as the NATS feed.
func (s *Server) handleUpdatePrices(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	tick, err := ingestion.ParsePriceTick(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	updated := s.engine.UpdatePrices(tick.Prices)
	s.writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

// --- positions ---

type openPositionRequest struct {
	Symbol           string   `json:"symbol"`
	Side             string   `json:"side"`
	EntryPrice       float64  `json:"entry_price"`
	Quantity         float64  `json:"quantity"`
	Leverage         float64  `json:"leverage"`
	Margin           float64  `json:"margin"`
	Exchange         string   `json:"exchange,omitempty"`
	StopLoss         *float64 `json:"stop_loss,omitempty"`
	TakeProfit       *float64 `json:"take_profit,omitempty"`
	LiquidationPrice *float64 `json:"liquidation_price,omitempty"`
}

type updateLevelsRequest struct {
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
}

type closePositionRequest struct {
	ClosePrice float64 `json:"close_price"`
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Positions())
}

func (s *Server) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	var req openPositionRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	p, err := s.engine.OpenPosition(position.OpenRequest{
		Symbol:           req.Symbol,
		Side:             position.Side(req.Side),
		EntryPrice:       req.EntryPrice,
		Quantity:         req.Quantity,
		Leverage:         req.Leverage,
		Margin:           req.Margin,
		Exchange:         req.Exchange,
		StopLoss:         req.StopLoss,
		TakeProfit:       req.TakeProfit,
		LiquidationPrice: req.LiquidationPrice,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleUpdateLevels(w http.ResponseWriter, r *http.Request) {
	var req updateLevelsRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	p, err := s.engine.UpdatePositionLevels(chi.URLParam(r, "id"), req.StopLoss, req.TakeProfit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closePositionRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	rec, err := s.engine.ClosePosition(chi.URLParam(r, "id"), req.ClosePrice)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// --- trades & cash ---

type recordTradeRequest struct {
	Symbol   string   `json:"symbol"`
	Side     string   `json:"side"`
	Price    float64  `json:"price"`
	Quantity float64  `json:"quantity"`
	Fee      float64  `json:"fee,omitempty"`
	Exchange string   `json:"exchange,omitempty"`
	Notes    string   `json:"notes,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

type cashRequest struct {
	Amount float64 `json:"amount"`
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	f := journal.Filter{Symbol: r.URL.Query().Get("symbol")}

	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid start time", http.StatusBadRequest)
			return
		}
		f.Start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid end time", http.StatusBadRequest)
			return
		}
		f.End = t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}

	s.writeJSON(w, http.StatusOK, s.engine.TradeHistory(f))
}

func (s *Server) handleRecordTrade(w http.ResponseWriter, r *http.Request) {
	var req recordTradeRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	rec, err := s.engine.RecordTrade(engine.RecordTradeRequest{
		Symbol:   req.Symbol,
		Side:     journal.TradeSide(req.Side),
		Price:    req.Price,
		Quantity: req.Quantity,
		Fee:      req.Fee,
		Exchange: req.Exchange,
		Notes:    req.Notes,
		Tags:     req.Tags,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetCash(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]float64{"cash_balance": s.engine.CashBalance()})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req cashRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	rec, err := s.engine.Deposit(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req cashRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	rec, err := s.engine.Withdraw(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

// --- snapshots & risk ---

func (s *Server) handleValueHistory(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid days", http.StatusBadRequest)
			return
		}
		days = n
	}
	s.writeJSON(w, http.StatusOK, s.engine.ValueHistory(days))
}

func (s *Server) handleTakeSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.TakeSnapshot()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleRiskMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.CalculateMetrics())
}

// --- config, export, import ---

type updateConfigRequest struct {
	BaseCurrency       *string            `json:"base_currency,omitempty"`
	TrackingMode       *string            `json:"tracking_mode,omitempty"`
	RiskFreeRate       *float64           `json:"risk_free_rate,omitempty"`
	BenchmarkSymbol    *string            `json:"benchmark_symbol,omitempty"`
	RebalanceThreshold *float64           `json:"rebalance_threshold,omitempty"`
	TargetAllocations  map[string]float64 `json:"target_allocations,omitempty"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Config())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	u := config.Update{
		BaseCurrency:       req.BaseCurrency,
		RiskFreeRate:       req.RiskFreeRate,
		BenchmarkSymbol:    req.BenchmarkSymbol,
		RebalanceThreshold: req.RebalanceThreshold,
		TargetAllocations:  req.TargetAllocations,
	}
	if req.TrackingMode != nil {
		mode := config.TrackingMode(*req.TrackingMode)
		u.TrackingMode = &mode
	}

	cfg, err := s.engine.UpdateConfig(u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	raw, err := s.engine.ExportData()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(raw))
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 16<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if err := s.engine.ImportData(string(body)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"imported": true})
}

// --- helpers ---

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response failed")
	}
}

// writeError maps domain errors to HTTP statuses: not-found to 404,
// everything else (validation, insufficient funds) to 400.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, position.ErrNotFound) {
		status = http.StatusNotFound
	}
	if errors.Is(err, snapshot.ErrOutOfOrder) {
		status = http.StatusConflict
	}

	s.log.Debug().Err(err).Str("path", r.URL.Path).Msg("request rejected")
	http.Error(w, err.Error(), status)
}
