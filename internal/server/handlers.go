package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/tradedeck/internal/domain"
	"github.com/aristath/tradedeck/internal/metrics"
	"github.com/aristath/tradedeck/internal/remote"
)

func (s *Server) handleConnectionState(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.cfg.Connection.State())
}

func (s *Server) handleAccount(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.cfg.Account.Snapshot())
}

func (s *Server) handleAccountRefresh(w http.ResponseWriter, r *http.Request) {
	balance, err := s.cfg.Account.ForceRefresh(r.Context())
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, balance)
}

func (s *Server) handleWatchlist(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.cfg.Watchlist.Snapshot())
}

func (s *Server) handleWatchlistAdd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StockCode string `json:"stock_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.StockCode == "" {
		s.respondError(w, http.StatusBadRequest, "stock_code is required")
		return
	}
	if err := s.cfg.Watchlist.Add(r.Context(), body.StockCode); err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"stock_code": body.StockCode})
}

func (s *Server) handleWatchlistRemove(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if code == "" {
		s.respondError(w, http.StatusBadRequest, "stock code is required")
		return
	}
	if err := s.cfg.Watchlist.Remove(r.Context(), code); err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConditions(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.cfg.Conditions.Snapshot())
}

func (s *Server) handleConditionsUpdate(w http.ResponseWriter, r *http.Request) {
	var body domain.TradingConditions
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid trading conditions")
		return
	}
	s.cfg.Conditions.Update(func(cur *domain.TradingConditions) { *cur = body })
	s.respondJSON(w, http.StatusOK, s.cfg.Conditions.Snapshot())
}

func (s *Server) handleTradingStart(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Conditions.StartTrading(r.Context()); err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"is_active": true})
}

func (s *Server) handleTradingStop(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Conditions.StopTrading(r.Context()); err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"is_active": false})
}

func (s *Server) handleOrders(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.cfg.Orders.Snapshot())
}

func (s *Server) handleOrderBuy(w http.ResponseWriter, r *http.Request) {
	s.placeOrder(w, r, s.cfg.Orders.Buy)
}

func (s *Server) handleOrderSell(w http.ResponseWriter, r *http.Request) {
	s.placeOrder(w, r, s.cfg.Orders.Sell)
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request,
	place func(ctx context.Context, req domain.OrderRequest) (*domain.Order, error)) {

	var req domain.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid order request")
		return
	}
	if req.StockCode == "" || req.Quantity <= 0 {
		s.respondError(w, http.StatusBadRequest, "stock_code and a positive quantity are required")
		return
	}
	order, err := place(r.Context(), req)
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleOrderCancel(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		s.respondError(w, http.StatusBadRequest, "order id is required")
		return
	}
	if err := s.cfg.Orders.Cancel(r.Context(), orderID); err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// refreshHandler pulls a fresh snapshot synchronously and then serves it.
func (s *Server) refreshHandler(refresh func(), serve http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refresh()
		serve(w, r)
	}
}

func (s *Server) handleMarket(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.cfg.Market.Snapshot())
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	snap := s.cfg.Account.Snapshot()
	s.respondJSON(w, http.StatusOK, metrics.Calculate(snap.Data))
}

// handleSystemStatus reports process and host health alongside the
// connection state.
func (s *Server) handleSystemStatus(w http.ResponseWriter, _ *http.Request) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memUsedPercent := 0.0
	if memStat, err := mem.VirtualMemory(); err == nil {
		memUsedPercent = memStat.UsedPercent
	} else {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
	}

	status := map[string]interface{}{
		"uptime_seconds":   int64(time.Since(s.startupTime).Seconds()),
		"cpu_percent":      cpuPercent[0],
		"mem_used_percent": memUsedPercent,
		"goroutines":       runtime.NumGoroutine(),
		"pid":              os.Getpid(),
		"connection":       s.cfg.Connection.State(),
	}
	s.respondJSON(w, http.StatusOK, status)
}

// respondUpstreamError maps trading-server failures onto this API: rejected
// requests pass the status through, transport failures become 502.
func (s *Server) respondUpstreamError(w http.ResponseWriter, err error) {
	var apiErr *remote.ApiError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		s.respondError(w, apiErr.StatusCode, msg)
		return
	}
	s.respondError(w, http.StatusBadGateway, err.Error())
}
