// Package server exposes the synchronized snapshots to dashboard consumers
// over HTTP and streams change notifications over SSE.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/tradedeck/internal/connection"
	"github.com/aristath/tradedeck/internal/domain"
	"github.com/aristath/tradedeck/internal/store"
)

// Config holds the server dependencies.
type Config struct {
	Log     zerolog.Logger
	Port    int
	DevMode bool

	Connection *connection.Manager
	Account    *store.Account
	Watchlist  *store.Watchlist
	Conditions *store.Conditions
	Orders     *store.Orders
	Market     *store.Market
}

// Server is the consumer-facing HTTP surface.
type Server struct {
	router      *chi.Mux
	server      *http.Server
	log         zerolog.Logger
	cfg         Config
	stream      *StreamHub
	startupTime time.Time
}

// New builds the server and wires the stores' change hooks into the SSE hub.
// Call before starting the stores so no change notification is missed.
func New(cfg Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		cfg:         cfg,
		stream:      NewStreamHub(cfg.Log),
		startupTime: time.Now(),
	}

	s.wireStreamSources()
	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections stay open
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	s.stream.Close()
	return s.server.Shutdown(ctx)
}

func (s *Server) wireStreamSources() {
	if s.cfg.Account != nil {
		s.cfg.Account.SetOnChange(func(string) {
			s.stream.Publish("account", s.cfg.Account.Snapshot())
		})
	}
	if s.cfg.Watchlist != nil {
		s.cfg.Watchlist.SetOnChange(func(string) {
			s.stream.Publish("watchlist", s.cfg.Watchlist.Snapshot())
		})
	}
	if s.cfg.Conditions != nil {
		s.cfg.Conditions.SetOnChange(func(string) {
			s.stream.Publish("conditions", s.cfg.Conditions.Snapshot())
		})
	}
	if s.cfg.Orders != nil {
		s.cfg.Orders.SetOnChange(func(string) {
			s.stream.Publish("orders", s.cfg.Orders.Snapshot())
		})
	}
	if s.cfg.Market != nil {
		s.cfg.Market.SetOnChange(func(string) {
			s.stream.Publish("market", s.cfg.Market.Snapshot())
		})
	}
	if s.cfg.Connection != nil {
		s.cfg.Connection.OnStateChange(func(state domain.ConnectionState) {
			s.stream.Publish("connection", state)
		})
	}
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/events/stream", s.stream.ServeHTTP)

		r.Get("/connection", s.handleConnectionState)

		r.Route("/account", func(r chi.Router) {
			r.Get("/", s.handleAccount)
			r.Post("/refresh", s.handleAccountRefresh)
		})

		r.Route("/watchlist", func(r chi.Router) {
			r.Get("/", s.handleWatchlist)
			r.Post("/", s.handleWatchlistAdd)
			r.Post("/refresh", s.refreshHandler(s.cfg.Watchlist.Refresh, s.handleWatchlist))
			r.Delete("/{code}", s.handleWatchlistRemove)
		})

		r.Route("/trading", func(r chi.Router) {
			r.Get("/conditions", s.handleConditions)
			r.Put("/conditions", s.handleConditionsUpdate)
			r.Post("/conditions/refresh", s.refreshHandler(s.cfg.Conditions.Refresh, s.handleConditions))
			r.Post("/start", s.handleTradingStart)
			r.Post("/stop", s.handleTradingStop)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", s.handleOrders)
			r.Post("/buy", s.handleOrderBuy)
			r.Post("/sell", s.handleOrderSell)
			r.Post("/refresh", s.refreshHandler(s.cfg.Orders.Refresh, s.handleOrders))
			r.Delete("/{id}", s.handleOrderCancel)
		})

		r.Get("/market", s.handleMarket)
		r.Post("/market/refresh", s.refreshHandler(s.cfg.Market.Refresh, s.handleMarket))
		r.Get("/metrics", s.handleMetrics)
		r.Get("/system/status", s.handleSystemStatus)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}
