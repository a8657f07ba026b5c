// Command server runs the tradedeck synchronization service: it keeps local
// snapshots of the trading server's state and serves them to dashboard
// consumers over HTTP and SSE.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradedeck/internal/config"
	"github.com/aristath/tradedeck/internal/connection"
	"github.com/aristath/tradedeck/internal/database"
	"github.com/aristath/tradedeck/internal/domain"
	"github.com/aristath/tradedeck/internal/prefs"
	"github.com/aristath/tradedeck/internal/remote"
	"github.com/aristath/tradedeck/internal/router"
	"github.com/aristath/tradedeck/internal/scheduler"
	"github.com/aristath/tradedeck/internal/server"
	"github.com/aristath/tradedeck/internal/store"
	"github.com/aristath/tradedeck/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().
		Str("api_url", cfg.APIURL).
		Str("ws_url", cfg.WSURL).
		Int("port", cfg.Port).
		Msg("Starting tradedeck")

	db, err := database.Open(cfg.DataDir, "tradedeck.db")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	cache, err := prefs.New(db, cfg.Sync.CacheTTL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize snapshot cache")
	}

	rt := router.New(log)

	manager := connection.NewManager(connection.Options{
		URL:                  cfg.WSURL,
		BaseReconnectDelay:   cfg.Connection.BaseReconnectDelay,
		MaxReconnectDelay:    cfg.Connection.MaxReconnectDelay,
		MaxReconnectAttempts: cfg.Connection.MaxReconnectAttempts,
		HeartbeatInterval:    cfg.Connection.HeartbeatInterval,
		DialTimeout:          cfg.Connection.DialTimeout,
		Log:                  log,
	}, rt.Dispatch)

	client := remote.New(cfg.APIURL, log)

	deps := store.Deps{
		Client: client,
		Router: rt,
		Cache:  cache,
		Sync:   cfg.Sync,
		Connected: func() bool {
			return manager.State().Status == domain.StatusConnected
		},
		Log: log,
	}

	account := store.NewAccount(deps)
	watchlist := store.NewWatchlist(deps)
	conditions := store.NewConditions(deps)
	orders := store.NewOrders(deps)
	market := store.NewMarket(deps)

	// Build the server before starting the stores so every change
	// notification reaches the SSE hub.
	srv := server.New(server.Config{
		Log:        log,
		Port:       cfg.Port,
		DevMode:    cfg.DevMode,
		Connection: manager,
		Account:    account,
		Watchlist:  watchlist,
		Conditions: conditions,
		Orders:     orders,
		Market:     market,
	})

	manager.OnStateChange(account.HandleConnectionState)
	manager.OnStateChange(watchlist.HandleConnectionState)
	manager.OnStateChange(conditions.HandleConnectionState)
	manager.OnStateChange(orders.HandleConnectionState)

	account.Start()
	watchlist.Start()
	conditions.Start()
	orders.Start()
	market.Start()

	if err := manager.Connect(); err != nil {
		log.Warn().Err(err).Msg("Trading server not reachable yet, retrying in background")
	}

	sched := scheduler.New(log)
	if err := sched.AddJob("@every 5m", "account-refresh", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := account.ForceRefresh(ctx); err != nil {
			log.Warn().Err(err).Msg("Scheduled account refresh failed")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule account refresh")
	}
	if err := sched.AddJob("@daily", "cache-cleanup", func() {
		if _, err := cache.CleanupExpired(7 * 24 * time.Hour); err != nil {
			log.Warn().Err(err).Msg("Cache cleanup failed")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule cache cleanup")
	}
	sched.Start()

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	<-sched.Stop().Done()
	manager.Disconnect()

	account.Close()
	watchlist.Close()
	conditions.Close()
	orders.Close()
	market.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	log.Info().Msg("Shutdown complete")
}
