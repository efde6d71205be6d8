package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wallstreetbar/go/clients/market_client"
	"github.com/mcdev12/wallstreetbar/go/internal/config"
	"github.com/mcdev12/wallstreetbar/go/internal/logging"
	"github.com/mcdev12/wallstreetbar/go/internal/market/refresh"
	"github.com/mcdev12/wallstreetbar/go/internal/market/tab"
	"github.com/mcdev12/wallstreetbar/go/internal/sharedstore"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(getEnv("WSB_CONFIG", "wallstreetbar.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logCloser, err := logging.Setup(cfg.Log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}
	defer logCloser.Close()

	contextID := getEnv("WSB_CONTEXT_ID", "wall-"+uuid.New().String()[:8])

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := sharedstore.Open(ctx, cfg.SharedStore(), contextID)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open shared store")
	}
	defer store.Close()

	if cfg.Store.Driver == sharedstore.DriverMemory {
		log.Warn().Msg("memory store only reaches contexts in this process; use nats, postgres or sqlite to join other walls")
	}

	client := market_client.NewMarketClient(cfg.API.BaseURL)
	client.SetRetryConfig(cfg.Retry())

	metrics := refresh.NewCounters()
	if cfg.Wall.MetricsAddr != "" {
		metricsServer := startMetricsServer(cfg.Wall.MetricsAddr, metrics)
		defer metricsServer.Close()
	}

	wallConfig := tab.DefaultConfig()
	wallConfig.Metrics = metrics

	display := tab.NewLogDisplay(contextID)
	wall := tab.NewController(client, store, display, nil, wallConfig)

	log.Info().
		Str("context_id", contextID).
		Str("api", cfg.API.BaseURL).
		Str("store", cfg.Store.Driver).
		Msg("starting wall")

	if err := wall.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start wall")
	}

	// SIGUSR1 toggles visibility, SIGUSR2 forces a refresh
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)

	for sig := range sigChan {
		switch sig {
		case syscall.SIGUSR1:
			wall.SetVisible(ctx, !wall.Visible())
			continue
		case syscall.SIGUSR2:
			if err := wall.ManualRefresh(ctx); err != nil {
				log.Error().Err(err).Msg("manual refresh failed")
			}
			continue
		}

		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		break
	}

	done := make(chan struct{})
	go func() {
		cancel()
		wall.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("timed out waiting for wall to stop")
	}

	stats := wall.Stats()
	log.Info().
		Uint64("refreshes", stats.Succeeded).
		Uint64("failed", stats.Failed).
		Uint64("dropped", stats.Dropped).
		Msg("wall shutdown complete")
}

func startMetricsServer(addr string, metrics *refresh.Counters) *http.Server {
	router := chi.NewMux()
	router.Method(http.MethodGet, "/metrics", metrics)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("metrics server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return server
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
