package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wallstreetbar/go/internal/config"
	"github.com/mcdev12/wallstreetbar/go/internal/logging"
	"github.com/mcdev12/wallstreetbar/go/internal/market/gateway"
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

	if cfg.Store.Driver == sharedstore.DriverMemory {
		log.Warn().Msg("memory store only relays between browsers on this gateway")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storeCfg := cfg.SharedStore()
	store, err := sharedstore.Open(ctx, storeCfg, "gateway")
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open shared store")
	}
	defer store.Close()

	open := func(ctx context.Context, origin string) (sharedstore.Store, error) {
		return sharedstore.Open(ctx, storeCfg, origin)
	}

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.AllowedOrigins = cfg.Gateway.AllowedOrigins

	service, err := gateway.NewService(gatewayConfig, store, open, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gateway service")
	}

	log.Info().
		Str("addr", cfg.Gateway.Addr).
		Str("store", cfg.Store.Driver).
		Strs("allowed_origins", cfg.Gateway.AllowedOrigins).
		Msg("starting signal gateway")

	if err := service.Run(ctx, cfg.Gateway.Addr); err != nil {
		log.Error().Err(err).Msg("gateway failed")
	}

	counters := service.Counters()
	log.Info().
		Uint64("frames", counters.FramesAccepted).
		Uint64("rejected", counters.FramesRejected).
		Uint64("changes_sent", counters.ChangesSent).
		Msg("gateway shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
