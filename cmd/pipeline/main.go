package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	_ "github.com/marketpulse/pipeline/internal/exchange/binance"
	_ "github.com/marketpulse/pipeline/internal/exchange/bybit"
	_ "github.com/marketpulse/pipeline/internal/exchange/deribit"
	_ "github.com/marketpulse/pipeline/internal/exchange/okx"

	"github.com/marketpulse/pipeline/internal/api"
	"github.com/marketpulse/pipeline/internal/config"
	"github.com/marketpulse/pipeline/internal/engine"
)

// Risk, black-swan protection and alert delivery are not wired here: they
// need a live, authenticated exchange client (risk.AccountSource,
// risk.Executor) that this repository does not ship. A deployment that adds
// one constructs risk.New/blackswan.New with a notify.AlertManager as their
// PortfolioRiskManager and passes the result to engine.New via
// engine.WithRiskEngine/WithBlackSwanProtector.

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	redisAddr := flag.String("redis-addr", "localhost:6379", "redis address for the cache/pub-sub layer")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.LoadFile(*cfgPath)
	if err != nil {
		log.Warn().Err(err).Msg("config file not loaded, using defaults")
		cfg = config.Default()
	}
	cfg.ApplyEnv()

	if lvl, lerr := zerolog.ParseLevel(cfg.LogLevel); lerr == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})

	eng, err := engine.New(cfg, rdb, log)
	if err != nil {
		log.Fatal().Err(err).Msg("engine construction failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Subscribe(ctx); err != nil {
		log.Fatal().Err(err).Msg("subscribe failed")
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API.Addr, eng)
		go func() {
			if err := apiServer.Run(ctx); err != nil {
				log.Error().Err(err).Msg("api server stopped")
			}
		}()
	}

	log.Info().Strs("exchanges", cfg.Ingestion.Exchanges).Strs("symbols", cfg.Ingestion.Symbols).
		Msg("pipeline starting")

	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("engine stopped with error")
	}

	log.Info().Msg("pipeline stopped")
}
