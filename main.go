package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"newsdedup/api"
	"newsdedup/config"
	"newsdedup/engine"
	"newsdedup/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "newsdedup: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfg.Environment != config.EnvLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to save state on shutdown")
		}
	}()

	var decisions api.DecisionLog
	if eng.Decisions != nil {
		decisions = eng.Decisions
	}

	logger.Info().Msg("API endpoints available: " +
		"GET /api/health, POST /api/deduplication/remove, POST /api/deduplication/check, " +
		"GET /api/deduplication/stats, GET /api/deduplication/decisions, POST /api/deduplication/save")
	return api.Serve(ctx, cfg.Addr(), api.NewRouter(eng.Dedup, decisions, logger), logger)
}
