package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"newsdedup/api"
	"newsdedup/config"
	"newsdedup/engine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the deduplication HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.Environment != config.EnvLocal {
			gin.SetMode(gin.ReleaseMode)
		}
		eng, err := engine.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer eng.Close()

		var decisions api.DecisionLog
		if eng.Decisions != nil {
			decisions = eng.Decisions
		}
		return api.Serve(ctx, cfg.Addr(), api.NewRouter(eng.Dedup, decisions, logger), logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
