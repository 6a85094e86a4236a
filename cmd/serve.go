package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalcore/evidence-engine/internal/monitoring"
	"github.com/signalcore/evidence-engine/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the research and scoring HTTP API",
	Long:  "Serves research sessions with an SSE status stream, the evidence corpus and vendor scoring over HTTP.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, cfg, "serve", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		srv := server.New(server.Deps{
			Catalog:    env.Catalog,
			Registry:   env.Registry,
			Researcher: env.Orchestrator,
			Store:      env.Store,
			Scoring:    env.Scoring,
			Stats:      monitoring.NewCollector(env.Registry, env.Store, env.Costs),
		}, server.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			PollInterval:   time.Duration(cfg.Stream.PollIntervalMillis) * time.Millisecond,
			Heartbeat:      time.Duration(cfg.Stream.HeartbeatSecs) * time.Second,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		return srv.ListenAndServe(ctx, port)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
