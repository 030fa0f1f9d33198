package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"telegram-bot-manager/internal/app"
	"telegram-bot-manager/internal/config"
	"telegram-bot-manager/internal/infra/logging"
	"telegram-bot-manager/internal/infra/metrics"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		dev        bool
		grace      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bot service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, dev, grace)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to YAML config file")
	cmd.Flags().BoolVar(&dev, "dev", false, "developer mode (console logs, unredacted tokens)")
	cmd.Flags().DurationVar(&grace, "shutdown-timeout", 30*time.Second, "max wait for graceful shutdown")
	return cmd
}

func runServe(parent context.Context, configPath string, dev bool, grace time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(configPath, dev)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(Version, Commit)
	logger.Info().Str("version", Version).Str("transport", cfg.Transport.Mode).Msg("botservice starting")

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	shutdown := func() error {
		sctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return a.Shutdown(sctx)
	}
	if err := a.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("startup failed")
		_ = shutdown()
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown requested")
	if err := shutdown(); err != nil {
		logger.Warn().Err(err).Msg("shutdown finished with errors")
	}
	return nil
}
