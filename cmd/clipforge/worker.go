package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/dispatch"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume extraction and conversion jobs from the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.BrokerURL() == "" {
				return errors.New("worker requires a broker url (CLIPFORGE_BROKER_URL)")
			}
			return runWorker(cmd.Context(), cfg, ctx, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

func runWorker(parent context.Context, cfg *config.EnvConfig, cc *commandContext, metricsAddr string) error {
	logger := cc.loggerValue()

	runCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(runCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	conn, err := dispatch.Dial(runCtx, cfg.BrokerURL(), logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	consumer, err := dispatch.NewAMQPConsumer(conn, cfg.QueueName(), cfg.Workers(), a.orch, a.orch, logger)
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: a.metrics.Handler(), ReadHeaderTimeout: 15 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info("metrics listening", "addr", metricsAddr)
	}

	sweeper := dispatch.NewStaleSweeper(a.repo, a.orch, cfg.StaleTaskTimeout(), logger)
	go sweeper.Run(runCtx, cfg.SweepInterval())

	logger.Info("worker started", "version", config.Version, "queue", cfg.QueueName(), "workers", cfg.Workers())
	if err := consumer.Start(runCtx); err != nil {
		return fmt.Errorf("consumer: %w", err)
	}
	logger.Info("worker stopped")
	return nil
}
