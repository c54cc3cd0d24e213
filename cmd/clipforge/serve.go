package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/internal/api"
	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/db"
	"github.com/clipforge/clipforge/internal/dispatch"
	"github.com/clipforge/clipforge/internal/playback"
	"github.com/clipforge/clipforge/internal/transcribe"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and in-process workers unless a broker is configured)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, ctx)
		},
	}
}

func runServe(parent context.Context, cfg *config.EnvConfig, cc *commandContext) error {
	startTime := time.Now()
	logger := cc.loggerValue()

	runCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting clipforge",
		"version", config.Version,
		"data_dir", cfg.DataDir(),
		"db", cfg.DBDriver(),
		"storage", cfg.StorageBackend(),
	)

	// Only one process may drive workers against a SQLite file.
	if cfg.DBDriver() == string(db.SQLite) {
		lock, err := db.AcquireLock(cfg.LockPath())
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	a, err := newApp(runCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	serverCfg := api.ServerConfig{
		Addr:           cfg.Addr(),
		Service:        a.orch,
		Metrics:        a.metrics,
		RateLimit:      cfg.RateLimit(),
		RateWindow:     cfg.RateWindow(),
		JWTSecret:      cfg.JWTSecret(),
		CORSOrigins:    cfg.CORSOrigins(),
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Logger:         logger,
		StartTime:      startTime,
		Version:        config.Version,
	}
	if a.local != nil {
		serverCfg.Playback = playback.NewServer(a.local, logger)
	}
	if a.doctor != nil {
		serverCfg.Doctor = a.doctor
		go a.doctor.Watch(runCtx, transcribe.DefaultProbeTTL)
	}

	var poolDone chan struct{}
	if cfg.BrokerURL() != "" {
		conn, err := dispatch.Dial(runCtx, cfg.BrokerURL(), logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		pub, err := dispatch.NewAMQPPublisher(conn, cfg.QueueName(), logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		a.orch.SetDispatcher(pub)
		go dispatch.NewStaleSweeper(a.repo, a.orch, cfg.StaleTaskTimeout(), logger).Run(runCtx, cfg.SweepInterval())
		logger.Info("jobs published to broker", "queue", cfg.QueueName())
	} else {
		if _, err := a.db.RecoverInterrupted(runCtx); err != nil {
			return fmt.Errorf("failed to recover interrupted tasks: %w", err)
		}
		poolDone = make(chan struct{})
		pool := dispatch.NewPool(a.orch, a.repo, a.orch, dispatch.PoolConfig{
			Workers:       cfg.Workers(),
			SweepInterval: cfg.SweepInterval(),
			StaleTimeout:  cfg.StaleTaskTimeout(),
			Logger:        logger,
			Metrics:       a.metrics,
		})
		a.orch.SetDispatcher(pool)
		go func() {
			defer close(poolDone)
			pool.Start(runCtx)
		}()
		serverCfg.Workers = pool
	}

	if cfg.RedisAddr() != "" && cfg.RateLimit() > 0 {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr(), DB: cfg.RedisDB()})
		defer rdb.Close()
		if err := rdb.Ping(runCtx).Err(); err != nil {
			logger.Warn("redis unreachable, ingest rate limiting fails open", "addr", cfg.RedisAddr(), "error", err)
		}
		serverCfg.Limiter = api.NewRedisCounter(rdb)
	}

	apiServer := api.NewServer(serverCfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	select {
	case <-runCtx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	if poolDone != nil {
		<-poolDone
	}

	logger.Info("shutdown complete")
	return nil
}
