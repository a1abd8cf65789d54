// Package main is the entry point for the Candid push delivery worker.
//
// The worker drains the Redis push queue the API server fills and delivers
// the notifications through the Expo push service in batches. Running
// delivery out of process keeps transaction commit latency independent of
// the push provider.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/candid-app/candid-core/config"
	"github.com/candid-app/candid-core/internal/notify"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Redis.Disabled {
		return fmt.Errorf("the worker requires Redis; unset REDIS_DISABLED")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting Candid push worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. PUSH QUEUE (Redis)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to Redis...")
	queueCfg := notify.DefaultRedisConfig()
	queueCfg.Host = cfg.Redis.Host
	queueCfg.Port = cfg.Redis.Port
	queueCfg.Password = cfg.Redis.Password
	queueCfg.DB = cfg.Redis.DB
	queueCfg.PoolSize = cfg.Redis.PoolSize
	queueCfg.MinIdleConns = cfg.Redis.MinIdleConns
	queueCfg.DialTimeout = cfg.Redis.DialTimeout
	queueCfg.Key = cfg.Redis.QueueKey

	queue, err := notify.NewQueue(queueCfg, log)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer func() {
		log.Info("closing push queue...")
		_ = queue.Close()
	}()
	log.Info("Redis connection established", "queue_key", queueCfg.Key)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EXPO PUSH CLIENT
	// ─────────────────────────────────────────────────────────────────────────
	expoCfg := notify.DefaultExpoConfig()
	expoCfg.BaseURL = cfg.Notify.ExpoBaseURL
	expoCfg.AccessToken = cfg.Notify.ExpoAccessToken
	expoCfg.Timeout = cfg.Notify.RequestTimeout
	expoCfg.Logger = log
	pusher := notify.NewExpoClient(expoCfg)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. DISPATCH LOOP
	// ─────────────────────────────────────────────────────────────────────────
	dispatchCfg := notify.DefaultDispatcherConfig()
	dispatchCfg.Logger = log
	dispatcher := notify.NewDispatcher(queue, pusher, dispatchCfg)
	dispatcher.Start(ctx)

	log.Info("Candid push worker is running")

	// ─────────────────────────────────────────────────────────────────────────
	// 6. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...")
	cancel()
	dispatcher.Wait()

	log.Info("shutdown complete")
	return nil
}

// setupLogger configures structured logging.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "json" || cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}
