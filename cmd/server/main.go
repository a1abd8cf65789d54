// Package main is the entry point for the Candid API server.
//
// The server exposes the account and conversation lifecycle over HTTP:
// registration, question creation, the matchmaking rotation, joining,
// messaging, reporting and abuse handling. Push notifications are queued
// to Redis and delivered by the worker binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/candid-app/candid-core/config"
	"github.com/candid-app/candid-core/internal/auth"
	"github.com/candid-app/candid-core/internal/httpapi"
	"github.com/candid-app/candid-core/internal/lifecycle"
	"github.com/candid-app/candid-core/internal/moderation"
	"github.com/candid-app/candid-core/internal/notify"
	"github.com/candid-app/candid-core/internal/scheduler"
	"github.com/candid-app/candid-core/internal/scheduler/jobs"
	"github.com/candid-app/candid-core/internal/store/postgres"
	"github.com/candid-app/candid-core/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting Candid API server",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"debug", cfg.App.Debug,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := connectDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	log.Info("running database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("migrations completed")

	st := postgres.NewStore(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. PUSH QUEUE (Redis)
	// ─────────────────────────────────────────────────────────────────────────
	var notifier notify.Notifier = notify.NopNotifier{}
	if !cfg.Redis.Disabled {
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
			log.Warn("failed to connect to Redis, push notifications disabled", "error", err)
		} else {
			defer func() {
				log.Info("closing push queue...")
				_ = queue.Close()
			}()
			notifier = queue
			log.Info("Redis connection established", "queue_key", queueCfg.Key)
		}
	} else {
		log.Info("Redis disabled, push notifications are dropped")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. MODERATION
	// ─────────────────────────────────────────────────────────────────────────
	filter := moderation.NewFilter(moderation.FilterConfig{
		ExtraWords: cfg.Moderation.ExtraWords,
	})

	var moderator moderation.Moderator = filter
	if cfg.Moderation.ToxicityAPIKey != "" {
		toxCfg := moderation.DefaultToxicityConfig(cfg.Moderation.ToxicityAPIKey)
		toxCfg.Timeout = cfg.Moderation.RequestTimeout
		toxCfg.Threshold = cfg.Moderation.ToxicityThreshold
		toxCfg.Logger = log
		client := moderation.NewToxicityClient(toxCfg)
		moderator = moderation.NewScoringModerator(filter, client, cfg.Moderation.ToxicityThreshold, log)
		log.Info("toxicity scoring enabled", "threshold", cfg.Moderation.ToxicityThreshold)
	} else {
		log.Info("toxicity scoring disabled, wordlist filter only")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. LIFECYCLE ENGINE
	// ─────────────────────────────────────────────────────────────────────────
	verifier := auth.NewCredentialVerifier(st.Plain().Users())

	engineCfg := lifecycle.DefaultConfig()
	engineCfg.PreserveHistoryOnLeave = cfg.Engine.PreserveHistoryOnLeave
	engineCfg.IdleWindow = cfg.Engine.IdleWindow
	engineCfg.ReapEpoch = cfg.Engine.ReapEpoch
	engineCfg.ReapBatchSize = cfg.Engine.ReapBatchSize
	engineCfg.Logger = log

	engine := lifecycle.NewEngine(st, verifier, moderator, notifier, engineCfg)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(log)

		reapJob := jobs.NewReapIdleJob(engine, log)
		if err := sched.Register(reapJob, scheduler.NewIntervalSchedule(cfg.Scheduler.ReapInterval)); err != nil {
			return fmt.Errorf("failed to register reaper job: %w", err)
		}

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		log.Info("scheduler started", "reap_interval", cfg.Scheduler.ReapInterval.String())
	} else {
		log.Info("scheduler disabled")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := httpapi.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	httpCfg.MaxHeaderBytes = cfg.HTTP.MaxHeaderBytes
	httpCfg.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	httpCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute

	httpLog := logger.New(logger.Options{
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
	})
	server := httpapi.NewServer(httpCfg, engine, httpLog)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "address", httpCfg.Address())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 9. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("Candid API server is running", "http_address", httpCfg.Address())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		log.Error("service error", "error", err)
		return err
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error

	if sched != nil {
		log.Info("stopping scheduler...")
		if err := sched.Stop(); err != nil {
			log.Error("failed to stop scheduler", "error", err)
			shutdownErr = err
		}
	}

	log.Info("stopping HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		shutdownErr = err
	}

	log.Info("shutdown complete")
	return shutdownErr
}

// connectDatabase prefers DATABASE_URL and falls back to the individual
// DB_* settings.
func connectDatabase(ctx context.Context, cfg *config.Config) (*postgres.Connection, error) {
	if cfg.Database.URL != "" {
		return postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.Host = cfg.Database.Host
	pgCfg.Port = cfg.Database.Port
	pgCfg.Database = cfg.Database.Name
	pgCfg.User = cfg.Database.User
	pgCfg.Password = cfg.Database.Password
	pgCfg.SSLMode = cfg.Database.SSLMode
	pgCfg.MaxConns = cfg.Database.MaxConns
	pgCfg.MinConns = cfg.Database.MinConns
	pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	pgCfg.ConnectTimeout = cfg.Database.ConnectTimeout

	return postgres.NewConnection(ctx, pgCfg)
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
