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
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/Preservarium/acl-poc/internal/auth"
	"github.com/Preservarium/acl-poc/internal/authz"
	"github.com/Preservarium/acl-poc/internal/cache"
	"github.com/Preservarium/acl-poc/internal/config"
	"github.com/Preservarium/acl-poc/internal/hierarchy"
	"github.com/Preservarium/acl-poc/internal/ratelimit"
	"github.com/Preservarium/acl-poc/internal/server"
	"github.com/Preservarium/acl-poc/internal/service/grants"
	"github.com/Preservarium/acl-poc/internal/storage"
	"github.com/Preservarium/acl-poc/internal/telemetry"
	"github.com/Preservarium/acl-poc/internal/worker"
	"github.com/Preservarium/acl-poc/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := parseLogLevel(os.Getenv("ACL_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("acl starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to the database and run embedded migrations.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Build the cache tier. Redis when configured; otherwise an
	// in-process TTL map. Either way it is an accelerator only.
	var backend cache.Backend
	var redisClient *redis.Client
	if cfg.CacheEnabled {
		if cfg.RedisURL != "" {
			redisClient, err = cache.NewRedisClient(ctx, cfg.RedisURL, cfg.CacheTimeout)
			if err != nil {
				// Cache is best-effort: a dead Redis at startup degrades
				// to the in-process backend instead of failing boot.
				logger.Warn("redis unavailable, using in-process cache", "error", err)
				backend = cache.NewMemoryBackend()
			} else {
				backend = cache.NewRedisBackend(redisClient)
				logger.Info("cache: redis")
			}
		} else {
			backend = cache.NewMemoryBackend()
			logger.Info("cache: in-process")
		}
	} else {
		logger.Info("cache: disabled")
	}
	decisionCache := cache.New(backend, cache.TTLs{
		Decision:   cfg.DecisionTTL,
		Membership: cfg.MembershipTTL,
		Ancestors:  cfg.AncestorsTTL,
	}, logger)
	defer func() { _ = decisionCache.Close() }()

	// Wire the engine and the grant lifecycle.
	resolver := hierarchy.NewResolver(db, decisionCache)
	engine := authz.NewEngine(db, resolver, decisionCache, logger)
	grantSvc := grants.New(db, decisionCache, logger)

	jwtMgr, err := auth.NewJWTManager(cfg.SecretKey, cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	limiter := ratelimit.New(redisClient, logger)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	srv := server.New(server.ServerConfig{
		DB:                  db,
		Engine:              engine,
		GrantSvc:            grantSvc,
		JWTMgr:              jwtMgr,
		Cache:               decisionCache,
		Limiter:             limiter,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		AuthRule: ratelimit.Rule{
			Prefix: "auth",
			Limit:  cfg.AuthRateLimit,
			Window: cfg.AuthRateWindow,
		},
	})

	// Seed the bootstrap superuser.
	if err := srv.Handlers().SeedAdmin(ctx, cfg.BootstrapAdminUsername, cfg.BootstrapAdminPassword); err != nil {
		return fmt.Errorf("admin seed: %w", err)
	}

	// Start the expiration worker.
	var scheduler *worker.Scheduler
	if cfg.SchedulerEnabled {
		expirer := worker.NewExpirer(db, worker.LogNotifier{Logger: logger}, logger,
			time.Duration(cfg.NotifyLookaheadDays)*24*time.Hour)

		scheduler = worker.NewScheduler(logger)
		scheduler.AddPeriodic("expire_grants", cfg.ExpiryCheckPeriod, expirer.Sweep)
		spec := fmt.Sprintf("0 %d * * *", cfg.NotifyHourUTC)
		if err := scheduler.AddCron("notify_expiring", spec, expirer.NotifyExpiring); err != nil {
			return fmt.Errorf("worker: %w", err)
		}
		scheduler.Start(ctx)
	} else {
		logger.Info("scheduler: disabled")
	}

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("acl shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	if scheduler != nil {
		scheduler.Stop()
	}

	slog.Info("acl stopped")
	return nil
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
