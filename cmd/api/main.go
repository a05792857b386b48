package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"loopcard/internal/authcheck"
	"loopcard/internal/config"
	"loopcard/internal/history"
	"loopcard/internal/httpapi"
	"loopcard/internal/pkg/logger"
	"loopcard/internal/pkg/shutdown"
	"loopcard/internal/queue"
	"loopcard/internal/readiness"
	"loopcard/internal/storage"
)

func main() {
	log := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Format:      getEnv("LOG_FORMAT", "json"),
		ServiceName: "loopcard-api",
		AddSource:   getEnv("LOG_SOURCE", "false") == "true",
	})

	log.Info("starting loopcard API", "version", "0.1.0")

	cfg, err := config.Load()
	if err != nil {
		log.LogFatal("invalid configuration", err)
	}

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.ShutdownTimeout)

	// Redis backs the job queue and status reads.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	shutdownMgr.Register("redis", func(ctx context.Context) error {
		return rdb.Close()
	})
	store := queue.NewStore(rdb, cfg.JobRetention)

	// Postgres archive is optional; without it expired jobs 404.
	var archive *history.Archive
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.LogFatal("failed to connect to PostgreSQL", err)
		}
		shutdownMgr.Register("postgres", func(ctx context.Context) error {
			pool.Close()
			return nil
		})
		archive = history.NewArchive(pool)
		if err := archive.EnsureSchema(ctx); err != nil {
			log.LogFatal("failed to prepare archive schema", err)
		}
		log.Info("job archive enabled")
	} else {
		log.Warn("DATABASE_URL not set, job archive disabled")
	}

	sp, err := storage.NewProvider(cfg)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	auth := authcheck.New(cfg.AuthEndpoint, cfg.AuthToken)

	checks := []readiness.Check{
		readiness.StoreCheck(store),
		readiness.ObjectStoreCheck(sp),
		readiness.AuthCheck(auth),
	}
	if err := readiness.Startup(ctx, log, checks); err != nil {
		log.LogFatal("dependency startup checks failed", err)
	}

	deps := httpapi.Deps{
		Store:   store,
		Storage: sp,
		Checks:  checks,
		Log:     log,
	}
	if archive != nil {
		// Assign only when non-nil so the interface stays nil otherwise.
		deps.History = archive
	}
	router := httpapi.NewRouter(deps)

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
