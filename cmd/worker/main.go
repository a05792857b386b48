package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"loopcard/internal/authcheck"
	"loopcard/internal/config"
	"loopcard/internal/engine"
	"loopcard/internal/history"
	"loopcard/internal/pkg/logger"
	"loopcard/internal/pkg/shutdown"
	"loopcard/internal/queue"
	"loopcard/internal/readiness"
	"loopcard/internal/storage"
	"loopcard/internal/transcode"
	"loopcard/internal/worker"
)

func main() {
	logCfg := logger.DefaultConfig()
	logCfg.ServiceName = "loopcard-worker"
	log := logger.New(logCfg)

	log.Info("starting loopcard worker", "version", "0.1.0")

	cfg, err := config.Load()
	if err != nil {
		log.LogFatal("invalid configuration", err)
	}
	if cfg.EngineBaseURL == "" {
		log.LogFatal("invalid configuration", fmt.Errorf("ENGINE_HTTP_BASEURL is required"))
	}

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.ShutdownTimeout)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	shutdownMgr.Register("redis", func(ctx context.Context) error {
		return rdb.Close()
	})
	store := queue.NewStore(rdb, cfg.JobRetention)

	var (
		archive *history.Archive
		janitor *history.Janitor
	)
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
		janitor = history.NewJanitor(archive, cfg.ArchiveRetention, log)
	} else {
		log.Warn("DATABASE_URL not set, job archive disabled")
	}

	sp, err := storage.NewProvider(cfg)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	auth := authcheck.New(cfg.AuthEndpoint, cfg.AuthToken)

	// The engine session is expensive to open; the handle defers it to first
	// use and shares one session across the whole pool.
	handle := engine.NewHandle(func(ctx context.Context) (engine.Engine, error) {
		eng := engine.NewHTTPEngine(cfg.EngineBaseURL)
		if err := eng.Start(ctx); err != nil {
			return nil, err
		}
		return eng, nil
	})
	shutdownMgr.Register("engine", func(ctx context.Context) error {
		return handle.Close()
	})

	checks := []readiness.Check{
		readiness.StoreCheck(store),
		readiness.ObjectStoreCheck(sp),
		readiness.AuthCheck(auth),
		readiness.WarmupCheck(handle),
	}
	if err := readiness.Startup(ctx, log, checks); err != nil {
		log.LogFatal("dependency startup checks failed", err)
	}

	if janitor != nil {
		if err := janitor.Start(); err != nil {
			log.LogFatal("failed to start archive janitor", err)
		}
		shutdownMgr.Register("janitor", func(ctx context.Context) error {
			return janitor.Stop(ctx)
		})
	}

	deps := worker.Deps{
		Store:  store,
		Engine: handle,
		Converter: transcode.New(cfg.TranscodeBinary, transcode.Options{
			Quality:   cfg.GIFQuality,
			FrameRate: cfg.GIFFrameRate,
			Timeout:   cfg.TranscodeTimeout,
		}),
		Storage:       sp,
		PublicBaseURL: cfg.PublicBaseURL,
		RenderTimeout: cfg.RenderTimeout,
		Concurrency:   cfg.WorkerConcurrency,
		Log:           log,
	}
	if archive != nil {
		deps.Archive = archive
	}
	pool := worker.New(deps)

	// Run until a signal arrives; the manager then cancels this context and
	// waits out in-flight jobs before tearing dependencies down.
	runCtx := shutdownMgr.Context()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := pool.Run(runCtx); err != nil && runCtx.Err() == nil {
			log.Error("worker pool stopped unexpectedly", "error", err)
		}
	}()
	shutdownMgr.Register("worker-pool", func(ctx context.Context) error {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	shutdownMgr.Wait()
}
