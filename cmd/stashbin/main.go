package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"stashbin/cfg"
	"stashbin/svc/api"
	"stashbin/svc/cache"
	"stashbin/svc/lim"
	"stashbin/svc/store"
	"stashbin/svc/svc"
	"stashbin/svc/util"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		dbPath := os.Getenv("DATABASE_PATH")
		if dbPath == "" {
			dbPath = "stashbin.db"
		}
		meta, err := store.NewSQLite(dbPath)
		if err != nil {
			os.Exit(1)
		}
		defer meta.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := meta.Ping(pingCtx); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}

	_ = godotenv.Load()
	util.InitLog("info", false)

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Msg("starting stashbin API")

	meta, err := store.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize database")
		os.Exit(1)
	}
	defer meta.Close()
	util.Info().Str("path", c.DatabasePath).Msg("database initialized")

	var content store.ContentStore
	switch c.Backend {
	case cfg.BackendFile:
		fs, err := store.NewFileStore(c.UploadDir)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to initialize file store")
			os.Exit(1)
		}
		content = fs
		util.Info().Str("dir", c.UploadDir).Msg("file content store initialized")
	case cfg.BackendSQLite:
		content = meta.Content()
		util.Info().Msg("sqlite content store initialized")
	}

	var rdb *cache.Redis
	if c.RedisURL != "" {
		rdb, err = cache.NewRedis(c.RedisURL, c.RedisTimeout)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("redis required in production when configured")
				os.Exit(1)
			}
			util.Warn().Err(err).Msg("redis unavailable (dev mode)")
		} else {
			util.Info().Msg("redis connected")
		}
	}
	if rdb != nil {
		defer rdb.Close()
	}

	lruCache, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create LRU cache")
		os.Exit(1)
	}
	util.Info().Int("size", c.LRUCacheSize).Msg("LRU cache initialized")

	pasteSvc := svc.NewPaste(meta, content, lruCache, rdb, c)
	util.Info().Msg("paste service initialized")

	limiter := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, c.TrustedProxies)
	defer limiter.Stop()
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Int("burst", c.RateLimit.Burst).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	sweeper := svc.NewSweeper(meta, content, c.SweepInterval, c.DefaultTTL, nil)
	sweeper.SetCaches(lruCache, rdb)
	server := api.NewServer(c, pasteSvc, limiter, meta, rdb)

	quitWAL := make(chan struct{})
	go store.StartWALMaintenance(meta.DB(), quitWAL)
	util.Info().Msg("WAL maintenance worker started")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		util.Info().Msg("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	util.Info().Str("port", c.Port).Str("environment", c.Environment).Msg("server starting")
	if err := g.Wait(); err != nil {
		util.Error().Err(err).Msg("server exited with error")
	}
	close(quitWAL)
	util.Info().Msg("shutdown complete")
}
