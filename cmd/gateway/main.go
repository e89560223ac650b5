// cmd/gateway/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"datalens-gateway/internal/cache"
	"datalens-gateway/internal/common/auth"
	"datalens-gateway/internal/common/config"
	"datalens-gateway/internal/common/database"
	"datalens-gateway/internal/common/logger"
	"datalens-gateway/internal/common/observability"
	"datalens-gateway/internal/common/validation"
	"datalens-gateway/internal/gateway"
	"datalens-gateway/internal/ratelimit"
	"datalens-gateway/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	zlog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zlog.Sync()
	log := logger.NewZapAdapter(zlog)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	store, cleanup, err := buildCounterStore(cfg, zlog)
	if err != nil {
		zlog.Fatal("failed to initialize counter store", zap.Error(err))
	}
	defer cleanup()

	validator, err := validation.NewQueryResultValidator()
	if err != nil {
		zlog.Fatal("failed to compile result schema", zap.Error(err))
	}

	caller := upstream.NewCaller(upstream.NewTransport(), cfg.Upstream.BackoffStepDuration(), log)
	adapter := upstream.NewAdapter(caller, validator, upstream.NewCannedProvider(), cfg.Upstream, log)

	coordinator := cache.NewCoordinator(cfg.Cache.TTLDuration())
	limiter := ratelimit.NewLimiter(store, cfg.RateLimit.MonthlyLimit)
	identity := gateway.NewIdentityResolver(auth.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer))

	handler := gateway.NewHandler(identity, limiter, coordinator, adapter.Query, obs, log)
	server := gateway.NewServer(cfg.Server, handler)

	go handleShutdown(zlog)

	zlog.Info("gateway listening",
		zap.Int("port", cfg.Server.Port),
		zap.String("upstream", cfg.Upstream.BaseURL),
		zap.String("counterStore", cfg.RateLimit.Store))

	if err := server.Run(); err != nil {
		zlog.Fatal("server exited", zap.Error(err))
	}
}

// buildCounterStore selects the durable counter backend from configuration.
func buildCounterStore(cfg *config.Config, zlog *zap.Logger) (ratelimit.CounterStore, func(), error) {
	switch cfg.RateLimit.Store {
	case "postgres":
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			zlog.Warn("postgres not reachable at startup", zap.Error(err))
		}
		return ratelimit.NewPostgresCounterStore(pg.GetDB()), func() { pg.Close() }, nil
	default:
		rdb, err := database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx); err != nil {
			zlog.Warn("redis not reachable at startup", zap.Error(err))
		}
		return ratelimit.NewRedisCounterStore(rdb.GetClient()), func() { rdb.Close() }, nil
	}
}

func handleShutdown(zlog *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	zlog.Info("shutting down", zap.String("signal", sig.String()))
	os.Exit(0)
}
