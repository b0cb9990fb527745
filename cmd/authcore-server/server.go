package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/httpapi"
	"github.com/MrEthical07/authcore/identity"
	otelexport "github.com/MrEthical07/authcore/metrics/export/otel"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/store/memstore"
	"github.com/MrEthical07/authcore/store/redisstore"
	"github.com/MrEthical07/authcore/store/sqlstore"
)

// run builds the engine and serves until ctx is cancelled.
func run(ctx context.Context, cfg *serverConfig, logger *zap.Logger) error {
	engineCfg, err := cfg.engineConfig()
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	var rdb redis.UniversalClient
	if cfg.Redis.Addr != "" {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		cleanups = append(cleanups, func() { _ = rdb.Close() })
	}

	store, closeStore, err := openStore(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	cleanups = append(cleanups, closeStore)

	builder := authcore.New().
		WithConfig(engineCfg).
		WithIdentityStore(store).
		WithLogger(logger)
	if rdb != nil {
		builder.WithRedis(rdb)
	}
	if cfg.Audit.Enabled {
		builder.WithAuditSink(authcore.NewLoggerSink(logger))
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	cleanups = append(cleanups, engine.Close)

	if cfg.Metrics.OTel {
		exp, err := otelexport.NewExporter(otel.Meter("github.com/MrEthical07/authcore"), engine)
		if err != nil {
			return fmt.Errorf("otel exporter: %w", err)
		}
		cleanups = append(cleanups, func() { _ = exp.Close() })
	}

	router := newRouter(cfg, engine, logger)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.HTTP.Addr), zap.String("storage", cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func newRouter(cfg *serverConfig, engine *authcore.Engine, logger *zap.Logger) *gin.Engine {
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	h := httpapi.NewHandler(engine, logger, httpapi.Options{
		CookieDomain:       cfg.HTTP.CookieDomain,
		CookieSecure:       cfg.HTTP.CookieSecure,
		RequestsPerMinute:  cfg.HTTP.RequestsPerMinute,
		FederationRedirect: cfg.HTTP.FederationRedirect,
	})
	router := httpapi.NewRouter(h)
	router.HandleMethodNotAllowed = true
	router.ForwardedByClientIP = true
	if cfg.Metrics.Enabled && cfg.Metrics.Path != "" {
		router.GET(cfg.Metrics.Path, gin.WrapH(prometheus.NewExporter(engine).Handler()))
	}
	return router
}

// openStore picks the identity backend named by storage.driver.
func openStore(ctx context.Context, cfg *serverConfig, rdb redis.UniversalClient) (identity.Store, func(), error) {
	noop := func() {}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "", "memory":
		return memstore.New(), noop, nil
	case "redis":
		if rdb == nil {
			return nil, noop, errors.New("storage.driver redis requires redis.addr")
		}
		return redisstore.New(rdb, cfg.Redis.Prefix), noop, nil
	case "sqlite":
		path := cfg.Storage.SQLitePath
		if path == "" {
			path = "authcore.db"
		}
		s, err := sqlstore.OpenSQLite(ctx, path)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		dsn := cfg.Storage.PostgresDSN
		if dsn == "" {
			dsn = os.Getenv("DATABASE_URL")
		}
		s, err := sqlstore.OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
