// Command dispatchd runs the webhook dispatch engine as a standalone
// service: the admin API, the store-polling delivery engine, and
// Prometheus metrics exposition.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	dispatch "github.com/hirewire/dispatch"
	"github.com/hirewire/dispatch/api"
	"github.com/hirewire/dispatch/observability"
	"github.com/hirewire/dispatch/store"
	"github.com/hirewire/dispatch/store/memory"
	"github.com/hirewire/dispatch/store/postgres"
	"github.com/hirewire/dispatch/store/redis"
)

func main() {
	if err := run(); err != nil {
		slog.Error("dispatchd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)

	d, err := dispatch.New(
		dispatch.WithStore(st),
		dispatch.WithLogger(logger),
		dispatch.WithPolling(),
		dispatch.WithMaxRetries(cfg.MaxRetries),
		dispatch.WithRequestTimeout(cfg.RequestTimeout),
		dispatch.WithConcurrency(cfg.Concurrency),
		dispatch.WithPollInterval(cfg.PollInterval),
		dispatch.WithBatchSize(cfg.BatchSize),
		dispatch.WithRetention(cfg.Retention),
		dispatch.WithMetrics(metrics),
		dispatch.WithTracer(observability.NewTracer()),
	)
	if err != nil {
		return err
	}

	d.Start(ctx)

	router := newRouter(d, st, reg, logger)
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dispatchd listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	d.Stop(shutdownCtx)
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func openStore(ctx context.Context, cfg *config, logger *slog.Logger) (store.Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		logger.Info("using postgres store")
		return postgres.Open(ctx, cfg.DatabaseURL)
	case cfg.RedisAddr != "":
		logger.Info("using redis store", "addr", cfg.RedisAddr)
		return redis.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		logger.Warn("no DATABASE_URL or REDIS_ADDR set, using in-memory store")
		return memory.New(), nil
	}
}

func newRouter(d *dispatch.Dispatcher, st store.Store, reg *prometheus.Registry, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		if err := st.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	api.NewHandler(d).Register(router.Group("/api/v1"))

	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
