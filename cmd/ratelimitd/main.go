// Command ratelimitd is the gateway process: it wires the Credential
// Registry, the Limiter Client, and the HTTP collaborator together
// against a shared Redis store, then serves the chat-completions gateway
// contract until told to stop.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"ratelimit-gateway/internal/config"
	"ratelimit-gateway/internal/httpapi"
	"ratelimit-gateway/internal/metrics"
	"ratelimit-gateway/internal/ratelimiter"
	"ratelimit-gateway/internal/registry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("ratelimitd: fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	configureLogging(cfg.LogLevel)

	reg, err := registry.Load(cfg.APIKeysFile)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	slog.Info("ratelimitd: credentials loaded", "node_id", cfg.NodeID, "credentials", reg.Size())

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	opts.PoolSize = cfg.RatelimitPoolSize
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	client := &ratelimiter.Client{
		Store:   ratelimiter.NewRedisStore(rdb),
		Limits:  reg,
		Window:  cfg.Window,
		Bypass:  cfg.BypassLimiter,
		Metrics: metrics.New(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go watchForReload(ctx, reg, rdb)

	server := httpapi.New(cfg.NodeID, client)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Router(),
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("ratelimitd: listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	if cfg.MetricsAddr != "" {
		go func() {
			slog.Info("ratelimitd: metrics listening", "addr", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, promhttp.Handler()); err != nil && err != http.ErrServerClosed {
				slog.Error("ratelimitd: metrics server failed", "error", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		slog.Info("ratelimitd: shutting down")
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// watchForReload listens for both a SIGHUP (operator-triggered local
// reload) and fleet-wide pub/sub reload broadcasts, so an edit to the
// credentials file can be picked up either per-node or across the fleet
// without a restart.
func watchForReload(ctx context.Context, reg *registry.Registry, rdb *redis.Client) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)

	go reg.Watch(ctx, rdb)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sighup:
			if err := reg.Reload(); err != nil {
				slog.Error("ratelimitd: SIGHUP reload failed", "error", err)
				continue
			}
			if err := registry.PublishReload(ctx, rdb); err != nil {
				slog.Error("ratelimitd: publish reload failed", "error", err)
			}
		}
	}
}

func configureLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
