// Command gated runs the admission gate as a standalone HTTP service with
// the admin, status and metrics routes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/internal/adminapi"
	"github.com/MrEthical07/goGate/internal/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	issueFor := flag.String("issue-token", "", "print an access token for a configured principal and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	client, closeStore, err := initStore(cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to init store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	builder := goGate.New().
		WithConfig(cfg.Gate).
		WithRedis(client).
		WithPrincipalProvider(goGate.NewStaticPrincipalProvider(cfg.Principals)).
		WithLogger(logger)
	if cfg.AuditLog {
		builder = builder.WithAuditSink(goGate.NewSlogSink(logger.With(slog.String("component", "audit")), slog.LevelInfo))
	}
	engine, err := builder.Build()
	if err != nil {
		logger.Error("failed to build engine", slog.Any("error", err))
		os.Exit(1)
	}
	defer engine.Close()

	if *issueFor != "" {
		role, ok := cfg.Principals[*issueFor]
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown principal %q\n", *issueFor)
			os.Exit(2)
		}
		tok, err := engine.IssueAccessToken(*issueFor, role)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	if cfg.EphemeralSecret {
		logger.Warn("GATE_JWT_SECRET not set; using a random secret, tokens will not survive a restart")
	}
	for _, w := range cfg.Gate.Lint() {
		logger.Warn("config lint", slog.String("code", w.Code), slog.String("severity", w.Severity.String()), slog.String("message", w.Message))
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: adminapi.New(engine, adminapi.Options{
			TrustXFF: cfg.TrustXFF,
			Logger:   logger,
		}).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			return
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
}

// initStore connects to Redis, or starts an in-process miniredis when no
// address is configured.
func initStore(cfg config.RedisConfig, logger *slog.Logger) (redis.UniversalClient, func(), error) {
	if cfg.Addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		logger.Warn("REDIS_ADDR not set; using in-process miniredis, limits are not shared", slog.String("addr", mr.Addr()))
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	logger.Info("using redis", slog.String("addr", cfg.Addr))
	return client, func() { _ = client.Close() }, nil
}
