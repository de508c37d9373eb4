package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-gateway/internal/config"
	"ai-gateway/internal/logging"

	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if cfg.UpstreamURL == "" {
		return errors.New("UPSTREAM_URL is required")
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// chamadas de IA podem demorar
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	limits := cfg.Limits()
	logger.Info("gateway listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("upstream", a.upstream.String()),
	)
	logger.Info("rate limit",
		zap.Int("per_minute", limits.PerMinute),
		zap.Int("per_hour", limits.PerHour),
		zap.Bool("distributed", a.rdb != nil),
		zap.Bool("trust_xff", cfg.TrustXFF),
	)
	logger.Info("auth",
		zap.Bool("required", cfg.AuthRequired()),
		zap.Bool("secret", cfg.Auth.Secret != ""),
		zap.Bool("issuer_url", cfg.Auth.IssuerURL != ""),
		zap.Bool("public_key", cfg.Auth.PublicKey != ""),
		zap.Bool("api_key_bypass", cfg.APISecretKey != ""),
	)
	logger.Info("concurrency", zap.Int("max", cfg.ConcurrencyMax), zap.Duration("acquire_timeout", cfg.ConcurrencyTimeout))
	if cfg.AuthRequired() && !cfg.Auth.Configured() {
		logger.Error("REQUIRE_AUTH_FOR_AI is on but no verification mechanism is configured; AI requests will fail with 500")
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
