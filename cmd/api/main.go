package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"loanflow/account"
	"loanflow/auth"
	"loanflow/cache"
	"loanflow/config"
	"loanflow/db"
	"loanflow/loan"
	"loanflow/repayment"
	"loanflow/txlog"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("bootstrap database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	audit := txlog.NewWriter()
	accountRepo := account.NewRepository(pool)

	loanService := loan.NewService(pool, loan.NewRepository(pool), audit).
		WithCompletionCheck(repayment.Complete)
	paymentService := repayment.NewService(pool, nil, accountRepo, audit)

	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedis(cfg.RedisAddr)
		defer redisCache.Close()
		loanService.WithSummaryCache(redisCache, cfg.SummaryTTL)
		paymentService.WithSummaryCache(redisCache)
		logger.Info("summary cache enabled", "addr", cfg.RedisAddr)
	}

	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret).
		WithTokenTTL(cfg.TokenTTL)
	accountService := account.NewService(accountRepo)
	auditReader := txlog.NewReader(pool)

	server := NewServer(authService, loanService, paymentService, accountService, auditReader, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("api listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "error", err)
			os.Exit(1)
		}
	}()

	<-shutdown
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
