// Package main starts the wallet reconciliation HTTP server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adekunle-oj/wallet-core/internal/config"
	"github.com/adekunle-oj/wallet-core/internal/guard"
	"github.com/adekunle-oj/wallet-core/internal/handler"
	"github.com/adekunle-oj/wallet-core/internal/middleware"
	"github.com/adekunle-oj/wallet-core/internal/model"
	"github.com/adekunle-oj/wallet-core/internal/notifier"
	"github.com/adekunle-oj/wallet-core/internal/repository"
	"github.com/adekunle-oj/wallet-core/internal/service"
	"github.com/adekunle-oj/wallet-core/internal/signature"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	verifiers, err := signature.NewSet(cfg)
	if err != nil {
		sugar.Fatalw("signature verifier error", "error", err.Error())
	}
	if cfg.DevMode {
		// In dev mode a configured secret is still enforced; only providers
		// without one are accepted unverified.
		var unverified []string
		for _, p := range []model.Provider{model.ProviderPaystack, model.ProviderFlutterwave, model.ProviderVTPass} {
			if secret, _ := cfg.ProviderSecret(p); secret == "" {
				unverified = append(unverified, string(p))
			}
		}
		if len(unverified) > 0 {
			sugar.Warnw("dev mode, webhook signatures are NOT verified for providers without a secret",
				"providers", unverified)
		}
	}

	var cache *redis.Client
	if cfg.RedisAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer cache.Close()
	}

	var notify service.Notifier
	if cfg.NotifyURL != "" {
		notify = notifier.NewClient(cfg.NotifyURL)
	}

	g := guard.New(repo, cache, logger)

	svc := service.NewService(repo, g, verifiers, notify, logger)
	defer svc.Close()

	adminAuth := middleware.NewAdminAuth(cfg.AdminToken)
	h := handler.NewHandler(svc, logger, adminAuth)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		sugar.Infow("starting wallet-core server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown on signal or error in another goroutine. In-flight
	// webhook transactions get a grace period to commit.
	eg.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := eg.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
