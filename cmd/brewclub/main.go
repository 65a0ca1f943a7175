// Package main запускает HTTP-сервер сервиса brewclub.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/brewclub/internal/config"
	"github.com/mmeshcher/brewclub/internal/events"
	"github.com/mmeshcher/brewclub/internal/handler"
	"github.com/mmeshcher/brewclub/internal/middleware"
	"github.com/mmeshcher/brewclub/internal/push"
	"github.com/mmeshcher/brewclub/internal/repository"
	"github.com/mmeshcher/brewclub/internal/service"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.RabbitMQURL != "" {
		publisher, err = events.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitExchange)
		if err != nil {
			sugar.Fatalw("event publisher initialization error", "error", err.Error())
		}
	}

	loc, err := cfg.Location()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	hub := push.NewHub(logger)

	svc := service.NewService(store, hub, publisher, logger, service.Options{
		ExpiryTimeout:   cfg.ExpiryTimeout,
		ExpiryInterval:  cfg.ExpiryInterval,
		ReportRetention: cfg.ReportRetention,
		Location:        loc,
	})
	defer svc.Close()

	if cfg.JWTSecret == "" {
		sugar.Warn("JWT_SECRET is not set, tokens will not survive a restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, hub)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая отмена зависших заказов
	g.Go(func() error {
		svc.StartExpirySweep(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting brewclub server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}

// newStore открывает PostgreSQL, если задан DATABASE_URI, иначе хранилище в памяти.
// Файл начальных данных применяется к любому хранилищу.
func newStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
	var store repository.Store
	if cfg.DatabaseURI != "" {
		repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			return nil, err
		}
		store = repo
	} else {
		logger.Warn("DATABASE_URI is not set, using in-memory store")
		store = repository.NewMemoryStore()
	}

	if cfg.SeedFile == "" {
		return store, nil
	}

	seed, err := repository.LoadSeed(cfg.SeedFile)
	if err == nil {
		err = seed.Apply(ctx, store)
	}
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("apply seed %s: %w", cfg.SeedFile, err)
	}
	logger.Info("seed applied",
		zap.String("file", cfg.SeedFile),
		zap.Int("partners", len(seed.Partners)),
		zap.Int("products", len(seed.Products)),
		zap.Int("users", len(seed.Users)),
	)
	return store, nil
}
