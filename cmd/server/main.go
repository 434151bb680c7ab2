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

	"go.uber.org/zap"

	"pharmacy/backend/internal/config"
	"pharmacy/backend/internal/httpapi"
	"pharmacy/backend/internal/lock"
	"pharmacy/backend/internal/logger"
	"pharmacy/backend/internal/metrics"
	"pharmacy/backend/internal/service"
	"pharmacy/backend/internal/store"
	"pharmacy/backend/internal/store/memory"
	pgstore "pharmacy/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				log.Warn("close error", zap.Error(err))
			}
		}
	}()

	repo, closeRepo, err := buildRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	locker, closeLocker := buildLocker(ctx, cfg, log)
	if closeLocker != nil {
		closers = append(closers, closeLocker)
	}

	m := metrics.New("pharmacy")
	svc := service.New(repo, locker, log,
		service.WithMetrics(m),
		service.WithPhoneRegion(cfg.PhoneRegion),
	)
	api := httpapi.New(svc, log, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		RateLimit:     cfg.RateLimitRPS,
		RateBurst:     cfg.RateLimitBurst,
		MaxBodyBytes:  cfg.MaxBodyBytes,
		Metrics:       m,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("pharmacy backend listening", zap.String("addr", cfg.Address()), zap.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case s := <-sig:
		log.Info("shutting down", zap.String("signal", s.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

// buildRepository refuses to fall back to memory when DATABASE_URL is set
// but unreachable, since sales would silently stop being durable.
func buildRepository(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Repository, func() error, error) {
	if cfg.DatabaseURL == "" {
		log.Info("repository: in-memory", zap.Bool("demo_data", cfg.SeedDemoData))
		if cfg.SeedDemoData {
			return memory.NewSeeded(), nil, nil
		}
		return memory.New(), nil, nil
	}

	if cfg.AutoMigrate {
		migrator, err := pgstore.NewMigrator(cfg.DatabaseURL, log.Named("migrate"))
		if err != nil {
			return nil, nil, fmt.Errorf("prepare migrations: %w", err)
		}
		upErr := migrator.Up()
		closeErr := migrator.Close()
		if err := errors.Join(upErr, closeErr); err != nil {
			return nil, nil, err
		}
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
	}
	log.Info("repository: postgres")
	return pg, pg.Close, nil
}

// buildLocker prefers Redis so that several instances serialise edits of
// the same sale; without it the lock is process-local.
func buildLocker(ctx context.Context, cfg config.Config, log *zap.Logger) (lock.Locker, func() error) {
	if cfg.RedisAddr == "" {
		log.Info("sale lock: local")
		return lock.NewLocal(), nil
	}

	redisLock := lock.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SaleLockTTL)
	if err := redisLock.Ping(ctx); err != nil {
		log.Warn("redis unavailable, using local sale lock", zap.Error(err))
		_ = redisLock.Close()
		return lock.NewLocal(), nil
	}
	log.Info("sale lock: redis", zap.String("addr", cfg.RedisAddr))
	return redisLock, redisLock.Close
}
