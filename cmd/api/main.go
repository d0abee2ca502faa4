package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/moneybook/internal/api"
	"github.com/punchamoorthee/moneybook/internal/auth"
	"github.com/punchamoorthee/moneybook/internal/config"
	"github.com/punchamoorthee/moneybook/internal/events"
	"github.com/punchamoorthee/moneybook/internal/log"
	"github.com/punchamoorthee/moneybook/internal/service"
	"github.com/punchamoorthee/moneybook/internal/store"
	"github.com/punchamoorthee/moneybook/internal/store/memory"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.New(log.DefaultConfig()).Error("Server exited with error", log.FieldError, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: log.ComponentApp,
		Output:    os.Stdout,
	})
	log.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Layers
	var (
		repo   store.Repository
		pinger api.Pinger
	)
	switch cfg.DataBackend {
	case config.BackendMemory:
		repo = memory.New()
		logger.Warn("Using in-memory backend, data is lost on restart", "backend", cfg.DataBackend)
	default:
		logger.Info("Running database migrations", log.FieldOperation, log.OpMigrate)
		if err := store.RunMigrations(cfg.DBSource); err != nil {
			return err
		}
		pool, err := store.NewPool(ctx, cfg.DBSource)
		if err != nil {
			return err
		}
		defer pool.Close()
		ledgerStore := store.NewLedgerStore(pool)
		repo, pinger = ledgerStore, ledgerStore
	}

	var publisher service.EventPublisher = events.Nop{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("Failed to initialize AMQP publisher, ledger events disabled", log.FieldError, err)
		} else {
			defer amqpPublisher.Close()
			publisher = amqpPublisher
			logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	handler := api.NewHandler(api.Services{
		Ledger:     service.NewLedgerService(repo, publisher, logger),
		Accounts:   service.NewAccountService(repo, logger),
		Categories: service.NewCategoryService(repo, logger),
		Users:      service.NewUserService(repo, auth.NewHasher(cfg.BcryptCost), tokens, logger),
	}, pinger, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, tokens),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server starting", "port", cfg.Port, "backend", cfg.DataBackend, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received", log.FieldOperation, log.OpShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
