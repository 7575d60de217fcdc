package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nikolayk812/gomarketplace-cart/internal/cart"
	"github.com/nikolayk812/gomarketplace-cart/internal/config"
	"github.com/nikolayk812/gomarketplace-cart/internal/httpapi"
	"github.com/nikolayk812/gomarketplace-cart/internal/kv"
	"github.com/nikolayk812/gomarketplace-cart/internal/logger"
	"github.com/nikolayk812/gomarketplace-cart/internal/repository"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:          "cartd",
		Short:        "Marketplace shopping cart",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional env file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the cart over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return fmt.Errorf("config.Load: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}

	root.AddCommand(serveCmd)
	return root
}

func serve(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.New(logger.Options{
		Service: "cartd",
		Env:     cfg.AppEnv,
		Level:   cfg.LogLevel,
	})
	slog.SetDefault(log)

	store, err := kv.Open(ctx, cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("kv.Open: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("kv close failed", "error", err)
		}
	}()

	repo, err := repository.NewCart(store, cfg.StorageKey)
	if err != nil {
		return fmt.Errorf("repository.NewCart: %w", err)
	}

	cartStore := cart.New(repo,
		cart.WithLogger(log),
		cart.WithAddPolicy(cfg.AddPolicy),
		cart.WithLoadPolicy(cfg.LoadPolicy),
		cart.WithCurrency(cfg.Currency),
	)
	if err := cartStore.Start(ctx); err != nil {
		return fmt.Errorf("cartStore.Start: %w", err)
	}

	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpapi.NewRouter(cartStore, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http listening", "addr", srv.Addr, "storage", cfg.Storage.Driver, "add_policy", cfg.AddPolicy.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("srv.ListenAndServe: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("srv.Shutdown: %w", err))
		}
		if err := cartStore.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("cartStore.Close: %w", err))
		}

		log.Info("shutdown complete")
		return errors.Join(errs...)
	})

	return g.Wait()
}
