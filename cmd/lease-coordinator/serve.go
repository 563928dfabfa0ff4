package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rentloop/lease-coordinator/internal/api"
	"github.com/rentloop/lease-coordinator/internal/auth"
	"github.com/rentloop/lease-coordinator/internal/payments"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API, expiry scanner and payments intake",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.JWT.Secret == "" {
		return fmt.Errorf("jwt secret is required to serve the API")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	apiServer := api.NewRESTServer(cfg.API, api.Dependencies{
		Store:   a.store,
		Leases:  a.leases,
		Ledger:  a.ledger,
		Bus:     a.bus,
		Reviews: a.reviews,
		Auth:    auth.NewJWTManager(cfg.JWT.Secret),
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("REST API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
		}
		return nil
	})

	a.scanner.Start(gctx)
	defer a.scanner.Stop()

	if a.cluster != nil {
		g.Go(func() error {
			return a.cluster.Run(gctx)
		})
	}

	if a.nc != nil {
		subscriber := payments.NewSubscriber(a.nc, a.store, a.ledger, a.bus)
		g.Go(func() error {
			return subscriber.Start(gctx)
		})
	}

	err = g.Wait()
	log.Info().Msg("Lease coordinator stopped")
	return err
}
