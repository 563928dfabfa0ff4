package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rentloop/lease-coordinator/internal/bus"
	"github.com/rentloop/lease-coordinator/internal/config"
	"github.com/rentloop/lease-coordinator/internal/coordination"
	"github.com/rentloop/lease-coordinator/internal/lease"
	"github.com/rentloop/lease-coordinator/internal/notification"
	"github.com/rentloop/lease-coordinator/internal/presence"
	"github.com/rentloop/lease-coordinator/internal/refund"
	"github.com/rentloop/lease-coordinator/internal/review"
	"github.com/rentloop/lease-coordinator/internal/scanner"
	"github.com/rentloop/lease-coordinator/internal/storage"
)

const scanLockKey = "lease-coordinator:scanner"

// app holds the wired services shared by the commands
type app struct {
	cfg   *config.Config
	store *storage.SQLStore
	rdb   redis.UniversalClient
	nc    *nats.Conn

	ledger    *notification.Ledger
	bus       *bus.Bus
	presence  presence.Service
	cluster   *presence.Cluster
	leases    *lease.Manager
	evaluator *refund.Evaluator
	scanner   *scanner.Scanner
	reviews   *review.Service
}

// loadConfig loads the configuration and sets up logging
func loadConfig() (*config.Config, error) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	cfg.LogSummary()
	return cfg, nil
}

func openStore(cfg *config.Config) (*storage.SQLStore, error) {
	store, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN, storage.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("Connected to database")
	return store, nil
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info().Str("addr", cfg.Addr).Msg("Connected to Redis")
	return rdb, nil
}

func connectNATS(cfg *config.Config) (*nats.Conn, error) {
	name := cfg.NATS.ClientID
	if name == "" {
		name = cfg.Server.Name + "-" + cfg.Server.NodeID
	}

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name(name),
		nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
		nats.ReconnectWait(cfg.NATS.ReconnectInterval),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Msg("Reconnected to NATS")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			ev := log.Error().Err(err)
			if sub != nil {
				ev = ev.Str("subject", sub.Subject)
			}
			ev.Msg("NATS error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info().Str("url", cfg.NATS.URL).Msg("Connected to NATS")
	return nc, nil
}

// newApp connects the configured backends and wires the services
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: store}

	if cfg.Redis.Addr != "" {
		if a.rdb, err = connectRedis(ctx, cfg.Redis); err != nil {
			a.Close()
			return nil, err
		}
	}

	if cfg.NATS.URL != "" {
		if a.nc, err = connectNATS(cfg); err != nil {
			if cfg.Presence.Mode == "cluster" {
				a.Close()
				return nil, err
			}
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without payments intake")
		}
	} else {
		log.Info().Msg("NATS not configured, running in standalone mode")
	}

	a.ledger = notification.NewLedger(store, nil)

	if cfg.Presence.Mode == "cluster" {
		a.cluster = presence.NewCluster(a.rdb, presence.NewNATSRelay(a.nc), cfg.Server.NodeID, cfg.Presence.TTL)
		a.presence = a.cluster
	} else {
		a.presence = presence.NewLocal()
	}

	a.bus = bus.New(a.presence, a.ledger)
	a.ledger.SetPublisher(a.bus)

	a.leases = lease.NewManager(store, a.ledger)
	a.evaluator = refund.NewEvaluator(store, a.ledger)

	var locker scanner.Locker
	if cfg.Scanner.DistributedLock && a.rdb != nil {
		locker = coordination.NewTickLock(a.rdb, scanLockKey, cfg.Scanner.LockTTL)
	}
	a.scanner = scanner.New(store, a.leases, a.ledger, a.evaluator, locker, scanner.Config{
		Interval:       cfg.Scanner.Interval,
		ItemTimeout:    cfg.Scanner.ItemTimeout,
		BatchSize:      cfg.Scanner.BatchSize,
		ReviewLinkBase: cfg.Notifications.ReviewLinkBase,
	})

	var analyzer review.Analyzer
	if cfg.Enrichment.URL != "" {
		analyzer = review.NewHTTPAnalyzer(cfg.Enrichment.URL, cfg.Enrichment.Headers, cfg.Enrichment.Timeout)
	}
	a.reviews = review.NewService(store, a.ledger, analyzer, cfg.Enrichment.Timeout)

	return a, nil
}

// Close releases backend connections
func (a *app) Close() {
	if a.reviews != nil {
		a.reviews.Wait()
	}
	if a.nc != nil {
		a.nc.Close()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			log.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close database")
	}
}
