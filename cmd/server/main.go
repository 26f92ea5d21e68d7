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

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/photo-hunt/internal/config"
	"github.com/photo-hunt/internal/handler"
	"github.com/photo-hunt/internal/kafka"
	"github.com/photo-hunt/internal/memory"
	"github.com/photo-hunt/internal/nats"
	"github.com/photo-hunt/internal/oracle"
	"github.com/photo-hunt/internal/postgres"
	"github.com/photo-hunt/internal/redis"
	"github.com/photo-hunt/internal/service"
	"github.com/photo-hunt/internal/websocket"
	"github.com/photo-hunt/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	logger.Warn("config file not found, using defaults", "path", path)
	cfg = config.DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, configPath string) error {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg, err := loadConfig(configPath, bootLogger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	origin := uuid.NewString()
	logger = logger.With("instance", origin)

	// --- Store ---
	var store service.Store
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store, state is lost on restart")
		store = memory.New()
	default:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer repo.Close()
		if err := repo.RunMigrations(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		store = repo
	}

	// --- Standings cache ---
	var cache service.StandingsCache
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		standings, err := redis.NewStandingsCache(&cfg.Redis, logger)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer standings.Close()
		cache = standings
	}

	// --- Event fanout ---
	hub := websocket.NewHub(logger)
	go hub.Run()
	defer hub.Stop()

	publishers := []service.Publisher{hub}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(&cfg.Kafka, origin, logger)
		if err != nil {
			logger.Warn("kafka producer unavailable, continuing without kafka", "error", err)
		} else {
			defer producer.Close()
			publishers = append(publishers, producer)
		}
	}

	var bus *nats.Bus
	if cfg.NATS.Enabled {
		bus, err = nats.Connect(&cfg.NATS, origin, logger)
		if err != nil {
			logger.Warn("nats unavailable, continuing without nats", "error", err)
		} else {
			defer bus.Close()
			publishers = append(publishers, bus)
			if err := bus.Relay(hub); err != nil {
				logger.Warn("nats relay disabled", "error", err)
			}
		}
	}

	// --- Engine ---
	clock := clockwork.NewRealClock()
	svc := service.New(service.Options{
		Store:       store,
		Oracle:      oracle.New(cfg.Oracle, logger),
		Cache:       cache,
		Publishers:  publishers,
		Clock:       clock,
		Game:        cfg.Game,
		Leaderboard: cfg.Leaderboard,
		Logger:      logger,
	})

	refresher := worker.NewRefresher(svc.Ranking, &cfg.Refresh, clock, logger)

	// --- HTTP server ---
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.NewHandler(svc, hub, &cfg.Server, logger).Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Refresh.Enabled {
		refresher.RunOnce(gctx)
		if err := refresher.Start(gctx); err != nil {
			return fmt.Errorf("starting refresher: %w", err)
		}
	}

	var relay *kafka.Relay
	if producer != nil && cfg.Kafka.Relay {
		relay, err = kafka.NewRelay(&cfg.Kafka, origin, hub, logger)
		if err != nil {
			logger.Warn("kafka relay unavailable", "error", err)
		} else {
			g.Go(func() error {
				if err := relay.Start(); err != nil && gctx.Err() == nil {
					logger.Warn("kafka relay stopped", "error", err)
				}
				return nil
			})
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if relay != nil {
			if err := relay.Stop(); err != nil {
				logger.Error("failed to stop kafka relay", "error", err)
			}
		}
		if cfg.Refresh.Enabled {
			if err := refresher.Stop(); err != nil {
				logger.Error("failed to stop refresher", "error", err)
			}
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
