package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/collab-platform/internal/api"
	"github.com/example/collab-platform/internal/api/middleware"
	"github.com/example/collab-platform/internal/auth"
	"github.com/example/collab-platform/internal/command"
	"github.com/example/collab-platform/internal/config"
	"github.com/example/collab-platform/internal/domain/article"
	"github.com/example/collab-platform/internal/domain/group"
	"github.com/example/collab-platform/internal/domain/tag"
	"github.com/example/collab-platform/internal/domain/user"
	"github.com/example/collab-platform/internal/infrastructure/kafka"
	"github.com/example/collab-platform/internal/infrastructure/store"
	"github.com/example/collab-platform/internal/livefeed"
	"github.com/example/collab-platform/internal/logger"
	"github.com/example/collab-platform/internal/migrate/schema"
	"github.com/example/collab-platform/internal/projection"
	"github.com/example/collab-platform/internal/query"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logger.New(cfg.LogLevel, logger.Format(cfg.LogFormat))
	defer func() { _ = log.Sync() }()

	if err := cfg.RequireJWTSecret(); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log.Named("api")); err != nil {
		log.Fatalw("API stopped", "error", err)
	}
	log.Info("Successful shutdown. Exiting.")
}

func run(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	log.Infow("Starting collab API",
		"addr", cfg.HTTPAddr,
		"store", cfg.Store,
		"event_bus", cfg.EventBus,
	)

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))

	var (
		db        *sql.DB
		readStore store.ReadStoreInterface
	)
	switch cfg.Store {
	case "postgres":
		var err error
		db, err = store.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer db.Close()
		health.AddReadinessCheck("database", healthcheck.DatabasePingCheck(db, time.Second))

		if cfg.MigrateOnStart {
			if err := migrateUp(ctx, db, log.Named("migrate")); err != nil {
				return err
			}
		}
		readStore = store.NewPostgresReadStore(db)
	default:
		readStore = store.NewReadStore()
	}

	feeds := livefeed.NewServer(readStore, cfg.CountCacheTTL, log.Named("livefeed"))
	projector := projection.NewProjector(readStore, feeds, log.Named("projector"))

	var publisher store.Publisher = projector
	var consumer *kafka.Consumer
	if cfg.EventBus == "kafka" {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		publisher = producer
		consumer = kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.ConsumerGroup, log.Named("kafka"))
		defer consumer.Close()
	}

	var eventStore store.EventStoreInterface
	if db != nil {
		eventStore = store.NewPostgresEventStore(db, publisher)
	} else {
		eventStore = store.NewEventStore(publisher)
	}

	n, err := projector.Replay(ctx, eventStore)
	if err != nil {
		return fmt.Errorf("replay after %d events: %w", n, err)
	}

	userSvc := user.NewService(eventStore)
	cmdHandler := command.NewHandler(
		article.NewService(eventStore),
		tag.NewService(eventStore, command.TagSlugTaken(readStore)),
		group.NewService(eventStore),
		userSvc,
		readStore,
	)
	queryHandler := query.NewHandler(readStore, log.Named("query"))
	for _, pub := range queryHandler.Publications() {
		if err := feeds.Register(pub); err != nil {
			return err
		}
	}

	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.AccessTokenExpiry, cfg.RefreshTokenExpiry)
	router := api.NewRouter(api.RouterConfig{
		Handlers:     api.NewHandlers(cmdHandler, queryHandler, log.Named("handlers")),
		AuthHandlers: api.NewAuthHandlers(cmdHandler, queryHandler, userSvc, jwtService, readStore, log.Named("auth")),
		FeedHandlers: api.NewFeedHandlers(feeds, nil, log.Named("feeds")),
		JWT:          jwtService,
		RateLimiter:  middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute),
		Health:       health,
		Logger:       log.Named("http"),
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if consumer != nil {
		g.Go(func() error {
			log.Infow("Consuming events", "topic", cfg.KafkaTopic, "group", cfg.ConsumerGroup)
			err := consumer.Consume(gctx, projector.HandleEvent)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		log.Infow("Listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func migrateUp(ctx context.Context, db *sql.DB, log *zap.SugaredLogger) error {
	runner, err := schema.NewRunner(ctx, db, log)
	if err != nil {
		return fmt.Errorf("prepare migrations: %w", err)
	}
	applied, err := runner.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Infow("Schema up to date", "applied", applied, "version", runner.Latest())
	return nil
}
