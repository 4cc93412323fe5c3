// Command projector consumes domain events from Kafka and maintains the
// PostgreSQL read models.
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

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/collab-platform/internal/config"
	"github.com/example/collab-platform/internal/infrastructure/kafka"
	"github.com/example/collab-platform/internal/infrastructure/store"
	"github.com/example/collab-platform/internal/logger"
	"github.com/example/collab-platform/internal/projection"
)

const consumerGroup = "projector"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if cfg.ConsumerGroup == config.DefaultConsumerGroup {
		cfg.ConsumerGroup = consumerGroup
	}
	log := logger.New(cfg.LogLevel, logger.Format(cfg.LogFormat))
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log.Named("projector")); err != nil {
		log.Fatalw("Projector stopped", "error", err)
	}
	log.Info("Successful shutdown. Exiting.")
}

func run(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	log.Infow("Starting projector",
		"brokers", cfg.KafkaBrokers,
		"topic", cfg.KafkaTopic,
		"group", cfg.ConsumerGroup,
	)

	db, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000))
	health.AddReadinessCheck("database", healthcheck.DatabasePingCheck(db, time.Second))

	projector := projection.NewProjector(store.NewPostgresReadStore(db), nil, log)
	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.ConsumerGroup, log.Named("kafka"))
	defer consumer.Close()

	return serveAndConsume(ctx, cfg.HTTPAddr, health, func(ctx context.Context) error {
		return consumer.Consume(ctx, projector.HandleEvent)
	}, log)
}

// serveAndConsume runs consume next to a health and metrics listener until
// ctx ends or either fails.
func serveAndConsume(ctx context.Context, addr string, health healthcheck.Handler, consume func(context.Context) error, log *zap.SugaredLogger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.LiveEndpoint)
	mux.HandleFunc("GET /ready", health.ReadyEndpoint)
	mux.Handle("GET /metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := consume(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		log.Infow("Health endpoint listening", "addr", addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
