// Command notifier emails group members when an article in their group is
// published.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
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
	"github.com/example/collab-platform/internal/email"
	"github.com/example/collab-platform/internal/infrastructure/kafka"
	"github.com/example/collab-platform/internal/infrastructure/store"
	"github.com/example/collab-platform/internal/logger"
	"github.com/example/collab-platform/internal/notification"
)

const consumerGroup = "email-notifier"

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

	if err := run(ctx, cfg, log.Named("notifier")); err != nil {
		log.Fatalw("Notifier stopped", "error", err)
	}
	log.Info("Successful shutdown. Exiting.")
}

func run(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	log.Infow("Starting notifier",
		"brokers", cfg.KafkaBrokers,
		"topic", cfg.KafkaTopic,
		"group", cfg.ConsumerGroup,
		"smtp", net.JoinHostPort(cfg.SMTPHost, cfg.SMTPPort),
		"from", cfg.SMTPFrom,
	)

	db, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000))
	health.AddReadinessCheck("database", healthcheck.DatabasePingCheck(db, time.Second))
	health.AddReadinessCheck("smtp", healthcheck.TCPDialCheck(net.JoinHostPort(cfg.SMTPHost, cfg.SMTPPort), time.Second))

	mailer := email.NewService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.PublicURL)
	handler := notification.NewHandler(mailer, store.NewPostgresReadStore(db), log)
	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.ConsumerGroup, log.Named("kafka")).
		Only(handler.EventTypes()...)
	defer consumer.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.LiveEndpoint)
	mux.HandleFunc("GET /ready", health.ReadyEndpoint)
	mux.Handle("GET /metrics", promhttp.Handler())
	server := &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := consumer.Consume(gctx, handler.HandleEvent)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
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
