// Command migrate applies, rolls back or reports the PostgreSQL schema
// version.
//
//	migrate up
//	migrate down --to 2
//	migrate status
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/example/collab-platform/internal/config"
	"github.com/example/collab-platform/internal/infrastructure/store"
	"github.com/example/collab-platform/internal/logger"
	"github.com/example/collab-platform/internal/migrate/schema"
)

const usage = `usage: migrate [flags] <up|down|status>

flags:
`

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	fs := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	fs.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "PostgreSQL connection string")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	target := fs.Int("to", -1, "version to roll back to (down only)")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}

	log := logger.New(cfg.LogLevel, logger.Format(cfg.LogFormat)).Named("migrate")
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg.DatabaseURL, fs.Arg(0), *target, log); err != nil {
		log.Fatalw("Migration failed", "command", fs.Arg(0), "error", err)
	}
}

func run(ctx context.Context, databaseURL, command string, target int, log *zap.SugaredLogger) error {
	db, err := store.ConnectPostgres(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	runner, err := schema.NewRunner(ctx, db, log)
	if err != nil {
		return err
	}

	switch command {
	case "up":
		applied, err := runner.Up(ctx)
		if err != nil {
			return err
		}
		log.Infow("Migrated up", "applied", applied, "version", runner.Latest())
	case "down":
		if target < 0 {
			return errors.New("down needs --to")
		}
		reverted, err := runner.Down(ctx, target)
		if err != nil {
			return err
		}
		log.Infow("Rolled back", "reverted", reverted, "version", target)
	case "status":
		st, err := runner.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("applied: %d\nlatest:  %d\npending: %v\n", st.Applied, st.Latest, st.Pending)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}
