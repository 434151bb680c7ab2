// Command migrate applies or rolls back the Postgres schema.
//
//	migrate up | down | version
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"pharmacy/backend/internal/config"
	"pharmacy/backend/internal/logger"
	pgstore "pharmacy/backend/internal/store/postgres"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [up|down|version]")
		flag.PrintDefaults()
	}
	flag.Parse()

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}
	switch command {
	case "up", "down", "version":
	default:
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(command, cfg.DatabaseURL, log); err != nil {
		log.Error("migration failed", zap.String("command", command), zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(command, databaseURL string, log *zap.Logger) (err error) {
	m, err := pgstore.NewMigrator(databaseURL, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); err == nil {
			err = closeErr
		}
	}()

	switch command {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		log.Info("schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
