package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/michaelmcclelland/orderflow/internal/config"
	"github.com/michaelmcclelland/orderflow/internal/logging"
)

// Usage: migrate [up|down|version]
func main() {
	cfg, loadErr := config.LoadOrEnv()
	if cfg == nil {
		slog.Error("loading config", "error", loadErr)
		os.Exit(1)
	}

	logger, closer := logging.New("migrate", cfg.Log)
	if loadErr != nil {
		logger.Info("using env config", "reason", loadErr)
	}

	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	if err := run(cfg, direction, logger); err != nil {
		logger.Error("migration failed", "direction", direction, "error", err)
		closer.Close()
		os.Exit(1)
	}
	closer.Close()
}

func run(cfg *config.Config, direction string, logger *slog.Logger) error {
	m, err := migrate.New(cfg.Migration.Path, cfg.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	logger.Info("running migrations",
		"source", cfg.Migration.Path,
		"host", cfg.Postgres.Host,
		"db", cfg.Postgres.Database,
		"direction", direction,
	)

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "version":
	default:
		return fmt.Errorf("unknown direction %q (want up, down or version)", direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		logger.Info("no migrations applied")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", version)
	}
	logger.Info("schema up to date", "version", version)
	return nil
}
