// Command migrate moves the postgres invoice schema between versions.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/imagebot/backend/internal/infrastructure/config"
	"github.com/imagebot/backend/internal/infrastructure/logger"
	"github.com/imagebot/backend/internal/infrastructure/migration"
	"github.com/imagebot/backend/internal/infrastructure/persistence"
	"go.uber.org/zap"
)

const usage = `Usage: migrate [-log-level LEVEL] <command>

Commands:
  up         apply all pending migrations
  down       revert all migrations
  steps N    move N versions (negative N reverts)
  version    print the applied schema version

Configuration comes from config.toml and IMAGEBOT_* environment variables.
`

var errUsage = errors.New("usage")

func main() {
	level := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	log, err := logger.New(&logger.Config{Level: *level, Format: "console", TimeFormat: "15:04:05", Service: "migrate"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	err = run(flag.Args(), log)
	_ = logger.Sync(log)
	switch {
	case errors.Is(err, errUsage):
		flag.Usage()
		os.Exit(2)
	case err != nil:
		log.Error("Migration failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(args []string, log *zap.Logger) error {
	if len(args) == 0 {
		return errUsage
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("driver %q is auto-migrated at startup; migrate only serves postgres", cfg.Database.Driver)
	}

	db, err := persistence.NewDatabase(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	m, err := migration.New(sqlDB, log)
	if err != nil {
		return err
	}
	defer m.Close()

	switch args[0] {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "steps":
		if len(args) != 2 {
			return errUsage
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n == 0 {
			return errUsage
		}
		return m.Steps(n)
	case "version":
		v, dirty, err := m.Version()
		if err != nil {
			return err
		}
		log.Info("Schema version", zap.Uint("version", v), zap.Bool("dirty", dirty))
		return nil
	}
	return errUsage
}
