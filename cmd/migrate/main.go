package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"

	"github.com/templeseva/darshan/config"
	"github.com/templeseva/darshan/internal/logger"
	"github.com/templeseva/darshan/internal/repository"
)

func main() {
	steps := flag.Int("steps", 0, "number of migrations to roll back with down; 0 rolls back all")
	flag.Parse()

	direction := flag.Arg(0)
	if direction == "" {
		direction = "up"
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	migrateLog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	src, err := iofs.New(repository.Migrations, "migrations")
	if err != nil {
		migrateLog.WithError(err).Fatal("open migrations")
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, cfg.Database.URL("pgx5"))
	if err != nil {
		migrateLog.WithError(err).Fatal("init migrate")
	}
	defer m.Close()

	if err := apply(m, direction, *steps, migrateLog); err != nil {
		migrateLog.WithError(err).WithField("direction", direction).Fatal("migrate")
	}
}

type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
}

// apply runs one direction and logs the resulting schema version.
// ErrNoChange is not a failure.
func apply(m migrator, direction string, steps int, log logrus.FieldLogger) error {
	var err error
	switch direction {
	case "up":
		err = m.Up()
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	default:
		return fmt.Errorf("unknown direction %q, want up or down", direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read version: %w", err)
	}
	log.WithFields(logrus.Fields{
		"direction": direction,
		"version":   version,
		"dirty":     dirty,
	}).Info("migrations done")
	return nil
}
