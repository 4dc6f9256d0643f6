package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"

	"github.com/therapy-match-server/internal/domain"
)

// ErrDirtySchema is returned when a previous migration failed half way and
// the schema needs manual repair before migrating again.
var ErrDirtySchema = errors.New("database schema is dirty")

// MigrationRunner applies the matching schema migrations
type MigrationRunner struct {
	migrate *migrate.Migrate
	log     *logrus.Logger
	source  string
}

// migrateLogger routes golang-migrate output through logrus at debug level.
type migrateLogger struct {
	entry *logrus.Entry
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.entry.Debugf(strings.TrimSuffix(format, "\n"), v...)
}

func (l migrateLogger) Verbose() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}

// NewMigrationRunner creates a runner for the SQL files in migrationsPath.
// A bare directory is treated as a file:// source.
func NewMigrationRunner(databaseURL, migrationsPath string, logger *logrus.Logger) (*MigrationRunner, error) {
	source := migrationsPath
	if !strings.Contains(source, "://") {
		source = "file://" + source
	}

	m, err := migrate.New(source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening migrations from %s: %w", source, err)
	}
	m.Log = migrateLogger{entry: logger.WithField("component", "migrate")}

	return &MigrationRunner{
		migrate: m,
		log:     logger,
		source:  source,
	}, nil
}

// Up applies every pending migration. A dirty schema is reported as
// ErrDirtySchema without touching the database.
func (mr *MigrationRunner) Up(ctx context.Context) error {
	if _, dirty, err := mr.Version(); err == nil && dirty {
		return ErrDirtySchema
	}
	return mr.run(ctx, "up", mr.migrate.Up)
}

// Down rolls back the most recent migration.
func (mr *MigrationRunner) Down(ctx context.Context) error {
	return mr.run(ctx, "down", func() error { return mr.migrate.Steps(-1) })
}

// run executes step and stops golang-migrate between files once ctx ends.
func (mr *MigrationRunner) run(ctx context.Context, direction string, step func() error) error {
	logger := mr.log.WithFields(logrus.Fields{
		"direction": direction,
		"source":    mr.source,
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			select {
			case mr.migrate.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()

	err := step()
	select {
	case <-mr.migrate.GracefulStop:
	default:
	}
	switch {
	case errors.Is(err, migrate.ErrNoChange), errors.Is(err, migrate.ErrNilVersion):
		logger.Info("Schema already up to date")
		return nil
	case err != nil:
		return fmt.Errorf("migrating %s: %w", direction, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("migrating %s: %w", direction, ctxErr)
	}

	version, dirty, verr := mr.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		logger.WithError(verr).Warn("Migrated, but could not read schema version")
		return nil
	}
	logger.WithFields(logrus.Fields{
		"version": version,
		"dirty":   dirty,
	}).Info("Schema migrated")
	return nil
}

// Version returns the current migration version
func (mr *MigrationRunner) Version() (uint, bool, error) {
	return mr.migrate.Version()
}

// Close releases the migration source and database handles.
func (mr *MigrationRunner) Close() error {
	srcErr, dbErr := mr.migrate.Close()
	return errors.Join(srcErr, dbErr)
}

// Migrate runs all pending migrations and closes the runner.
func Migrate(ctx context.Context, cfg domain.DatabaseConfig, logger *logrus.Logger) error {
	runner, err := NewMigrationRunner(URL(cfg), cfg.MigrationsPath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := runner.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close migration runner")
		}
	}()
	return runner.Up(ctx)
}
