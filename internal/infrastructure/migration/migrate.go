package migration

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// Runner applies SQL migrations from a directory against the database
type Runner struct {
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// NewRunner creates a migration runner for the given database URL and
// migrations directory
func NewRunner(databaseURL, migrationsPath string, logger *zap.Logger) (*Runner, error) {
	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	return &Runner{migrate: m, logger: logger}, nil
}

// Up applies every pending migration
func (r *Runner) Up() error {
	err := r.migrate.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("schema is up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return r.logVersion("migrations applied")
}

// Down rolls back the most recent migration
func (r *Runner) Down() error {
	err := r.migrate.Steps(-1)
	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("nothing to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return r.logVersion("migration rolled back")
}

// Version returns the current schema version; ok is false before the first
// migration has been applied.
func (r *Runner) Version() (version uint, dirty bool, ok bool, err error) {
	version, dirty, err = r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, true, nil
}

// Force overwrites the recorded schema version without running migrations.
// Only for recovering a dirty schema after a failed migration.
func (r *Runner) Force(version int) error {
	if err := r.migrate.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	r.logger.Warn("schema version forced", zap.Int("version", version))
	return nil
}

// Close releases the source and database handles
func (r *Runner) Close() error {
	sourceErr, dbErr := r.migrate.Close()
	if sourceErr != nil {
		return sourceErr
	}
	return dbErr
}

func (r *Runner) logVersion(msg string) error {
	version, dirty, ok, err := r.Version()
	if err != nil {
		return err
	}
	if ok {
		r.logger.Info(msg, zap.Uint("version", version), zap.Bool("dirty", dirty))
	}
	return nil
}
