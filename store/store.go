package store

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/mcbagz/ladchat/internal/profile"
	"github.com/mcbagz/ladchat/internal/version"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// Migrate applies the schema when the recorded schema version is behind the binary's.
func (s *Store) Migrate(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check database initialization")
	}
	if initialized {
		history, err := s.driver.ListMigrationHistory(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to list migration history")
		}
		if latest := version.Latest(history); latest != "" && version.IsVersionGreaterOrEqualThan(latest, version.SchemaVersion) {
			slog.Debug("database schema is up to date", "version", latest)
			return nil
		}
	}

	slog.Info("migrating database schema", "target", version.SchemaVersion)
	if err := s.driver.Migrate(ctx); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}
	return nil
}
