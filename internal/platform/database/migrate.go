package database

import (
	"errors"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	pkgerrors "github.com/pkg/errors"
)

// Migrate applies every pending Postgres migration from sourceURL.
// It returns the schema version after the run.
func Migrate(sourceURL, connStr string) (uint, error) {
	m, err := migrate.New(sourceURL, connStr)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "initialize migrations")
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, pkgerrors.Wrap(err, "apply migrations")
	}
	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, pkgerrors.Wrap(err, "read migration version")
	}
	return version, nil
}
