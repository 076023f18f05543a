package commands

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/ayu2310/Wflow/config"
	"github.com/ayu2310/Wflow/db"
	"github.com/ayu2310/Wflow/errors"
	"github.com/ayu2310/Wflow/logger"
)

// openDatabase opens the configured database and applies pending
// migrations. An explicit path overrides the configuration.
func openDatabase(path string) (*sql.DB, error) {
	if path == "" {
		var err error
		path, err = config.GetDatabasePath()
		if err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), config.DefaultDirPermissions); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	database, err := db.Open(path, logger.Logger)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return database, nil
}
