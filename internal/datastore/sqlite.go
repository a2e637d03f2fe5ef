package datastore

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mindtrack/mindtrack-go/internal/conf"
	"github.com/mindtrack/mindtrack-go/internal/logging"
)

// SQLiteStore is the single-node backend, mainly for development and tests.
// It has no notification channel; the listener is disabled with it.
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// Open opens the SQLite database and migrates the schema.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Database.SQLite.Path
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("opening sqlite database %q: %w", path, err)
	}

	store.DB = db
	return performAutoMigration(db)
}

// Close closes the underlying connection.
func (store *SQLiteStore) Close() error {
	if store.DB == nil {
		return nil
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// EnsureNotifyTrigger is a no-op on SQLite; there is no notification channel
// to feed, the store still remains the source of truth.
func (store *SQLiteStore) EnsureNotifyTrigger() error {
	logging.ForService("datastore").Debug("sqlite backend has no notify trigger, skipping")
	return nil
}
