package datastore

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mindtrack/mindtrack-go/internal/conf"
	"github.com/mindtrack/mindtrack-go/internal/logging"
)

// PostgresStore is the production backend. Suggestion inserts fire a
// NOTIFY on the configured channel, which the change listener consumes.
type PostgresStore struct {
	DataStore
	Settings *conf.Settings
}

// Open connects to Postgres and migrates the schema.
func (store *PostgresStore) Open() error {
	dsn := store.Settings.Database.Postgres.DSN
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("opening postgres database: %w", err)
	}

	store.DB = db
	return performAutoMigration(db)
}

// Close closes the underlying connection pool.
func (store *PostgresStore) Close() error {
	if store.DB == nil {
		return nil
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// notifyTriggerSQL installs, once, a trigger that emits a NOTIFY for every
// suggestion insert. The payload mirrors what the change listener parses.
const notifyTriggerSQL = `
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_trigger WHERE tgname='trg_suggestions_notify_insert'
  ) THEN
    CREATE OR REPLACE FUNCTION notify_suggestions_insert() RETURNS trigger AS $BODY$
    DECLARE
      payload JSON;
    BEGIN
      payload := json_build_object(
        'event','insert',
        'table', TG_TABLE_NAME,
        'id', NEW.id,
        'userId', NEW.user_id,
        'ts', EXTRACT(EPOCH FROM clock_timestamp())::bigint
      );
      PERFORM pg_notify('suggestions_channel', payload::text);
      RETURN NEW;
    END;
    $BODY$ LANGUAGE plpgsql;

    CREATE TRIGGER trg_suggestions_notify_insert
      AFTER INSERT ON public.suggestions
      FOR EACH ROW
      EXECUTE FUNCTION notify_suggestions_insert();
  END IF;
END $$;
`

// EnsureNotifyTrigger installs the suggestions notify trigger if missing.
func (store *PostgresStore) EnsureNotifyTrigger() error {
	if err := store.DB.Exec(notifyTriggerSQL).Error; err != nil {
		return fmt.Errorf("ensuring suggestions notify trigger: %w", err)
	}
	logging.ForService("datastore").Info("suggestions notify trigger ensured",
		"channel", store.Settings.Listener.Channel)
	return nil
}
