package telemetry

import (
	"database/sql"

	"codeberg.org/mutker/datasyncd/internal/errors"
)

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS pipeline_events (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            timestamp INTEGER NOT NULL,
            component TEXT NOT NULL,
            event TEXT NOT NULL,
            detail TEXT,
            value REAL
        );
        CREATE INDEX IF NOT EXISTS idx_pipeline_events_ts
            ON pipeline_events (timestamp);
    `)
	if err != nil {
		return errors.New().Wrap(ErrStorageInit, err)
	}

	return nil
}
