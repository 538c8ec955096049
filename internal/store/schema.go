package store

import (
	"database/sql"

	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/logger"
)

const (
	SchemaVersion = 2

	sessionsTableSQL = `
	   CREATE TABLE IF NOT EXISTS sessions (
	       id               TEXT PRIMARY KEY,
	       user_id          TEXT NOT NULL,
	       provenance       TEXT NOT NULL CHECK (provenance IN ('explicit', 'recovered', 'manual')),
	       mode             TEXT NOT NULL,
	       start_time       INTEGER NOT NULL,
	       end_time         INTEGER NOT NULL,
	       distance_km      REAL NOT NULL CHECK (distance_km >= 0),
	       steps            INTEGER NOT NULL CHECK (typeof(steps) = 'integer'),
	       duration_seconds INTEGER NOT NULL CHECK (typeof(duration_seconds) = 'integer'),
	       calories         REAL NOT NULL,
	       average_speed    REAL NOT NULL,
	       max_speed        REAL NOT NULL,
	       min_speed        REAL NOT NULL,
	       notes            TEXT NOT NULL DEFAULT ''
	   );`

	sessionIndexesSQL = `
	   CREATE INDEX IF NOT EXISTS sessions_user_start ON sessions (user_id, start_time);
	   CREATE INDEX IF NOT EXISTS sessions_user_end ON sessions (user_id, end_time);`

	segmentsTableSQL = `
	   CREATE TABLE IF NOT EXISTS segments (
	       session_id          TEXT NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
	       seq                 INTEGER NOT NULL,
	       timestamp           INTEGER NOT NULL,
	       speed               REAL NOT NULL,
	       cumulative_distance REAL NOT NULL,
	       PRIMARY KEY (session_id, seq)
	   );`

	// Times are stored as Unix nanoseconds.
	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );` + sessionsTableSQL + sessionIndexesSQL + segmentsTableSQL + `
	   CREATE TABLE IF NOT EXISTS goals (
	       id           TEXT PRIMARY KEY,
	       user_id      TEXT NOT NULL,
	       type         TEXT NOT NULL CHECK (type IN ('distance', 'steps', 'calories', 'duration')),
	       target_value REAL NOT NULL CHECK (target_value > 0),
	       start_date   INTEGER NOT NULL,
	       end_date     INTEGER,
	       completed    INTEGER NOT NULL CHECK (completed IN (0, 1)),
	       completed_at INTEGER,
	       created_at   INTEGER NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS preferences (
	       user_id     TEXT PRIMARY KEY,
	       max_speed   REAL NOT NULL,
	       start_speed REAL NOT NULL,
	       sensitivity INTEGER NOT NULL CHECK (sensitivity IN (1, 2, 3)),
	       child_lock  INTEGER NOT NULL CHECK (child_lock IN (0, 1)),
	       units_miles INTEGER NOT NULL CHECK (units_miles IN (0, 1)),
	       updated_at  INTEGER NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS telemetry (
	       timestamp    INTEGER NOT NULL,
	       speed        INTEGER NOT NULL CHECK (typeof(speed) = 'integer'),
	       belt_running INTEGER NOT NULL CHECK (belt_running IN (0, 1)),
	       step_delta   INTEGER
	   );
	   CREATE INDEX IF NOT EXISTS telemetry_timestamp ON telemetry (timestamp);`
)

// tables lists every table in drop order.
var tables = []string{"segments", "sessions", "goals", "preferences", "telemetry", "schema_versions"}

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "create_tables",
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized")

	return nil
}

// GetSchemaVersion returns the current schema version, or 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}

	return exists, nil
}
