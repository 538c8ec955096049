package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/logger"
)

// migrations holds the in-place upgrade from version k to k+1 under key k.
// Versions without an entry are rebuilt from scratch after a backup.
var migrations = map[int]string{
	1: addSessionNotesSQL,
}

// addSessionNotesSQL adds the notes column and the manual provenance. The
// CHECK constraint can only change by rebuilding the table, and segments are
// set aside first so the cascade on sessions does not remove them.
const addSessionNotesSQL = `
	   CREATE TABLE segments_v1 AS SELECT * FROM segments;
	   DROP TABLE segments;
	   ALTER TABLE sessions RENAME TO sessions_v1;` + sessionsTableSQL + `
	   INSERT INTO sessions (
	       id, user_id, provenance, mode, start_time, end_time,
	       distance_km, steps, duration_seconds, calories,
	       average_speed, max_speed, min_speed
	   )
	   SELECT
	       id, user_id, provenance, mode, start_time, end_time,
	       distance_km, steps, duration_seconds, calories,
	       average_speed, max_speed, min_speed
	   FROM sessions_v1;
	   DROP TABLE sessions_v1;` + sessionIndexesSQL + segmentsTableSQL + `
	   INSERT INTO segments (session_id, seq, timestamp, speed, cumulative_distance)
	   SELECT session_id, seq, timestamp, speed, cumulative_distance FROM segments_v1;
	   DROP TABLE segments_v1;`

func backupDatabase(db *sql.DB, dir string, version int, log logger.Logger) (string, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_backup_dir",
			Path:  dir,
			Error: err.Error(),
		})
	}

	timestamp := time.Now().UTC().Format("20060102T150405Z")
	backupPath := filepath.Join(dir, fmt.Sprintf("padctl_v%d_%s.db", version, timestamp))

	// VACUUM INTO requires no active transaction
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_backup",
			Path:  backupPath,
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", backupPath).
		Int("version", version).
		Msg("Database backup created")

	return backupPath, nil
}

// ValidateAndUpdateSchema creates the schema on an empty database and
// upgrades older ones. A database written by a newer release is refused
// rather than touched.
func ValidateAndUpdateSchema(db *sql.DB, cfg Config, log logger.Logger) error {
	errFactory := errors.New()

	version, err := GetSchemaVersion(db)
	if err != nil {
		return errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	log.Debug().
		Int("version", version).
		Bool("init_db", version == 0).
		Msg("Current schema version")

	switch {
	case version == 0:
		return InitSchema(db, log)
	case version == SchemaVersion:
		log.Debug().Int("version", version).Msg("Schema version is current")
		return nil
	case version > SchemaVersion:
		return errFactory.WithData(ErrSchemaTooNew, struct {
			Found     int
			Supported int
		}{
			Found:     version,
			Supported: SchemaVersion,
		})
	}

	rebuild := false
	for v := version; v < SchemaVersion; v++ {
		if _, ok := migrations[v]; !ok {
			rebuild = true
		}
	}

	if cfg.BackupOnMigrate || rebuild {
		if _, err := backupDatabase(db, cfg.backupDir(), version, log); err != nil {
			return err
		}
	}

	if rebuild {
		log.Warn().
			Int("from", version).
			Int("to", SchemaVersion).
			Msg("No in-place upgrade available, recreating schema")
		if err := dropTables(db, log); err != nil {
			return err
		}
		return InitSchema(db, log)
	}

	for v := version; v < SchemaVersion; v++ {
		if err := migrate(db, v, log); err != nil {
			return err
		}
	}

	return nil
}

func migrate(db *sql.DB, from int, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback migration")
			}
		}
	}()

	if _, err := tx.Exec(migrations[from]); err != nil {
		return errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			From  int
			Error string
		}{
			Phase: "apply",
			From:  from,
			Error: err.Error(),
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, from+1); err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}
	committed = true

	log.Info().Int("version", from+1).Msg("Schema migrated")

	return nil
}

func dropTables(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback drop tables")
			}
		}
	}()

	for _, table := range tables {
		if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return errFactory.WithData(ErrSchemaMigrationFailed, struct {
				Phase string
				Table string
				Error string
			}{
				Phase: "drop_table",
				Table: table,
				Error: err.Error(),
			})
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}
	committed = true

	return nil
}
