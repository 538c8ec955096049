package store

import (
	"path/filepath"

	"codeberg.org/mutker/padctl/internal/errors"
)

const defaultDirPerm = 0o755

type Config struct {
	DBPath          string
	BackupOnMigrate bool
	// BackupDir defaults to a backups directory next to the database.
	BackupDir string
}

func (c Config) Validate() error {
	if c.DBPath == "" {
		return errors.New().New(ErrInvalidDBPath)
	}
	return nil
}

func (c Config) backupDir() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}
	return filepath.Join(filepath.Dir(c.DBPath), "backups")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
