package store

import (
	"context"
	"database/sql"
	"time"

	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/settings"
)

func (s *Store) LoadPreferences(ctx context.Context, userID string) (settings.Preferences, bool, error) {
	var p settings.Preferences

	err := s.db.QueryRowContext(ctx, `
        SELECT max_speed, start_speed, sensitivity, child_lock, units_miles
        FROM preferences
        WHERE user_id = ?`, userID,
	).Scan(&p.MaxSpeed, &p.StartSpeed, &p.Sensitivity, &p.ChildLock, &p.UnitsMiles)
	if errors.Is(err, sql.ErrNoRows) {
		return settings.Preferences{}, false, nil
	}
	if err != nil {
		return settings.Preferences{}, false, errors.New().Wrap(ErrStorageAccess, err)
	}

	return p, true, nil
}

func (s *Store) SavePreferences(ctx context.Context, userID string, p settings.Preferences) error {
	if _, err := s.db.ExecContext(ctx, `
        INSERT INTO preferences (
            user_id, max_speed, start_speed, sensitivity,
            child_lock, units_miles, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET
            max_speed = excluded.max_speed,
            start_speed = excluded.start_speed,
            sensitivity = excluded.sensitivity,
            child_lock = excluded.child_lock,
            units_miles = excluded.units_miles,
            updated_at = excluded.updated_at`,
		userID, p.MaxSpeed, p.StartSpeed, p.Sensitivity,
		boolToInt(p.ChildLock), boolToInt(p.UnitsMiles), toNanos(time.Now()),
	); err != nil {
		return errors.New().WithData(ErrStorageAccess, struct {
			Phase  string
			UserID string
			Error  string
		}{
			Phase:  "upsert_preferences",
			UserID: userID,
			Error:  err.Error(),
		})
	}

	return nil
}
