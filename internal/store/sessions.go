package store

import (
	"context"
	"database/sql"
	"strings"

	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/session"
)

const (
	upsertSessionSQL = `
    INSERT INTO sessions (
        id, user_id, provenance, mode,
        start_time, end_time,
        distance_km, steps, duration_seconds, calories,
        average_speed, max_speed, min_speed, notes
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET
        end_time = excluded.end_time,
        distance_km = excluded.distance_km,
        steps = excluded.steps,
        duration_seconds = excluded.duration_seconds,
        calories = excluded.calories,
        average_speed = excluded.average_speed,
        max_speed = excluded.max_speed,
        min_speed = excluded.min_speed,
        notes = excluded.notes`

	insertSegmentSQL = `
    INSERT INTO segments (session_id, seq, timestamp, speed, cumulative_distance)
    VALUES (?, ?, ?, ?, ?)`

	sessionColumns = `
        id, user_id, provenance, mode, start_time, end_time,
        distance_km, steps, duration_seconds, calories,
        average_speed, max_speed, min_speed, notes`
)

// SaveSession writes a closed session and replaces its segments.
func (s *Store) SaveSession(ctx context.Context, x session.Session) error {
	errFactory := errors.New()

	if x.EndTime == nil {
		return errFactory.WithMessage(ErrInvalidRecord, "session "+x.ID+" is still open")
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertSessionSQL,
			x.ID, x.UserID, string(x.Provenance), x.Mode,
			toNanos(x.StartTime), toNanos(*x.EndTime),
			x.DistanceKm, x.Steps, x.DurationSeconds, x.CaloriesKcal,
			x.AverageSpeed, x.MaxSpeed, x.MinSpeed, x.Notes,
		); err != nil {
			return errFactory.WithData(ErrStorageAccess, struct {
				Phase string
				ID    string
				Error string
			}{
				Phase: "upsert_session",
				ID:    x.ID,
				Error: err.Error(),
			})
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM segments WHERE session_id = ?", x.ID); err != nil {
			return errFactory.Wrap(ErrStorageAccess, err)
		}

		stmt, err := tx.PrepareContext(ctx, insertSegmentSQL)
		if err != nil {
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
		defer stmt.Close()

		for i, seg := range x.Segments {
			if _, err := stmt.ExecContext(ctx, x.ID, i, toNanos(seg.Time), seg.SpeedKmH, seg.DistanceKm); err != nil {
				return errFactory.WithData(ErrStorageAccess, struct {
					Phase string
					ID    string
					Seq   int
					Error string
				}{
					Phase: "insert_segment",
					ID:    x.ID,
					Seq:   i,
					Error: err.Error(),
				})
			}
		}

		return nil
	})
}

// GetSession returns a session with its segments.
func (s *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	errFactory := errors.New()

	row := s.db.QueryRowContext(ctx, "SELECT"+sessionColumns+" FROM sessions WHERE id = ?", id)
	x, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, errFactory.WithMessage(ErrNotFound, "session "+id+" not found")
	}
	if err != nil {
		return session.Session{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	if x.Segments, err = s.segments(ctx, id); err != nil {
		return session.Session{}, err
	}

	return x, nil
}

// LoadSessions returns one page of closed sessions, newest first, and the
// total number of matches.
func (s *Store) LoadSessions(ctx context.Context, f session.Filter, p session.Page) ([]session.Session, int, error) {
	errFactory := errors.New()

	where, args := sessionWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions"+where, args...).Scan(&total); err != nil {
		return nil, 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	query := "SELECT" + sessionColumns + " FROM sessions" + where + " ORDER BY start_time DESC, id"
	if p.Size > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, p.Size, p.Offset())
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		x, err := scanSession(rows)
		if err != nil {
			return nil, 0, errFactory.Wrap(ErrStorageAccess, err)
		}
		out = append(out, x)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	if f.WithSegments {
		for i := range out {
			if out[i].Segments, err = s.segments(ctx, out[i].ID); err != nil {
				return nil, 0, err
			}
		}
	}

	return out, total, nil
}

// ClosedSessions returns every matching session. Commands that read the
// database without a running daemon use it as the goal and stats source.
func (s *Store) ClosedSessions(ctx context.Context, f session.Filter) ([]session.Session, error) {
	out, _, err := s.LoadSessions(ctx, f, session.Page{})
	return out, err
}

func (s *Store) segments(ctx context.Context, id string) ([]session.Segment, error) {
	errFactory := errors.New()

	rows, err := s.db.QueryContext(ctx, `
        SELECT timestamp, speed, cumulative_distance
        FROM segments
        WHERE session_id = ?
        ORDER BY seq`, id)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []session.Segment
	for rows.Next() {
		var ts int64
		var seg session.Segment
		if err := rows.Scan(&ts, &seg.SpeedKmH, &seg.DistanceKm); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		seg.Time = fromNanos(ts)
		out = append(out, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return out, nil
}

func sessionWhere(f session.Filter) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, v any) {
		conds = append(conds, cond)
		args = append(args, v)
	}

	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if !f.StartedFrom.IsZero() {
		add("start_time >= ?", toNanos(f.StartedFrom))
	}
	if !f.StartedBefore.IsZero() {
		add("start_time < ?", toNanos(f.StartedBefore))
	}
	if !f.EndedFrom.IsZero() {
		add("end_time >= ?", toNanos(f.EndedFrom))
	}
	if !f.EndedBefore.IsZero() {
		add("end_time < ?", toNanos(f.EndedBefore))
	}

	if len(conds) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (session.Session, error) {
	var x session.Session
	var provenance string
	var start, end int64

	if err := row.Scan(
		&x.ID, &x.UserID, &provenance, &x.Mode, &start, &end,
		&x.DistanceKm, &x.Steps, &x.DurationSeconds, &x.CaloriesKcal,
		&x.AverageSpeed, &x.MaxSpeed, &x.MinSpeed, &x.Notes,
	); err != nil {
		return session.Session{}, err
	}

	x.Provenance = session.Provenance(provenance)
	x.StartTime = fromNanos(start)
	endTime := fromNanos(end)
	x.EndTime = &endTime

	return x, nil
}
