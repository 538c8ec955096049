package store

import (
	"context"
	"database/sql"

	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/goal"
)

// A completed goal stays completed whatever the incoming row says.
const upsertGoalSQL = `
    INSERT INTO goals (
        id, user_id, type, target_value,
        start_date, end_date,
        completed, completed_at, created_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET
        target_value = excluded.target_value,
        end_date = excluded.end_date,
        completed = MAX(goals.completed, excluded.completed),
        completed_at = COALESCE(goals.completed_at, excluded.completed_at)`

const goalColumns = `
        id, user_id, type, target_value, start_date, end_date,
        completed, completed_at, created_at`

func (s *Store) SaveGoal(ctx context.Context, g goal.Goal) error {
	if _, err := s.db.ExecContext(ctx, upsertGoalSQL,
		g.ID, g.UserID, string(g.Type), g.Target,
		toNanos(g.StartDate), nullNanos(g.EndDate),
		boolToInt(g.Completed), nullNanos(g.CompletedAt), toNanos(g.CreatedAt),
	); err != nil {
		return errors.New().WithData(ErrStorageAccess, struct {
			Phase string
			ID    string
			Error string
		}{
			Phase: "upsert_goal",
			ID:    g.ID,
			Error: err.Error(),
		})
	}

	return nil
}

func (s *Store) GetGoal(ctx context.Context, id string) (goal.Goal, error) {
	errFactory := errors.New()

	g, err := scanGoal(s.db.QueryRowContext(ctx, "SELECT"+goalColumns+" FROM goals WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return goal.Goal{}, errFactory.WithMessage(ErrNotFound, "goal "+id+" not found")
	}
	if err != nil {
		return goal.Goal{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	return g, nil
}

func (s *Store) DeleteGoal(ctx context.Context, id string) error {
	errFactory := errors.New()

	res, err := s.db.ExecContext(ctx, "DELETE FROM goals WHERE id = ?", id)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	if n == 0 {
		return errFactory.WithMessage(ErrNotFound, "goal "+id+" not found")
	}

	return nil
}

// LoadGoals returns goals oldest first.
func (s *Store) LoadGoals(ctx context.Context, f goal.Filter) ([]goal.Goal, error) {
	errFactory := errors.New()

	query := "SELECT" + goalColumns + " FROM goals WHERE (? = '' OR user_id = ?)"
	if f.ActiveOnly {
		query += " AND completed = 0"
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, f.UserID, f.UserID)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []goal.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return out, nil
}

func scanGoal(row scanner) (goal.Goal, error) {
	var g goal.Goal
	var typ string
	var start, created int64
	var end, completedAt sql.NullInt64

	if err := row.Scan(
		&g.ID, &g.UserID, &typ, &g.Target, &start, &end,
		&g.Completed, &completedAt, &created,
	); err != nil {
		return goal.Goal{}, err
	}

	g.Type = goal.Type(typ)
	g.StartDate = fromNanos(start)
	g.EndDate = fromNullNanos(end)
	g.CompletedAt = fromNullNanos(completedAt)
	g.CreatedAt = fromNanos(created)

	return g, nil
}
