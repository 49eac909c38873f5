package pg

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/syneagent/syne/internal/store"
)

func (s *Store) ListAbilities(ctx context.Context) ([]store.Ability, error) {
	rows, err := s.db().Query(ctx, `
		SELECT name, version, description, enabled, config, source FROM abilities ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Ability
	for rows.Next() {
		var a store.Ability
		if err := rows.Scan(&a.Name, &a.Version, &a.Description, &a.Enabled, &a.Config, &a.Source); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpsertAbility(ctx context.Context, a store.Ability) error {
	_, err := s.db().Exec(ctx, `
		INSERT INTO abilities (name, version, description, enabled, config, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			version = EXCLUDED.version, description = EXCLUDED.description,
			enabled = EXCLUDED.enabled, config = EXCLUDED.config, source = EXCLUDED.source
	`, a.Name, a.Version, a.Description, a.Enabled, a.Config, a.Source)
	return err
}

func (s *Store) ListDueTasks(ctx context.Context, now int64) ([]store.ScheduledTask, error) {
	rows, err := s.db().Query(ctx, `
		SELECT id, name, schedule_type, schedule_value, payload, enabled, last_run, next_run, run_count, created_by
		FROM scheduled_tasks
		WHERE enabled AND next_run IS NOT NULL AND next_run <= $1
		ORDER BY next_run
	`, time.Unix(now, 0).UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ScheduledTask
	for rows.Next() {
		var t store.ScheduledTask
		if err := rows.Scan(&t.ID, &t.Name, &t.ScheduleType, &t.ScheduleValue, &t.Payload, &t.Enabled,
			&t.LastRun, &t.NextRun, &t.RunCount, &t.CreatedBy); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) InsertTask(ctx context.Context, t store.ScheduledTask) (store.ScheduledTask, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := s.db().Exec(ctx, `
		INSERT INTO scheduled_tasks (id, name, schedule_type, schedule_value, payload, enabled, last_run, next_run, run_count, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, t.Name, t.ScheduleType, t.ScheduleValue, t.Payload, t.Enabled, t.LastRun, t.NextRun, t.RunCount, t.CreatedBy)
	if err != nil {
		return store.ScheduledTask{}, err
	}
	return t, nil
}

func (s *Store) DeleteTask(ctx context.Context, id uuid.UUID) error {
	_, err := s.db().Exec(ctx, `DELETE FROM scheduled_tasks WHERE id = $1`, id)
	return err
}

func (s *Store) UpdateTaskAfterRun(ctx context.Context, id uuid.UUID, nextRun *int64, lastRun int64) error {
	last := time.Unix(lastRun, 0).UTC()
	var next *time.Time
	if nextRun != nil {
		t := time.Unix(*nextRun, 0).UTC()
		next = &t
	}
	tag, err := s.db().Exec(ctx, `
		UPDATE scheduled_tasks SET last_run = $2, next_run = $3, run_count = run_count + 1 WHERE id = $1
	`, id, last, next)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.NewNotFoundError("scheduled task")
	}
	return nil
}

func (s *Store) InsertSubAgentRun(ctx context.Context, r store.SubAgentRun) (store.SubAgentRun, error) {
	if r.RunID == uuid.Nil {
		r.RunID = uuid.New()
	}
	err := s.db().QueryRow(ctx, `
		INSERT INTO subagent_runs (run_id, parent_session_id, task, status, result, error, input_tokens, output_tokens)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING started_at
	`, r.RunID, r.ParentSessionID, r.Task, r.Status, r.Result, r.Error, r.InputTokens, r.OutputTokens).Scan(&r.StartedAt)
	if err != nil {
		return store.SubAgentRun{}, err
	}
	return r, nil
}

func (s *Store) UpdateSubAgentRun(ctx context.Context, r store.SubAgentRun) error {
	tag, err := s.db().Exec(ctx, `
		UPDATE subagent_runs SET status = $2, result = $3, error = $4,
			input_tokens = $5, output_tokens = $6, finished_at = $7
		WHERE run_id = $1
	`, r.RunID, r.Status, r.Result, r.Error, r.InputTokens, r.OutputTokens, r.FinishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.NewNotFoundError("sub-agent run")
	}
	return nil
}

func (s *Store) GetSubAgentRun(ctx context.Context, runID uuid.UUID) (*store.SubAgentRun, error) {
	var r store.SubAgentRun
	err := s.db().QueryRow(ctx, `
		SELECT run_id, parent_session_id, task, status, result, error, input_tokens, output_tokens, started_at, finished_at
		FROM subagent_runs WHERE run_id = $1
	`, runID).Scan(&r.RunID, &r.ParentSessionID, &r.Task, &r.Status, &r.Result, &r.Error,
		&r.InputTokens, &r.OutputTokens, &r.StartedAt, &r.FinishedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListActiveSubAgentRuns(ctx context.Context, parentSessionID *uuid.UUID) ([]store.SubAgentRun, error) {
	args := []any{[]string{string(store.SubAgentPending), string(store.SubAgentRunning)}}
	where := "status = ANY($1::text[])"
	if parentSessionID != nil {
		args = append(args, *parentSessionID)
		where += " AND parent_session_id = $2"
	}
	rows, err := s.db().Query(ctx, `
		SELECT run_id, parent_session_id, task, status, result, error, input_tokens, output_tokens, started_at, finished_at
		FROM subagent_runs WHERE `+where+` ORDER BY started_at
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.SubAgentRun
	for rows.Next() {
		var r store.SubAgentRun
		if err := rows.Scan(&r.RunID, &r.ParentSessionID, &r.Task, &r.Status, &r.Result, &r.Error,
			&r.InputTokens, &r.OutputTokens, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
