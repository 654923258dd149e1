package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kestral/convoke/internal/task"
)

// SaveTask upserts a task's current state.
func (s *Store) SaveTask(ctx context.Context, t *task.Task) error {
	contextJSON, err := json.Marshal(t.Context)
	if err != nil {
		return fmt.Errorf("marshal task context: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO tasks (id, type, prompt, context, status, result, error, execution_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			execution_time = EXCLUDED.execution_time,
			updated_at = EXCLUDED.updated_at`,
		t.ID, string(t.Type), t.Prompt, contextJSON, string(t.Status),
		t.Result, t.Error, t.ExecutionTime, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask retrieves a single task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, type, prompt, context, status,
		       COALESCE(result,''), COALESCE(error,''), execution_time, created_at, updated_at
		FROM tasks WHERE id = $1`, id)

	var t task.Task
	var contextJSON []byte
	err := row.Scan(
		&t.ID, &t.Type, &t.Prompt, &contextJSON, &t.Status,
		&t.Result, &t.Error, &t.ExecutionTime, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &t.Context); err != nil {
			return nil, fmt.Errorf("unmarshal task context: %w", err)
		}
	}
	return &t, nil
}

// ListTasks returns tasks filtered by status, newest first. An empty
// status lists everything.
func (s *Store) ListTasks(ctx context.Context, status task.Status, limit int) ([]*task.Task, error) {
	query := `
		SELECT id, type, prompt, context, status,
		       COALESCE(result,''), COALESCE(error,''), execution_time, created_at, updated_at
		FROM tasks`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		var t task.Task
		var contextJSON []byte
		if err := rows.Scan(
			&t.ID, &t.Type, &t.Prompt, &contextJSON, &t.Status,
			&t.Result, &t.Error, &t.ExecutionTime, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &t.Context); err != nil {
				return nil, fmt.Errorf("unmarshal task context: %w", err)
			}
		}
		tasks = append(tasks, &t)
	}
	return tasks, nil
}

// CountTasksByStatus returns how many stored tasks hold each status.
func (s *Store) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, nil
}
