package store

import (
	"context"
	"fmt"
	"time"

	"github.com/kestral/convoke/internal/agent"
)

// SaveAgentInfo upserts an agent's identity and counters.
func (s *Store) SaveAgentInfo(ctx context.Context, info agent.Info) error {
	now := time.Now()
	_, err := s.db.Exec(ctx, `
		INSERT INTO agents (id, type, name, description, task_count, successful_tasks, failed_tasks, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			task_count = EXCLUDED.task_count,
			successful_tasks = EXCLUDED.successful_tasks,
			failed_tasks = EXCLUDED.failed_tasks,
			updated_at = EXCLUDED.updated_at`,
		info.ID, info.Type, info.Name, info.Description,
		info.TaskCount, info.SuccessfulTasks, info.FailedTasks,
		info.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", info.ID, err)
	}
	return nil
}

// ListAgentInfos returns all stored agent records in creation order.
func (s *Store) ListAgentInfos(ctx context.Context) ([]agent.Info, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, type, name, description, task_count, successful_tasks, failed_tasks, created_at
		FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var infos []agent.Info
	for rows.Next() {
		var info agent.Info
		if err := rows.Scan(
			&info.ID, &info.Type, &info.Name, &info.Description,
			&info.TaskCount, &info.SuccessfulTasks, &info.FailedTasks, &info.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}
