package graph

import (
	"context"
	"fmt"

	"github.com/kestral/convoke/internal/task"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Mirror records workflow structure and run outcomes in Neo4j, so the
// step graph and its execution history can be queried relationally.
type Mirror struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewMirror creates a Neo4j-backed workflow mirror.
func NewMirror(uri, user, password string, logger *zap.Logger) (*Mirror, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Mirror{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (m *Mirror) Close(ctx context.Context) error {
	return m.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (m *Mirror) Ping(ctx context.Context) error {
	return m.driver.VerifyConnectivity(ctx)
}

// RecordWorkflow stores the workflow with its steps and dependency
// edges. Re-recording the same workflow is a no-op merge.
func (m *Mirror) RecordWorkflow(ctx context.Context, wf *task.Workflow) error {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (w:Workflow {id: $id})
		 SET w.name = $name, w.description = $desc, w.created_at = datetime()`,
		map[string]interface{}{
			"id":   wf.ID,
			"name": wf.Name,
			"desc": wf.Description,
		})
	if err != nil {
		return fmt.Errorf("record workflow %s: %w", wf.ID, err)
	}

	for _, step := range wf.Steps {
		_, err = session.Run(ctx,
			`MATCH (w:Workflow {id: $wfId})
			 MERGE (s:Step {workflow_id: $wfId, id: $id})
			 SET s.type = $type, s.prompt = $prompt
			 MERGE (w)-[:HAS_STEP]->(s)`,
			map[string]interface{}{
				"wfId":   wf.ID,
				"id":     step.ID,
				"type":   string(step.Type),
				"prompt": step.Prompt,
			})
		if err != nil {
			return fmt.Errorf("record step %s: %w", step.ID, err)
		}
		for _, dep := range step.Dependencies {
			_, err = session.Run(ctx,
				`MATCH (s:Step {workflow_id: $wfId, id: $id}),
				       (d:Step {workflow_id: $wfId, id: $dep})
				 MERGE (s)-[:DEPENDS_ON]->(d)`,
				map[string]interface{}{"wfId": wf.ID, "id": step.ID, "dep": dep})
			if err != nil {
				return fmt.Errorf("record dependency %s -> %s: %w", step.ID, dep, err)
			}
		}
	}

	m.logger.Debug("workflow mirrored",
		zap.String("workflow", wf.ID), zap.Int("steps", len(wf.Steps)))
	return nil
}

// RecordExecution stores one run's outcome with per-step confidence.
func (m *Mirror) RecordExecution(ctx context.Context, exec *task.Execution) error {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MATCH (w:Workflow {id: $wfId})
		 CREATE (r:Run {
			workflow_id: $wfId, status: $status,
			summary: $summary, error: $error,
			total_steps: $total, started_at: datetime()
		 })
		 CREATE (w)-[:EXECUTED_AS]->(r)`,
		map[string]interface{}{
			"wfId":    exec.WorkflowID,
			"status":  string(exec.Status),
			"summary": exec.Summary,
			"error":   exec.Error,
			"total":   exec.TotalSteps,
		})
	if err != nil {
		return fmt.Errorf("record execution of %s: %w", exec.WorkflowID, err)
	}

	for stepID, res := range exec.Results {
		_, err = session.Run(ctx,
			`MATCH (w:Workflow {id: $wfId})-[:EXECUTED_AS]->(r:Run)
			 WITH r ORDER BY r.started_at DESC LIMIT 1
			 CREATE (o:StepOutcome {
				step_id: $stepId, confidence: $confidence, reasoning: $reasoning
			 })
			 CREATE (r)-[:PRODUCED]->(o)`,
			map[string]interface{}{
				"wfId":       exec.WorkflowID,
				"stepId":     stepID,
				"confidence": res.Confidence,
				"reasoning":  res.Reasoning,
			})
		if err != nil {
			return fmt.Errorf("record outcome %s: %w", stepID, err)
		}
	}

	m.logger.Debug("execution mirrored",
		zap.String("workflow", exec.WorkflowID), zap.String("status", string(exec.Status)))
	return nil
}

// RunHistory returns the statuses of past runs of a workflow, newest
// first.
func (m *Mirror) RunHistory(ctx context.Context, workflowID string, limit int) ([]string, error) {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (w:Workflow {id: $wfId})-[:EXECUTED_AS]->(r:Run)
		 RETURN r.status ORDER BY r.started_at DESC LIMIT $limit`,
		map[string]interface{}{"wfId": workflowID, "limit": limit})
	if err != nil {
		return nil, err
	}

	var statuses []string
	for result.Next(ctx) {
		if v, ok := result.Record().Get("r.status"); ok {
			statuses = append(statuses, v.(string))
		}
	}
	return statuses, nil
}
