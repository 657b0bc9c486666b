package services

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vithaluntold/accute1-sub000/internal/apperr"
	"github.com/vithaluntold/accute1-sub000/internal/dependency"
	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

// AddDependency adds or updates the edge dep.FromTaskID -> dep.ToTaskID.
// Nothing is written when the edge is rejected.
func (e *Engine) AddDependency(ctx context.Context, dep models.TaskDependency) (out *models.TaskDependency, err error) {
	ctx, span := e.startSpan(ctx, "AddDependency",
		attribute.String("workflow.id", dep.WorkflowID),
		attribute.String("dependency.from", dep.FromTaskID),
		attribute.String("dependency.to", dep.ToTaskID),
	)
	defer func() { endSpan(span, err) }()

	typ, err := models.ParseDependencyType(string(dep.Type))
	if err != nil {
		e.countRejection(ctx, "type")
		return nil, apperr.Validation("%v", err).WithDetail("edge", dep)
	}
	dep.Type = typ
	if dep.FromTaskID == "" || dep.ToTaskID == "" {
		e.countRejection(ctx, "endpoint")
		return nil, apperr.Validation("both endpoints of a dependency are required").WithDetail("edge", dep)
	}
	if dep.FromTaskID == dep.ToTaskID {
		e.countRejection(ctx, "self")
		return nil, apperr.Validation("task %s cannot depend on itself", dep.FromTaskID).WithDetail("edge", dep)
	}
	if _, err := e.store.GetWorkflow(ctx, dep.WorkflowID); err != nil {
		return nil, err
	}
	for _, id := range []string{dep.FromTaskID, dep.ToTaskID} {
		task, err := e.store.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.WorkflowID != dep.WorkflowID {
			e.countRejection(ctx, "scope")
			return nil, apperr.Validation("task %s belongs to workflow %s, not %s", id, task.WorkflowID, dep.WorkflowID).
				WithDetail("edge", dep)
		}
	}

	tasks, err := e.store.ListWorkflowTasks(ctx, dep.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	ids := taskIDs(tasks)
	var rejected error
	err = e.store.UpsertDependencyIf(ctx, dep, func(edges []models.TaskDependency) error {
		cycle := dependency.NewGraph(ids, edges).WouldCycle(dep.FromTaskID, dep.ToTaskID)
		if cycle == nil {
			return nil
		}
		rejected = apperr.Validation("dependency %s -> %s would create a cycle: %s",
			dep.FromTaskID, dep.ToTaskID, strings.Join(cycle, " -> ")).
			WithDetail("edge", dep).WithDetail("cycle", cycle)
		return rejected
	})
	if rejected != nil {
		e.countRejection(ctx, "cycle")
		e.logger.Warn("dependency rejected", "workflow_id", dep.WorkflowID,
			"from", dep.FromTaskID, "to", dep.ToTaskID, "error", apperr.MessageOf(rejected))
		return nil, rejected
	}
	if err != nil {
		return nil, fmt.Errorf("store dependency: %w", err)
	}
	e.logger.Info("dependency added", "workflow_id", dep.WorkflowID, "from", dep.FromTaskID,
		"to", dep.ToTaskID, "type", dep.Type, "lag_minutes", dep.LagMinutes)
	return &dep, nil
}

// RemoveDependency deletes an edge. A missing edge is NotFound.
func (e *Engine) RemoveDependency(ctx context.Context, workflowID, fromTaskID, toTaskID string) (err error) {
	ctx, span := e.startSpan(ctx, "RemoveDependency",
		attribute.String("workflow.id", workflowID),
		attribute.String("dependency.from", fromTaskID),
		attribute.String("dependency.to", toTaskID),
	)
	defer func() { endSpan(span, err) }()

	if _, err := e.store.GetWorkflow(ctx, workflowID); err != nil {
		return err
	}
	removed, err := e.store.RemoveDependency(ctx, workflowID, fromTaskID, toTaskID)
	if err != nil {
		return fmt.Errorf("remove dependency: %w", err)
	}
	if !removed {
		return apperr.NotFound("dependency", fromTaskID+"->"+toTaskID)
	}
	e.logger.Info("dependency removed", "workflow_id", workflowID, "from", fromTaskID, "to", toTaskID)
	return nil
}

// ListDependencies returns the edges that touch a task, in either direction.
func (e *Engine) ListDependencies(ctx context.Context, taskID string) ([]models.TaskDependency, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	edges, err := e.store.ListDependencies(ctx, task.WorkflowID)
	if err != nil {
		return nil, err
	}
	out := []models.TaskDependency{}
	for _, d := range edges {
		if d.FromTaskID == taskID || d.ToTaskID == taskID {
			out = append(out, d)
		}
	}
	return out, nil
}

// ComputeCriticalPath schedules a workflow's tasks over its dependency edges.
func (e *Engine) ComputeCriticalPath(ctx context.Context, workflowID string) (cp *models.CriticalPath, err error) {
	ctx, span := e.startSpan(ctx, "ComputeCriticalPath", attribute.String("workflow.id", workflowID))
	defer func() { endSpan(span, err) }()

	tasks, edges, err := e.loadSnapshot(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	cp, err = dependency.CriticalPath(workflowID, tasks, edges, e.schedule)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("schedule.duration", cp.ProjectDuration),
		attribute.Int("schedule.critical", len(cp.CriticalTaskIDs)),
	)
	return cp, nil
}

// ValidateDependencies checks a workflow's whole edge set for cycles and for
// edges that point outside the workflow.
func (e *Engine) ValidateDependencies(ctx context.Context, workflowID string) (v *models.DependencyValidation, err error) {
	ctx, span := e.startSpan(ctx, "ValidateDependencies", attribute.String("workflow.id", workflowID))
	defer func() { endSpan(span, err) }()

	tasks, edges, err := e.loadSnapshot(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	result := dependency.Validate(taskIDs(tasks), edges)
	if !result.Valid {
		e.logger.Warn("dependency graph invalid", "workflow_id", workflowID,
			"cycle_tasks", len(result.CycleTaskIDs), "dangling_edges", len(result.DanglingEdges))
	}
	return &result, nil
}

func (e *Engine) loadSnapshot(ctx context.Context, workflowID string) ([]*models.Task, []models.TaskDependency, error) {
	if _, err := e.store.GetWorkflow(ctx, workflowID); err != nil {
		return nil, nil, err
	}
	tasks, err := e.store.ListWorkflowTasks(ctx, workflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	edges, err := e.store.ListDependencies(ctx, workflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("load dependencies: %w", err)
	}
	return tasks, edges, nil
}

func taskIDs(tasks []*models.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
