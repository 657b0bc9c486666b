package repository

import (
	"context"

	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

// HierarchyStore is the persistence port the cascade runs against. The only
// concurrency control the engine relies on is the conditional transition.
type HierarchyStore interface {
	// GetNode returns the uniform view of one node.
	GetNode(ctx context.Context, ref models.NodeRef) (*models.Node, error)
	// Ancestors returns the parent chain of ref, nearest first, up to and
	// including the stage. The workflow is never part of the chain.
	Ancestors(ctx context.Context, ref models.NodeRef) ([]models.Node, error)
	// GetChildren returns the direct children of parent. A task's children
	// are its subtasks followed by its checklist items.
	GetChildren(ctx context.Context, parent models.NodeRef) ([]models.Node, error)
	// TransitionStatus sets ref to `to` only if its current status is one of
	// from, or, when from is empty, any status other than `to`. It reports
	// whether a row changed.
	TransitionStatus(ctx context.Context, ref models.NodeRef, to models.Status, from ...models.Status) (bool, error)
	// TransitionReview moves a task's review status from -> to, reporting
	// whether a row changed.
	TransitionReview(ctx context.Context, taskID string, from, to models.ReviewStatus, actorID string) (bool, error)
	// SetCompletedBy records who completed a task.
	SetCompletedBy(ctx context.Context, taskID, actorID string) error
}

// TaskStore reads and writes task rows.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	// ListWorkflowTasks returns the tasks of a workflow in stage, step and
	// task order.
	ListWorkflowTasks(ctx context.Context, workflowID string) ([]*models.Task, error)
	GetStep(ctx context.Context, id string) (*models.Step, error)
	CreateTask(ctx context.Context, task *models.Task) error
	SetTaskField(ctx context.Context, taskID, field string, value any) error
}

// DependencyStore holds the task dependency edges of each workflow.
type DependencyStore interface {
	ListDependencies(ctx context.Context, workflowID string) ([]models.TaskDependency, error)
	UpsertDependency(ctx context.Context, dep models.TaskDependency) error
	// UpsertDependencyIf writes dep only when check accepts the workflow's
	// current edges. Calls for the same workflow are serialized, so check
	// sees every edge committed before it.
	UpsertDependencyIf(ctx context.Context, dep models.TaskDependency, check func([]models.TaskDependency) error) error
	// RemoveDependency reports whether an edge was deleted.
	RemoveDependency(ctx context.Context, workflowID, fromTaskID, toTaskID string) (bool, error)
}

// TemplateStore creates hierarchy rows. Template authoring proper lives
// outside this service; seeding and the create_task action use it.
type TemplateStore interface {
	CreateWorkflow(ctx context.Context, workflow *models.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*models.Workflow, error)
	CreateStage(ctx context.Context, stage *models.Stage) error
	CreateStep(ctx context.Context, step *models.Step) error
	CreateSubtask(ctx context.Context, subtask *models.Subtask) error
	CreateChecklistItem(ctx context.Context, item *models.ChecklistItem) error
}

// TenantStore resolves tenants for the auth middleware.
type TenantStore interface {
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
}

// Repository is everything the service needs from storage.
type Repository interface {
	HierarchyStore
	TaskStore
	DependencyStore
	TemplateStore
	TenantStore
	Ping(ctx context.Context) error
}
