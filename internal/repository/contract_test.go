package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vithaluntold/accute1-sub000/internal/apperr"
	"github.com/vithaluntold/accute1-sub000/internal/requestctx"
	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

type fixture struct {
	workflow *models.Workflow
	stage    *models.Stage
	step     *models.Step
	task     *models.Task
	subtask  *models.Subtask
	item     *models.ChecklistItem
}

func seedFixture(t *testing.T, ctx context.Context, store Repository) fixture {
	t.Helper()
	minutes := 90
	f := fixture{
		workflow: &models.Workflow{TenantID: "tenant-a", Name: "Monthly close"},
	}
	require.NoError(t, store.CreateWorkflow(ctx, f.workflow))

	f.stage = &models.Stage{WorkflowID: f.workflow.ID, Name: "Prepare", AutoAdvance: true}
	require.NoError(t, store.CreateStage(ctx, f.stage))

	f.step = &models.Step{StageID: f.stage.ID, Name: "Collect", AutoAdvance: true}
	require.NoError(t, store.CreateStep(ctx, f.step))

	f.task = &models.Task{
		StepID:           f.step.ID,
		Name:             "Gather statements",
		AutoAdvance:      true,
		EstimatedMinutes: &minutes,
		Fields:           map[string]any{"priority": "high"},
		AutomationActions: []models.ActionSpec{{
			Actions: models.ActionList{&models.NotifyAction{Target: "ops", Message: "done"}},
		}},
	}
	require.NoError(t, store.CreateTask(ctx, f.task))

	f.subtask = &models.Subtask{TaskID: f.task.ID, Name: "Bank"}
	require.NoError(t, store.CreateSubtask(ctx, f.subtask))

	f.item = &models.ChecklistItem{TaskID: f.task.ID, Label: "Signed"}
	require.NoError(t, store.CreateChecklistItem(ctx, f.item))
	return f
}

// testRepositoryContract exercises behaviour every Repository must share.
func testRepositoryContract(t *testing.T, store Repository) {
	ctx := context.Background()

	t.Run("create and read hierarchy", func(t *testing.T) {
		f := seedFixture(t, ctx, store)

		task, err := store.GetTask(ctx, f.task.ID)
		require.NoError(t, err)
		assert.Equal(t, f.workflow.ID, task.WorkflowID)
		assert.Equal(t, "tenant-a", task.TenantID)
		assert.Equal(t, models.StatusPending, task.Status)
		assert.Equal(t, models.TaskKindManual, task.Kind)
		assert.Equal(t, models.ReviewNone, task.ReviewStatus)
		require.NotNil(t, task.EstimatedMinutes)
		assert.Equal(t, 90, *task.EstimatedMinutes)
		assert.Equal(t, "high", task.Fields["priority"])
		require.Len(t, task.AutomationActions, 1)
		assert.Equal(t, models.ActionNotify, task.AutomationActions[0].Actions[0].Type())

		step, err := store.GetStep(ctx, f.step.ID)
		require.NoError(t, err)
		assert.Equal(t, f.stage.ID, step.StageID)
		assert.Equal(t, f.workflow.ID, step.WorkflowID)
	})

	t.Run("missing rows are not found", func(t *testing.T) {
		_, err := store.GetTask(ctx, "missing-task")
		assert.True(t, apperr.IsNotFound(err))

		_, err = store.GetNode(ctx, models.NodeRef{Type: models.NodeStep, ID: "missing-step"})
		assert.True(t, apperr.IsNotFound(err))

		err = store.CreateTask(ctx, &models.Task{StepID: "missing-step", Name: "orphan"})
		assert.True(t, apperr.IsNotFound(err))
	})

	t.Run("ancestors stop at the stage", func(t *testing.T) {
		f := seedFixture(t, ctx, store)

		chain, err := store.Ancestors(ctx, models.NodeRef{Type: models.NodeSubtask, ID: f.subtask.ID})
		require.NoError(t, err)
		require.Len(t, chain, 3)
		assert.Equal(t, models.NodeRef{Type: models.NodeTask, ID: f.task.ID}, chain[0].Ref)
		assert.Equal(t, models.NodeRef{Type: models.NodeStep, ID: f.step.ID}, chain[1].Ref)
		assert.Equal(t, models.NodeRef{Type: models.NodeStage, ID: f.stage.ID}, chain[2].Ref)
		assert.True(t, chain[0].AutoAdvance)
	})

	t.Run("task children are subtasks then checklist items", func(t *testing.T) {
		f := seedFixture(t, ctx, store)

		kids, err := store.GetChildren(ctx, models.NodeRef{Type: models.NodeTask, ID: f.task.ID})
		require.NoError(t, err)
		require.Len(t, kids, 2)
		assert.Equal(t, models.NodeSubtask, kids[0].Ref.Type)
		assert.Equal(t, models.NodeChecklistItem, kids[1].Ref.Type)
	})

	t.Run("conditional transition writes once", func(t *testing.T) {
		f := seedFixture(t, ctx, store)
		ref := models.NodeRef{Type: models.NodeTask, ID: f.task.ID}

		wrote, err := store.TransitionStatus(ctx, ref, models.StatusCompleted)
		require.NoError(t, err)
		assert.True(t, wrote)

		wrote, err = store.TransitionStatus(ctx, ref, models.StatusCompleted)
		require.NoError(t, err)
		assert.False(t, wrote)

		wrote, err = store.TransitionStatus(ctx, ref, models.StatusInProgress, models.StatusPending)
		require.NoError(t, err)
		assert.False(t, wrote, "from-guard must reject a completed task")

		node, err := store.GetNode(ctx, ref)
		require.NoError(t, err)
		assert.True(t, node.Completed())
	})

	t.Run("checklist items map checked to completed", func(t *testing.T) {
		f := seedFixture(t, ctx, store)
		ref := models.NodeRef{Type: models.NodeChecklistItem, ID: f.item.ID}

		wrote, err := store.TransitionStatus(ctx, ref, models.StatusCompleted)
		require.NoError(t, err)
		assert.True(t, wrote)

		node, err := store.GetNode(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, node.Status)

		wrote, err = store.TransitionStatus(ctx, ref, models.StatusPending, models.StatusCompleted)
		require.NoError(t, err)
		assert.True(t, wrote)
	})

	t.Run("concurrent transitions have a single winner", func(t *testing.T) {
		f := seedFixture(t, ctx, store)
		ref := models.NodeRef{Type: models.NodeStep, ID: f.step.ID}

		var mu sync.Mutex
		winners := 0
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				wrote, err := store.TransitionStatus(ctx, ref, models.StatusCompleted)
				assert.NoError(t, err)
				if wrote {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})

	t.Run("review transition is conditional", func(t *testing.T) {
		f := seedFixture(t, ctx, store)

		wrote, err := store.TransitionReview(ctx, f.task.ID, models.ReviewNone, models.ReviewPendingReview, "")
		require.NoError(t, err)
		assert.True(t, wrote)

		wrote, err = store.TransitionReview(ctx, f.task.ID, models.ReviewNone, models.ReviewPendingReview, "")
		require.NoError(t, err)
		assert.False(t, wrote)

		wrote, err = store.TransitionReview(ctx, f.task.ID, models.ReviewPendingReview, models.ReviewApproved, "reviewer@example.com")
		require.NoError(t, err)
		assert.True(t, wrote)

		task, err := store.GetTask(ctx, f.task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ReviewApproved, task.ReviewStatus)
		assert.Equal(t, "reviewer@example.com", task.ReviewedBy)
	})

	t.Run("set field merges into fields", func(t *testing.T) {
		f := seedFixture(t, ctx, store)

		require.NoError(t, store.SetTaskField(ctx, f.task.ID, "owner", "alice"))
		task, err := store.GetTask(ctx, f.task.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", task.Fields["owner"])
		assert.Equal(t, "high", task.Fields["priority"])

		assert.True(t, apperr.IsNotFound(store.SetTaskField(ctx, "missing-task", "owner", "bob")))
	})

	t.Run("dependency upsert and remove", func(t *testing.T) {
		f := seedFixture(t, ctx, store)
		other := &models.Task{StepID: f.step.ID, Name: "Reconcile", Order: 1}
		require.NoError(t, store.CreateTask(ctx, other))

		dep := models.TaskDependency{WorkflowID: f.workflow.ID, FromTaskID: f.task.ID, ToTaskID: other.ID, Type: models.FinishToStart}
		require.NoError(t, store.UpsertDependency(ctx, dep))
		dep.LagMinutes = 30
		require.NoError(t, store.UpsertDependency(ctx, dep))

		deps, err := store.ListDependencies(ctx, f.workflow.ID)
		require.NoError(t, err)
		require.Len(t, deps, 1)
		assert.Equal(t, 30, deps[0].LagMinutes)

		removed, err := store.RemoveDependency(ctx, f.workflow.ID, f.task.ID, other.ID)
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = store.RemoveDependency(ctx, f.workflow.ID, f.task.ID, other.ID)
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("checked dependency upsert", func(t *testing.T) {
		f := seedFixture(t, ctx, store)
		other := &models.Task{StepID: f.step.ID, Name: "Reconcile", Order: 1}
		require.NoError(t, store.CreateTask(ctx, other))

		forward := models.TaskDependency{WorkflowID: f.workflow.ID, FromTaskID: f.task.ID, ToTaskID: other.ID, Type: models.FinishToStart}
		var seen []models.TaskDependency
		require.NoError(t, store.UpsertDependencyIf(ctx, forward, func(edges []models.TaskDependency) error {
			seen = edges
			return nil
		}))
		assert.Empty(t, seen)

		backward := models.TaskDependency{WorkflowID: f.workflow.ID, FromTaskID: other.ID, ToTaskID: f.task.ID, Type: models.FinishToStart}
		refused := apperr.Validation("would close a cycle")
		err := store.UpsertDependencyIf(ctx, backward, func(edges []models.TaskDependency) error {
			seen = edges
			return refused
		})
		assert.ErrorIs(t, err, refused)
		require.Len(t, seen, 1)
		assert.Equal(t, other.ID, seen[0].ToTaskID)

		deps, err := store.ListDependencies(ctx, f.workflow.ID)
		require.NoError(t, err)
		assert.Len(t, deps, 1, "a refused edge is not written")
	})

	t.Run("workflow tasks follow hierarchy order", func(t *testing.T) {
		f := seedFixture(t, ctx, store)
		later := &models.Stage{WorkflowID: f.workflow.ID, Name: "Review", Order: 1}
		require.NoError(t, store.CreateStage(ctx, later))
		laterStep := &models.Step{StageID: later.ID, Name: "Check"}
		require.NoError(t, store.CreateStep(ctx, laterStep))
		last := &models.Task{StepID: laterStep.ID, Name: "Sign off"}
		require.NoError(t, store.CreateTask(ctx, last))
		second := &models.Task{StepID: f.step.ID, Name: "Reconcile", Order: 1}
		require.NoError(t, store.CreateTask(ctx, second))

		tasks, err := store.ListWorkflowTasks(ctx, f.workflow.ID)
		require.NoError(t, err)
		require.Len(t, tasks, 3)
		assert.Equal(t, []string{f.task.ID, second.ID, last.ID}, []string{tasks[0].ID, tasks[1].ID, tasks[2].ID})
	})

	t.Run("other tenants see nothing", func(t *testing.T) {
		f := seedFixture(t, ctx, store)
		other := requestctx.WithTenant(ctx, "tenant-b")

		_, err := store.GetWorkflow(other, f.workflow.ID)
		assert.True(t, apperr.IsNotFound(err))
		_, err = store.GetTask(other, f.task.ID)
		assert.True(t, apperr.IsNotFound(err))
		_, err = store.GetNode(other, models.NodeRef{Type: models.NodeTask, ID: f.task.ID})
		assert.True(t, apperr.IsNotFound(err))

		intruder := &models.Task{StepID: f.step.ID, Name: "Planted"}
		err = store.CreateTask(other, intruder)
		assert.True(t, apperr.IsNotFound(err), "a step of another tenant cannot receive tasks")
		err = store.SetTaskField(other, f.task.ID, "priority", "low")
		assert.True(t, apperr.IsNotFound(err))
		err = store.SetCompletedBy(other, f.task.ID, "mallory@example.com")
		assert.True(t, apperr.IsNotFound(err))
		_, err = store.TransitionStatus(other, models.NodeRef{Type: models.NodeSubtask, ID: f.subtask.ID}, models.StatusCompleted)
		assert.True(t, apperr.IsNotFound(err))
		_, err = store.TransitionStatus(other, models.NodeRef{Type: models.NodeChecklistItem, ID: f.item.ID}, models.StatusCompleted)
		assert.True(t, apperr.IsNotFound(err))
		_, err = store.TransitionReview(other, f.task.ID, models.ReviewNone, models.ReviewPendingReview, "")
		assert.True(t, apperr.IsNotFound(err))
		err = store.UpsertDependency(other, models.TaskDependency{
			WorkflowID: f.workflow.ID, FromTaskID: f.task.ID, ToTaskID: f.task.ID, Type: models.FinishToStart,
		})
		assert.True(t, apperr.IsNotFound(err))
		_, err = store.RemoveDependency(other, f.workflow.ID, f.task.ID, f.task.ID)
		assert.True(t, apperr.IsNotFound(err))

		own := requestctx.WithTenant(ctx, "tenant-a")
		task, err := store.GetTask(own, f.task.ID)
		require.NoError(t, err)
		assert.Equal(t, "high", task.Fields["priority"])
		assert.Empty(t, task.CompletedBy)
		assert.Equal(t, models.StatusPending, task.Status)
		assert.Equal(t, models.ReviewNone, task.ReviewStatus)
		node, err := store.GetNode(own, models.NodeRef{Type: models.NodeChecklistItem, ID: f.item.ID})
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, node.Status)
		tasks, err := store.ListWorkflowTasks(own, f.workflow.ID)
		require.NoError(t, err)
		assert.Len(t, tasks, 1)

		mine := &models.Task{StepID: f.step.ID, Name: "Allowed"}
		require.NoError(t, store.CreateTask(own, mine))
		assert.Equal(t, "tenant-a", mine.TenantID)
	})

	t.Run("tenants resolve by domain", func(t *testing.T) {
		tenant := &models.Tenant{Name: "Acme", Domain: "acme-" + newID("") + ".example.com"}
		require.NoError(t, store.CreateTenant(ctx, tenant))

		got, err := store.GetTenantByDomain(ctx, tenant.Domain)
		require.NoError(t, err)
		assert.Equal(t, tenant.ID, got.ID)

		_, err = store.GetTenantByDomain(ctx, "nobody.example.com")
		assert.True(t, apperr.IsNotFound(err))
	})
}
