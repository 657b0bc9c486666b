package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/vithaluntold/accute1-sub000/internal/apperr"
	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

func minutes(n int) func(*models.Task) {
	return func(t *models.Task) { t.EstimatedMinutes = &n }
}

func (h *hierarchy) dep(from, to string) models.TaskDependency {
	return models.TaskDependency{WorkflowID: h.wf.ID, FromTaskID: from, ToTaskID: to}
}

func TestAddDependencyRejectsCycles(t *testing.T) {
	ctx := context.Background()
	h := newHierarchy(t)
	a := h.addTask(t, "A")
	b := h.addTask(t, "B")
	c := h.addTask(t, "C")

	added, err := h.engine.AddDependency(ctx, h.dep(a.ID, b.ID))
	require.NoError(t, err)
	assert.Equal(t, models.FinishToStart, added.Type)
	_, err = h.engine.AddDependency(ctx, h.dep(b.ID, c.ID))
	require.NoError(t, err)

	_, err = h.engine.AddDependency(ctx, h.dep(c.ID, a.ID))
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	var coded *apperr.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, []string{c.ID, a.ID, b.ID, c.ID}, coded.Details["cycle"])

	edges, err := h.store.ListDependencies(ctx, h.wf.ID)
	require.NoError(t, err)
	assert.Len(t, edges, 2, "a rejected edge is never written")
}

func TestAddDependencyValidatesInput(t *testing.T) {
	ctx := context.Background()
	h := newHierarchy(t)
	a := h.addTask(t, "A")
	b := h.addTask(t, "B")

	_, err := h.engine.AddDependency(ctx, h.dep(a.ID, a.ID))
	assert.True(t, apperr.IsValidation(err))

	bad := h.dep(a.ID, b.ID)
	bad.Type = "before"
	_, err = h.engine.AddDependency(ctx, bad)
	assert.True(t, apperr.IsValidation(err))

	_, err = h.engine.AddDependency(ctx, h.dep(a.ID, "missing"))
	assert.True(t, apperr.IsNotFound(err))

	otherWf := &models.Workflow{TenantID: "tenant-a", Name: "Other"}
	require.NoError(t, h.store.CreateWorkflow(ctx, otherWf))
	_, err = h.engine.AddDependency(ctx, models.TaskDependency{WorkflowID: otherWf.ID, FromTaskID: a.ID, ToTaskID: b.ID})
	assert.True(t, apperr.IsValidation(err))
}

func TestAddDependencyUpserts(t *testing.T) {
	ctx := context.Background()
	h := newHierarchy(t)
	a := h.addTask(t, "A")
	b := h.addTask(t, "B")

	_, err := h.engine.AddDependency(ctx, h.dep(a.ID, b.ID))
	require.NoError(t, err)
	update := h.dep(a.ID, b.ID)
	update.Type = "SS"
	update.LagMinutes = 30
	_, err = h.engine.AddDependency(ctx, update)
	require.NoError(t, err)

	edges, err := h.engine.ListDependencies(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, models.StartToStart, edges[0].Type)
	assert.Equal(t, 30, edges[0].LagMinutes)
}

func TestRemoveDependency(t *testing.T) {
	ctx := context.Background()
	h := newHierarchy(t)
	a := h.addTask(t, "A")
	b := h.addTask(t, "B")

	_, err := h.engine.AddDependency(ctx, h.dep(a.ID, b.ID))
	require.NoError(t, err)
	require.NoError(t, h.engine.RemoveDependency(ctx, h.wf.ID, a.ID, b.ID))

	err = h.engine.RemoveDependency(ctx, h.wf.ID, a.ID, b.ID)
	assert.True(t, apperr.IsNotFound(err))

	edges, err := h.engine.ListDependencies(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestComputeCriticalPath(t *testing.T) {
	ctx := context.Background()
	h := newHierarchy(t)
	a := h.addTask(t, "A", minutes(1))
	b := h.addTask(t, "B", minutes(2))
	c := h.addTask(t, "C", minutes(3))
	_, err := h.engine.AddDependency(ctx, h.dep(a.ID, b.ID))
	require.NoError(t, err)
	_, err = h.engine.AddDependency(ctx, h.dep(b.ID, c.ID))
	require.NoError(t, err)

	cp, err := h.engine.ComputeCriticalPath(ctx, h.wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, cp.ProjectDuration)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, cp.CriticalTaskIDs)
	assert.Equal(t, 6, cp.Tasks[2].EarliestFinish)

	_, err = h.engine.ComputeCriticalPath(ctx, "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestValidateDependenciesFindsRacedCycle(t *testing.T) {
	ctx := context.Background()
	h := newHierarchy(t)
	a := h.addTask(t, "A")
	b := h.addTask(t, "B")
	_, err := h.engine.AddDependency(ctx, h.dep(a.ID, b.ID))
	require.NoError(t, err)

	v, err := h.engine.ValidateDependencies(ctx, h.wf.ID)
	require.NoError(t, err)
	assert.True(t, v.Valid)

	// an edge written around the engine's cycle check
	require.NoError(t, h.store.UpsertDependency(ctx, h.dep(b.ID, a.ID)))

	v, err = h.engine.ValidateDependencies(ctx, h.wf.ID)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, v.CycleTaskIDs)

	_, err = h.engine.ComputeCriticalPath(ctx, h.wf.ID)
	assert.True(t, apperr.IsValidation(err))
}

func TestConcurrentAddDependencyKeepsGraphAcyclic(t *testing.T) {
	ctx := context.Background()
	h := newHierarchy(t)
	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, h.addTask(t, "T").ID)
	}

	var g errgroup.Group
	for _, from := range ids {
		for _, to := range ids {
			if from == to {
				continue
			}
			g.Go(func() error {
				_, err := h.engine.AddDependency(ctx, h.dep(from, to))
				if err != nil && !apperr.IsValidation(err) {
					return err
				}
				return nil
			})
		}
	}
	require.NoError(t, g.Wait())

	v, err := h.engine.ValidateDependencies(ctx, h.wf.ID)
	require.NoError(t, err)
	assert.True(t, v.Valid)

	// edges are never removed, so of each opposite pair exactly one survives
	edges, err := h.store.ListDependencies(ctx, h.wf.ID)
	require.NoError(t, err)
	assert.Len(t, edges, len(ids)*(len(ids)-1)/2)
}
