package dependency

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

func fs(from, to string) models.TaskDependency {
	return models.TaskDependency{WorkflowID: "wf", FromTaskID: from, ToTaskID: to, Type: models.FinishToStart}
}

func TestPath(t *testing.T) {
	g := NewGraph([]string{"a", "b", "c", "d"}, []models.TaskDependency{fs("a", "b"), fs("b", "c")})

	assert.Equal(t, []string{"a", "b", "c"}, g.Path("a", "c"))
	assert.Nil(t, g.Path("c", "a"))
	assert.Nil(t, g.Path("a", "d"))
	assert.Nil(t, g.Path("a", "missing"))
}

func TestWouldCycle(t *testing.T) {
	g := NewGraph([]string{"a", "b", "c"}, []models.TaskDependency{fs("a", "b"), fs("b", "c")})

	assert.Equal(t, []string{"c", "a", "b", "c"}, g.WouldCycle("c", "a"))
	assert.Equal(t, []string{"a", "a"}, g.WouldCycle("a", "a"))
	assert.Nil(t, g.WouldCycle("a", "c"), "a parallel path is not a cycle")
	assert.Nil(t, g.WouldCycle("c", "d"))
}

func TestCycles(t *testing.T) {
	g := NewGraph([]string{"a", "b", "c", "d", "e"}, []models.TaskDependency{
		fs("b", "a"), fs("a", "b"),
		fs("c", "d"),
		fs("e", "e"),
	})

	assert.Equal(t, [][]string{{"a", "b"}, {"e"}}, g.Cycles())

	acyclic := NewGraph([]string{"a", "b"}, []models.TaskDependency{fs("a", "b")})
	assert.Empty(t, acyclic.Cycles())
}

func TestTopologicalOrderIsStable(t *testing.T) {
	g := NewGraph([]string{"a", "b", "c", "d"}, []models.TaskDependency{fs("d", "a")})

	order, ok := g.TopologicalOrder()
	assert.True(t, ok)
	assert.Equal(t, []string{"b", "c", "d", "a"}, order)

	cyclic := NewGraph([]string{"a", "b"}, []models.TaskDependency{fs("a", "b"), fs("b", "a")})
	_, ok = cyclic.TopologicalOrder()
	assert.False(t, ok)
}

func TestDanglingEdgesAreSetAside(t *testing.T) {
	g := NewGraph([]string{"a", "b"}, []models.TaskDependency{fs("a", "b"), fs("a", "ghost")})

	assert.Len(t, g.Successors("a"), 1)
	assert.Equal(t, []models.TaskDependency{fs("a", "ghost")}, g.Dangling())
}
