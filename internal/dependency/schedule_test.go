package dependency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vithaluntold/accute1-sub000/internal/apperr"
	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

func task(id string, minutes int) *models.Task {
	return &models.Task{ID: id, Name: "Task " + id, EstimatedMinutes: &minutes}
}

func edge(from, to string, typ models.DependencyType, lag int) models.TaskDependency {
	return models.TaskDependency{WorkflowID: "wf", FromTaskID: from, ToTaskID: to, Type: typ, LagMinutes: lag}
}

func scheduleOf(t *testing.T, cp *models.CriticalPath, id string) models.TaskSchedule {
	t.Helper()
	for _, ts := range cp.Tasks {
		if ts.TaskID == id {
			return ts
		}
	}
	t.Fatalf("task %s not scheduled", id)
	return models.TaskSchedule{}
}

func TestCriticalPathChain(t *testing.T) {
	tasks := []*models.Task{task("a", 1), task("b", 2), task("c", 3)}
	edges := []models.TaskDependency{fs("a", "b"), fs("b", "c")}

	cp, err := CriticalPath("wf", tasks, edges, Options{})
	require.NoError(t, err)

	assert.Equal(t, 6, cp.ProjectDuration)
	assert.Equal(t, 6, scheduleOf(t, cp, "c").EarliestFinish)
	assert.Equal(t, 1, scheduleOf(t, cp, "b").EarliestStart)
	assert.Equal(t, []string{"a", "b", "c"}, cp.CriticalTaskIDs)
}

func TestCriticalPathDiamondReportsSlack(t *testing.T) {
	tasks := []*models.Task{task("a", 2), task("b", 3), task("c", 1), task("d", 1)}
	edges := []models.TaskDependency{fs("a", "b"), fs("a", "c"), fs("b", "d"), fs("c", "d")}

	cp, err := CriticalPath("wf", tasks, edges, Options{})
	require.NoError(t, err)

	assert.Equal(t, 6, cp.ProjectDuration)
	c := scheduleOf(t, cp, "c")
	assert.Equal(t, 2, c.Slack)
	assert.False(t, c.Critical)
	assert.Equal(t, []string{"a", "b", "d"}, cp.CriticalTaskIDs)
}

func TestCriticalPathReportsEveryTiedPath(t *testing.T) {
	tasks := []*models.Task{task("a", 1), task("b", 2), task("c", 2), task("d", 1)}
	edges := []models.TaskDependency{fs("a", "b"), fs("a", "c"), fs("b", "d"), fs("c", "d")}

	cp, err := CriticalPath("wf", tasks, edges, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, cp.CriticalTaskIDs)
}

func TestCriticalPathDependencyTypes(t *testing.T) {
	tests := []struct {
		name       string
		edge       models.TaskDependency
		durA, durB int
		wantES     int
		wantEF     int
	}{
		{"finish to start with lag", edge("a", "b", models.FinishToStart, 5), 10, 5, 15, 20},
		{"start to start", edge("a", "b", models.StartToStart, 2), 10, 5, 2, 7},
		{"finish to finish", edge("a", "b", models.FinishToFinish, 0), 5, 2, 3, 5},
		{"start to finish", edge("a", "b", models.StartToFinish, 3), 4, 2, 1, 3},
		{"start clamps at zero", edge("a", "b", models.FinishToFinish, 0), 1, 5, 0, 5},
		{"negative lag overlaps", edge("a", "b", models.FinishToStart, -3), 10, 5, 7, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp, err := CriticalPath("wf", []*models.Task{task("a", tt.durA), task("b", tt.durB)},
				[]models.TaskDependency{tt.edge}, Options{})
			require.NoError(t, err)

			b := scheduleOf(t, cp, "b")
			assert.Equal(t, tt.wantES, b.EarliestStart)
			assert.Equal(t, tt.wantEF, b.EarliestFinish)
			for _, ts := range cp.Tasks {
				assert.GreaterOrEqual(t, ts.Slack, 0, ts.TaskID)
			}
		})
	}
}

func TestCriticalPathAnchors(t *testing.T) {
	tasks := []*models.Task{task("a", 10), task("b", 5)}
	edges := []models.TaskDependency{edge("a", "b", models.StartToStart, 2)}

	sink, err := CriticalPath("wf", tasks, edges, Options{Anchor: AnchorSink})
	require.NoError(t, err)
	assert.Equal(t, 0, scheduleOf(t, sink, "b").Slack)
	assert.Equal(t, 0, scheduleOf(t, sink, "a").Slack)

	project, err := CriticalPath("wf", tasks, edges, Options{Anchor: AnchorProject})
	require.NoError(t, err)
	assert.Equal(t, 10, project.ProjectDuration)
	assert.Equal(t, 3, scheduleOf(t, project, "b").Slack)
	assert.Equal(t, 10, scheduleOf(t, project, "a").LatestFinish)
	assert.Equal(t, []string{"a"}, project.CriticalTaskIDs)
}

func TestCriticalPathDefaultDuration(t *testing.T) {
	tasks := []*models.Task{{ID: "a", Name: "no estimate"}}

	cp, err := CriticalPath("wf", tasks, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultDurationMinutes, cp.ProjectDuration)

	cp, err = CriticalPath("wf", tasks, nil, Options{DefaultDuration: 60})
	require.NoError(t, err)
	assert.Equal(t, 60, cp.ProjectDuration)
}

func TestCriticalPathRejectsCycles(t *testing.T) {
	tasks := []*models.Task{task("a", 1), task("b", 1), task("c", 1)}
	edges := []models.TaskDependency{fs("a", "b"), fs("b", "a"), fs("b", "c")}

	_, err := CriticalPath("wf", tasks, edges, Options{})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))

	var coded *apperr.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, []string{"a", "b"}, coded.Details["cycle_task_ids"])
}

func TestCriticalPathIsDeterministic(t *testing.T) {
	tasks := []*models.Task{task("a", 3), task("b", 3), task("c", 2), task("d", 4)}
	edges := []models.TaskDependency{fs("a", "c"), fs("b", "c"), edge("c", "d", models.StartToStart, 1)}

	first, err := CriticalPath("wf", tasks, edges, Options{})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := CriticalPath("wf", tasks, edges, Options{})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCriticalPathEmptyWorkflow(t *testing.T) {
	cp, err := CriticalPath("wf", nil, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, cp.ProjectDuration)
	assert.Empty(t, cp.Tasks)
	assert.Empty(t, cp.CriticalTaskIDs)
}

func TestValidate(t *testing.T) {
	ok := Validate([]string{"a", "b"}, []models.TaskDependency{fs("a", "b")})
	assert.True(t, ok.Valid)

	cyclic := Validate([]string{"a", "b", "c"}, []models.TaskDependency{fs("a", "b"), fs("b", "c"), fs("c", "a")})
	assert.False(t, cyclic.Valid)
	assert.Equal(t, []string{"a", "b", "c"}, cyclic.CycleTaskIDs)

	dangling := Validate([]string{"a"}, []models.TaskDependency{fs("a", "gone")})
	assert.False(t, dangling.Valid)
	assert.Len(t, dangling.DanglingEdges, 1)
}
