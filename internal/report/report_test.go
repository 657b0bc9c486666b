package report

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

func TestFormatMinutes(t *testing.T) {
	cases := map[int]string{
		0:    "0m",
		45:   "45m",
		60:   "1h",
		1440: "1d",
		1505: "1d 1h 5m",
		-90:  "-1h 30m",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatMinutes(in), "minutes %d", in)
	}
}

func TestScheduleListsEveryTask(t *testing.T) {
	out := Schedule(&models.CriticalPath{
		WorkflowID:      "wf-1",
		ProjectDuration: 180,
		Tasks: []models.TaskSchedule{
			{TaskID: "a", Name: "Plan", Duration: 60, EarliestFinish: 60, LatestFinish: 60, Critical: true},
			{TaskID: "b", Name: "Review", Duration: 30, EarliestFinish: 30, LatestStart: 30, LatestFinish: 60, Slack: 30},
		},
		CriticalTaskIDs: []string{"a"},
	})
	assert.Contains(t, out, "wf-1")
	assert.Contains(t, out, "Plan")
	assert.Contains(t, out, "Review")
	assert.Contains(t, out, "30m")
	assert.Contains(t, out, "Project duration: 3h, 1 critical of 2 tasks")
}

func TestValidation(t *testing.T) {
	assert.Contains(t, Validation("wf-1", &models.DependencyValidation{Valid: true}), "dependency graph is valid")

	out := Validation("wf-1", &models.DependencyValidation{
		CycleTaskIDs:  []string{"a", "b"},
		DanglingEdges: []models.TaskDependency{{FromTaskID: "a", ToTaskID: "gone", Type: models.FinishToStart}},
	})
	assert.Contains(t, out, "dependency graph is invalid")
	assert.Contains(t, out, "Tasks on a cycle: a, b")
	assert.Contains(t, out, "gone")
}
