package models

import "fmt"

// DependencyType is the scheduling relation between two tasks.
type DependencyType string

const (
	FinishToStart  DependencyType = "finish_to_start"
	StartToStart   DependencyType = "start_to_start"
	FinishToFinish DependencyType = "finish_to_finish"
	StartToFinish  DependencyType = "start_to_finish"
)

// ParseDependencyType accepts both the underscore and the hyphenated spelling.
func ParseDependencyType(s string) (DependencyType, error) {
	switch s {
	case "", "finish_to_start", "finish-to-start", "FS":
		return FinishToStart, nil
	case "start_to_start", "start-to-start", "SS":
		return StartToStart, nil
	case "finish_to_finish", "finish-to-finish", "FF":
		return FinishToFinish, nil
	case "start_to_finish", "start-to-finish", "SF":
		return StartToFinish, nil
	}
	return "", fmt.Errorf("unknown dependency type %q", s)
}

// TaskDependency is a directed edge From -> To inside one workflow.
type TaskDependency struct {
	WorkflowID string         `json:"workflow_id"`
	FromTaskID string         `json:"from_task_id"`
	ToTaskID   string         `json:"to_task_id"`
	Type       DependencyType `json:"type"`
	LagMinutes int            `json:"lag_minutes"`
}

// TaskSchedule is the critical-path result for a single task, in minutes.
type TaskSchedule struct {
	TaskID         string `json:"task_id"`
	Name           string `json:"name"`
	Duration       int    `json:"duration"`
	EarliestStart  int    `json:"earliest_start"`
	EarliestFinish int    `json:"earliest_finish"`
	LatestStart    int    `json:"latest_start"`
	LatestFinish   int    `json:"latest_finish"`
	Slack          int    `json:"slack"`
	Critical       bool   `json:"critical"`
}

// CriticalPath is the schedule of a workflow's task graph.
type CriticalPath struct {
	WorkflowID      string         `json:"workflow_id"`
	ProjectDuration int            `json:"project_duration"`
	Tasks           []TaskSchedule `json:"tasks"`
	CriticalTaskIDs []string       `json:"critical_task_ids"`
}

// DependencyValidation is the result of a full-graph check.
type DependencyValidation struct {
	Valid         bool             `json:"valid"`
	CycleTaskIDs  []string         `json:"cycle_task_ids,omitempty"`
	DanglingEdges []TaskDependency `json:"dangling_edges,omitempty"`
}
