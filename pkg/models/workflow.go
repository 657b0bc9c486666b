// Package models defines the work-item hierarchy and automation types shared
// by the engine, the stores and the transport layers.
package models

import (
	"time"
)

// Status is the lifecycle state of a hierarchy node.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// TaskKind distinguishes tasks completed by people from tasks completed by automation.
type TaskKind string

const (
	TaskKindManual    TaskKind = "manual"
	TaskKindAutomated TaskKind = "automated"
)

// ReviewStatus tracks the human review gate of a task.
type ReviewStatus string

const (
	ReviewNone          ReviewStatus = "none"
	ReviewPendingReview ReviewStatus = "pending_review"
	ReviewApproved      ReviewStatus = "approved"
	ReviewRejected      ReviewStatus = "rejected"
)

// Workflow is the root of a live assignment: an ordered collection of stages.
type Workflow struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Stage belongs to one workflow and orders its steps.
type Stage struct {
	ID          string       `json:"id"`
	WorkflowID  string       `json:"workflow_id"`
	Name        string       `json:"name"`
	Order       int          `json:"order"`
	AutoAdvance bool         `json:"auto_advance"`
	Status      Status       `json:"status"`
	OnComplete  []ActionSpec `json:"on_complete,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Step belongs to one stage and orders its tasks.
type Step struct {
	ID          string       `json:"id"`
	StageID     string       `json:"stage_id"`
	WorkflowID  string       `json:"workflow_id"`
	Name        string       `json:"name"`
	Order       int          `json:"order"`
	AutoAdvance bool         `json:"auto_advance"`
	Status      Status       `json:"status"`
	OnComplete  []ActionSpec `json:"on_complete,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Task is the unit of work. Its subtasks and checklist items are its children
// for the purpose of auto-advance.
type Task struct {
	ID                string         `json:"id"`
	StepID            string         `json:"step_id"`
	WorkflowID        string         `json:"workflow_id"`
	TenantID          string         `json:"tenant_id"`
	Name              string         `json:"name"`
	Order             int            `json:"order"`
	Kind              TaskKind       `json:"kind"`
	Status            Status         `json:"status"`
	AutoAdvance       bool           `json:"auto_advance"`
	AutomationActions []ActionSpec   `json:"automation_actions,omitempty"`
	ReviewRequired    bool           `json:"review_required"`
	ReviewStatus      ReviewStatus   `json:"review_status"`
	ReviewedBy        string         `json:"reviewed_by,omitempty"`
	EstimatedMinutes  *int           `json:"estimated_minutes,omitempty"`
	Fields            map[string]any `json:"fields,omitempty"`
	CompletedBy       string         `json:"completed_by,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// TaskSpec describes a task to be created under an existing step, either by
// the create_task action or by template seeding.
type TaskSpec struct {
	Name             string         `json:"name" yaml:"name" validate:"required"`
	Kind             TaskKind       `json:"kind,omitempty" yaml:"kind,omitempty" validate:"omitempty,oneof=manual automated"`
	AutoAdvance      bool           `json:"auto_advance,omitempty" yaml:"auto_advance,omitempty"`
	ReviewRequired   bool           `json:"review_required,omitempty" yaml:"review_required,omitempty"`
	EstimatedMinutes *int           `json:"estimated_minutes,omitempty" yaml:"estimated_minutes,omitempty" validate:"omitempty,min=0"`
	Fields           map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Subtask is a leaf under a task.
type Subtask struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	Name        string     `json:"name"`
	Order       int        `json:"order"`
	Status      Status     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ChecklistItem is a leaf under a task; checked maps to completed.
type ChecklistItem struct {
	ID        string     `json:"id"`
	TaskID    string     `json:"task_id"`
	Label     string     `json:"label"`
	Order     int        `json:"order"`
	Checked   bool       `json:"checked"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
}
