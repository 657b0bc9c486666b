package models

import "fmt"

// NodeType names a level of the work-item hierarchy.
type NodeType string

const (
	NodeWorkflow      NodeType = "workflow"
	NodeStage         NodeType = "stage"
	NodeStep          NodeType = "step"
	NodeTask          NodeType = "task"
	NodeSubtask       NodeType = "subtask"
	NodeChecklistItem NodeType = "checklist_item"
)

// ParseNodeType converts user input into a NodeType.
func ParseNodeType(s string) (NodeType, error) {
	switch t := NodeType(s); t {
	case NodeWorkflow, NodeStage, NodeStep, NodeTask, NodeSubtask, NodeChecklistItem:
		return t, nil
	}
	return "", fmt.Errorf("unknown node type %q", s)
}

// IsLeaf reports whether nodes of this type have no children.
func (t NodeType) IsLeaf() bool {
	return t == NodeSubtask || t == NodeChecklistItem
}

// ParentType returns the type of the containing level. Leaves share the task
// as their parent, and the workflow has none.
func (t NodeType) ParentType() (NodeType, bool) {
	switch t {
	case NodeSubtask, NodeChecklistItem:
		return NodeTask, true
	case NodeTask:
		return NodeStep, true
	case NodeStep:
		return NodeStage, true
	case NodeStage:
		return NodeWorkflow, true
	}
	return "", false
}

// NodeRef identifies one node of the hierarchy.
type NodeRef struct {
	Type NodeType `json:"type"`
	ID   string   `json:"id"`
}

func (r NodeRef) String() string {
	return string(r.Type) + ":" + r.ID
}

// Node is the uniform view of any hierarchy row used by the cascade.
type Node struct {
	Ref            NodeRef      `json:"ref"`
	Parent         *NodeRef     `json:"parent,omitempty"`
	TenantID       string       `json:"tenant_id"`
	WorkflowID     string       `json:"workflow_id"`
	Status         Status       `json:"status"`
	AutoAdvance    bool         `json:"auto_advance"`
	ReviewRequired bool         `json:"review_required,omitempty"`
	ReviewStatus   ReviewStatus `json:"review_status,omitempty"`
	OnComplete     []ActionSpec `json:"on_complete,omitempty"`
}

// Completed reports whether the node reached its terminal state.
func (n Node) Completed() bool {
	return n.Status == StatusCompleted
}
