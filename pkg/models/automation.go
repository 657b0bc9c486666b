package models

import (
	"context"
	"encoding/json"
	"fmt"
)

// Operator is a comparison used by a leaf condition.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpContains Operator = "contains"
	OpExists   Operator = "exists"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpContains, OpExists:
		return true
	}
	return false
}

// Combinator joins the children of a condition group.
type Combinator string

const (
	CombinatorAnd Combinator = "AND"
	CombinatorOr  Combinator = "OR"
)

// ConditionSet is either a single condition (Field/Operator/Value) or a group
// (Combinator/Children). The zero value has no conditions and always holds.
type ConditionSet struct {
	Field      string         `json:"field,omitempty"`
	Operator   Operator       `json:"operator,omitempty"`
	Value      any            `json:"value,omitempty"`
	Combinator Combinator     `json:"combinator,omitempty"`
	Children   []ConditionSet `json:"children,omitempty"`
}

// IsGroup reports whether the set combines children rather than testing a field.
func (c ConditionSet) IsGroup() bool {
	return c.Combinator != "" || len(c.Children) > 0
}

// IsEmpty reports whether the set carries no condition at all.
func (c ConditionSet) IsEmpty() bool {
	return c.Field == "" && c.Operator == "" && c.Value == nil && c.Combinator == "" && len(c.Children) == 0
}

// ActionType tags the closed set of automation actions.
type ActionType string

const (
	ActionNotify     ActionType = "notify"
	ActionSetField   ActionType = "set_field"
	ActionCreateTask ActionType = "create_task"
	ActionWebhook    ActionType = "invoke_webhook"
	ActionAgent      ActionType = "invoke_agent"
)

// ActionVisitor handles every Action variant. Adding a variant to this
// interface forces every implementation to handle it.
type ActionVisitor interface {
	VisitNotify(ctx context.Context, a *NotifyAction) (any, error)
	VisitSetField(ctx context.Context, a *SetFieldAction) (any, error)
	VisitCreateTask(ctx context.Context, a *CreateTaskAction) (any, error)
	VisitWebhook(ctx context.Context, a *WebhookAction) (any, error)
	VisitAgent(ctx context.Context, a *AgentAction) (any, error)
}

// Action is one typed side effect. The set of implementations is closed to
// this package.
type Action interface {
	Type() ActionType
	Accept(ctx context.Context, v ActionVisitor) (any, error)
	sealed()
}

// NotifyAction sends a message to a user, role or channel.
type NotifyAction struct {
	Target  string `json:"target" validate:"required"`
	Message string `json:"message" validate:"required"`
}

// SetFieldAction writes a field on a task. An empty EntityID targets the
// task running the automation.
type SetFieldAction struct {
	EntityID string `json:"entity_id,omitempty"`
	Field    string `json:"field" validate:"required"`
	Value    any    `json:"value"`
}

// CreateTaskAction creates a task under a step. An empty StepID targets the
// step of the running task.
type CreateTaskAction struct {
	StepID string   `json:"step_id,omitempty"`
	Task   TaskSpec `json:"task" validate:"required"`
}

// WebhookAction posts a JSON payload to an external endpoint.
type WebhookAction struct {
	URL     string         `json:"url" validate:"required,url"`
	Payload map[string]any `json:"payload,omitempty"`
}

// AgentAction invokes an AI agent as a black box.
type AgentAction struct {
	AgentID string         `json:"agent_id" validate:"required"`
	Input   map[string]any `json:"input,omitempty"`
}

func (*NotifyAction) Type() ActionType     { return ActionNotify }
func (*SetFieldAction) Type() ActionType   { return ActionSetField }
func (*CreateTaskAction) Type() ActionType { return ActionCreateTask }
func (*WebhookAction) Type() ActionType    { return ActionWebhook }
func (*AgentAction) Type() ActionType      { return ActionAgent }

func (*NotifyAction) sealed()     {}
func (*SetFieldAction) sealed()   {}
func (*CreateTaskAction) sealed() {}
func (*WebhookAction) sealed()    {}
func (*AgentAction) sealed()      {}

func (a *NotifyAction) Accept(ctx context.Context, v ActionVisitor) (any, error) {
	return v.VisitNotify(ctx, a)
}

func (a *SetFieldAction) Accept(ctx context.Context, v ActionVisitor) (any, error) {
	return v.VisitSetField(ctx, a)
}

func (a *CreateTaskAction) Accept(ctx context.Context, v ActionVisitor) (any, error) {
	return v.VisitCreateTask(ctx, a)
}

func (a *WebhookAction) Accept(ctx context.Context, v ActionVisitor) (any, error) {
	return v.VisitWebhook(ctx, a)
}

func (a *AgentAction) Accept(ctx context.Context, v ActionVisitor) (any, error) {
	return v.VisitAgent(ctx, a)
}

// ActionSpec gates a list of actions behind a condition set.
type ActionSpec struct {
	Conditions ConditionSet `json:"conditions"`
	Actions    ActionList   `json:"actions"`
}

// ActionList is an ordered list of actions with a tagged JSON encoding:
// {"type": "notify", "params": {...}}.
type ActionList []Action

type actionEnvelope struct {
	Type   ActionType      `json:"type"`
	Params json.RawMessage `json:"params"`
}

// MarshalJSON encodes each action inside its type envelope.
func (l ActionList) MarshalJSON() ([]byte, error) {
	out := make([]actionEnvelope, 0, len(l))
	for i, a := range l {
		if a == nil {
			return nil, fmt.Errorf("action %d is nil", i)
		}
		params, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal action %d: %w", i, err)
		}
		out = append(out, actionEnvelope{Type: a.Type(), Params: params})
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes type envelopes into concrete actions.
func (l *ActionList) UnmarshalJSON(data []byte) error {
	var envs []actionEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return err
	}
	list := make(ActionList, 0, len(envs))
	for i, env := range envs {
		a, err := DecodeAction(env.Type, env.Params)
		if err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		list = append(list, a)
	}
	*l = list
	return nil
}

// DecodeAction builds the concrete action for a type tag.
func DecodeAction(t ActionType, params json.RawMessage) (Action, error) {
	var a Action
	switch t {
	case ActionNotify:
		a = &NotifyAction{}
	case ActionSetField:
		a = &SetFieldAction{}
	case ActionCreateTask:
		a = &CreateTaskAction{}
	case ActionWebhook:
		a = &WebhookAction{}
	case ActionAgent:
		a = &AgentAction{}
	default:
		return nil, fmt.Errorf("unknown action type %q", t)
	}
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, a); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", t, err)
		}
	}
	return a, nil
}
