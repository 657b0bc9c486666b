package automation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/vithaluntold/accute1-sub000/internal/apperr"
	"github.com/vithaluntold/accute1-sub000/internal/logging"
	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

// Capabilities performs the side effects behind each action variant.
type Capabilities interface {
	Notify(ctx context.Context, target, message string) error
	SetField(ctx context.Context, entityID, field string, value any) error
	CreateTask(ctx context.Context, stepID string, spec models.TaskSpec) (string, error)
	InvokeWebhook(ctx context.Context, url string, payload map[string]any) (any, error)
	InvokeAgent(ctx context.Context, agentID string, input map[string]any) (any, error)
}

// TaskContext is what an automation runs for: a task, or for container
// completion hooks the step or stage node, plus caller-supplied values
// exposed to conditions and placeholders.
type TaskContext struct {
	Task  *models.Task
	Node  *models.Node
	Extra map[string]any
}

// Data builds the bag conditions are evaluated against. Task fields are
// reachable both as task.fields.x and as fields.x.
func (tc TaskContext) Data() map[string]any {
	data := make(map[string]any, len(tc.Extra)+2)
	for k, v := range tc.Extra {
		data[k] = v
	}
	if tc.Node != nil {
		data["node"] = map[string]any{
			"type":        string(tc.Node.Ref.Type),
			"id":          tc.Node.Ref.ID,
			"workflow_id": tc.Node.WorkflowID,
			"status":      string(tc.Node.Status),
		}
	}
	if tc.Task == nil {
		return data
	}
	fields := make(map[string]any, len(tc.Task.Fields))
	for k, v := range tc.Task.Fields {
		fields[k] = v
	}
	task := map[string]any{
		"id":              tc.Task.ID,
		"name":            tc.Task.Name,
		"status":          string(tc.Task.Status),
		"kind":            string(tc.Task.Kind),
		"step_id":         tc.Task.StepID,
		"workflow_id":     tc.Task.WorkflowID,
		"review_required": tc.Task.ReviewRequired,
		"review_status":   string(tc.Task.ReviewStatus),
		"fields":          fields,
	}
	if tc.Task.EstimatedMinutes != nil {
		task["estimated_minutes"] = *tc.Task.EstimatedMinutes
	}
	data["task"] = task
	data["fields"] = fields
	return data
}

// ActionResult is the outcome of one attempted action. Failures are recorded
// here and never raised.
type ActionResult struct {
	Spec    int               `json:"spec"`
	Index   int               `json:"index"`
	Type    models.ActionType `json:"type"`
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	Output  any               `json:"output,omitempty"`
}

// AllSucceeded reports whether every result succeeded.
func AllSucceeded(results []ActionResult) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}

// Failures returns the failed results.
func Failures(results []ActionResult) []ActionResult {
	var out []ActionResult
	for _, r := range results {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out
}

// Executor runs action lists sequentially against Capabilities.
type Executor struct {
	caps     Capabilities
	logger   *logging.Logger
	validate *validator.Validate
	actions  metric.Int64Counter
}

// NewExecutor creates an Executor.
func NewExecutor(caps Capabilities, logger *logging.Logger) *Executor {
	counter, err := otel.Meter("github.com/vithaluntold/accute1-sub000/internal/automation").
		Int64Counter("automation.actions", metric.WithDescription("Automation actions attempted"))
	if err != nil {
		logger.Warn("automation metrics disabled", "error", err)
	}
	return &Executor{
		caps:     caps,
		logger:   logger,
		validate: validator.New(),
		actions:  counter,
	}
}

// ValidateAction checks an action's parameters.
func (e *Executor) ValidateAction(a models.Action) error {
	if a == nil {
		return apperr.Validation("action is nil")
	}
	if err := e.validate.Struct(a); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return apperr.Validation("%s: %s", a.Type(), strings.Join(msgs, ", "))
		}
		return apperr.Validation("%s: %v", a.Type(), err)
	}
	return nil
}

// ValidateSpecs checks every condition set and action of specs.
func (e *Executor) ValidateSpecs(specs []models.ActionSpec) error {
	for i, spec := range specs {
		if err := ValidateConditions(spec.Conditions); err != nil {
			return apperr.Validation("spec %d: %s", i, apperr.MessageOf(err)).WithDetail("spec", i)
		}
		for j, a := range spec.Actions {
			if err := e.ValidateAction(a); err != nil {
				return apperr.Validation("spec %d action %d: %s", i, j, apperr.MessageOf(err)).
					WithDetail("spec", i).WithDetail("action", j)
			}
		}
	}
	return nil
}

// ExecuteSpecs runs the actions of every spec whose conditions hold.
func (e *Executor) ExecuteSpecs(ctx context.Context, specs []models.ActionSpec, tc TaskContext) []ActionResult {
	data := tc.Data()
	var results []ActionResult
	for i, spec := range specs {
		if !Evaluate(spec.Conditions, data) {
			e.logger.Debug("automation spec skipped", "spec", i, "subject", subject(tc))
			continue
		}
		for _, r := range e.run(ctx, spec.Actions, tc, data) {
			r.Spec = i
			r.Index = len(results)
			results = append(results, r)
		}
	}
	return results
}

// ExecuteActions attempts every action in order. A failure never stops the
// remaining actions.
func (e *Executor) ExecuteActions(ctx context.Context, actions []models.Action, tc TaskContext) []ActionResult {
	return e.run(ctx, actions, tc, tc.Data())
}

func (e *Executor) run(ctx context.Context, actions []models.Action, tc TaskContext, data map[string]any) []ActionResult {
	v := &visitor{caps: e.caps, tc: tc}
	results := make([]ActionResult, 0, len(actions))
	for i, a := range actions {
		r := ActionResult{Index: i}
		if a != nil {
			r.Type = a.Type()
		}
		rendered := render(a, data)
		if err := e.ValidateAction(rendered); err != nil {
			r.Error = err.Error()
		} else if out, err := accept(ctx, rendered, v); err != nil {
			r.Error = err.Error()
		} else {
			r.Success, r.Output = true, out
		}

		if r.Success {
			e.logger.Debug("automation action succeeded", "index", i, "type", r.Type, "subject", subject(tc))
		} else {
			e.logger.Warn("automation action failed", "index", i, "type", r.Type, "subject", subject(tc), "error", r.Error)
		}
		if e.actions != nil {
			e.actions.Add(ctx, 1, metric.WithAttributes(
				attribute.String("type", string(r.Type)),
				attribute.Bool("success", r.Success),
			))
		}
		results = append(results, r)
	}
	return results
}

// accept dispatches a to v, turning a panicking capability into an error.
func accept(ctx context.Context, a models.Action, v models.ActionVisitor) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("action panicked: %v", p)
		}
	}()
	return a.Accept(ctx, v)
}

func taskID(tc TaskContext) string {
	if tc.Task == nil {
		return ""
	}
	return tc.Task.ID
}

func subject(tc TaskContext) string {
	switch {
	case tc.Task != nil:
		return "task:" + tc.Task.ID
	case tc.Node != nil:
		return tc.Node.Ref.String()
	}
	return ""
}

type visitor struct {
	caps Capabilities
	tc   TaskContext
}

func (v *visitor) VisitNotify(ctx context.Context, a *models.NotifyAction) (any, error) {
	return nil, v.caps.Notify(ctx, a.Target, a.Message)
}

func (v *visitor) VisitSetField(ctx context.Context, a *models.SetFieldAction) (any, error) {
	entityID := a.EntityID
	if entityID == "" {
		entityID = taskID(v.tc)
	}
	if entityID == "" {
		return nil, errors.New("set_field: no target task")
	}
	if err := v.caps.SetField(ctx, entityID, a.Field, a.Value); err != nil {
		return nil, err
	}
	return map[string]any{"entity_id": entityID, "field": a.Field}, nil
}

func (v *visitor) VisitCreateTask(ctx context.Context, a *models.CreateTaskAction) (any, error) {
	stepID := a.StepID
	switch {
	case stepID != "":
	case v.tc.Task != nil:
		stepID = v.tc.Task.StepID
	case v.tc.Node != nil && v.tc.Node.Ref.Type == models.NodeStep:
		stepID = v.tc.Node.Ref.ID
	}
	if stepID == "" {
		return nil, errors.New("create_task: no target step")
	}
	id, err := v.caps.CreateTask(ctx, stepID, a.Task)
	if err != nil {
		return nil, err
	}
	return map[string]any{"task_id": id}, nil
}

func (v *visitor) VisitWebhook(ctx context.Context, a *models.WebhookAction) (any, error) {
	return v.caps.InvokeWebhook(ctx, a.URL, a.Payload)
}

func (v *visitor) VisitAgent(ctx context.Context, a *models.AgentAction) (any, error) {
	return v.caps.InvokeAgent(ctx, a.AgentID, a.Input)
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)

// renderString replaces {{path}} placeholders with values from data.
// Unknown paths render empty.
func renderString(s string, data map[string]any) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		path := placeholder.FindStringSubmatch(m)[1]
		v, ok := Lookup(data, path)
		if !ok {
			return ""
		}
		return fmt.Sprint(v)
	})
}

func renderValue(v any, data map[string]any) any {
	switch t := v.(type) {
	case string:
		return renderString(t, data)
	case map[string]any:
		return renderMap(t, data)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = renderValue(item, data)
		}
		return out
	}
	return v
}

func renderMap(m map[string]any, data map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = renderValue(v, data)
	}
	return out
}

// render returns a copy of a with placeholders substituted. The stored
// action is never modified.
func render(a models.Action, data map[string]any) models.Action {
	switch t := a.(type) {
	case *models.NotifyAction:
		return &models.NotifyAction{Target: renderString(t.Target, data), Message: renderString(t.Message, data)}
	case *models.SetFieldAction:
		return &models.SetFieldAction{
			EntityID: renderString(t.EntityID, data),
			Field:    renderString(t.Field, data),
			Value:    renderValue(t.Value, data),
		}
	case *models.CreateTaskAction:
		spec := t.Task
		spec.Name = renderString(spec.Name, data)
		spec.Fields = renderMap(spec.Fields, data)
		return &models.CreateTaskAction{StepID: renderString(t.StepID, data), Task: spec}
	case *models.WebhookAction:
		return &models.WebhookAction{URL: renderString(t.URL, data), Payload: renderMap(t.Payload, data)}
	case *models.AgentAction:
		return &models.AgentAction{AgentID: renderString(t.AgentID, data), Input: renderMap(t.Input, data)}
	}
	return a
}
