// Package capability performs the side effects behind automation actions:
// notifications, task field writes, task creation, webhooks and agent calls.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vithaluntold/accute1-sub000/internal/apperr"
	"github.com/vithaluntold/accute1-sub000/internal/logging"
	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

// TaskWriter is the slice of the store the provider writes through.
type TaskWriter interface {
	SetTaskField(ctx context.Context, taskID, field string, value any) error
	CreateTask(ctx context.Context, task *models.Task) error
}

// Notification formats accepted by the notification webhook.
const (
	FormatSlack  = "slack"
	FormatCustom = "custom"
)

// Options configure a Provider.
type Options struct {
	WebhookTimeout time.Duration
	AgentURL       string

	// NotifyWebhookURL, when set, receives every notification.
	NotifyWebhookURL string
	NotifyFormat     string
	// NotifyTemplate is the JSON body for the custom format. {{target}} and
	// {{message}} are replaced with JSON-escaped values.
	NotifyTemplate string
}

// Provider implements automation.Capabilities.
type Provider struct {
	store  TaskWriter
	logger *logging.Logger
	client *http.Client
	agents *AgentClient
	opts   Options
}

// NewProvider creates a Provider.
func NewProvider(store TaskWriter, logger *logging.Logger, opts Options) *Provider {
	if opts.WebhookTimeout <= 0 {
		opts.WebhookTimeout = 10 * time.Second
	}
	if opts.NotifyFormat == "" {
		opts.NotifyFormat = FormatSlack
	}
	client := NewHTTPClient(opts.WebhookTimeout)
	return &Provider{
		store:  store,
		logger: logger.With("component", "capability"),
		client: client,
		agents: NewAgentClient(opts.AgentURL, client),
		opts:   opts,
	}
}

// Notify logs the notification and forwards it to the notification webhook
// when one is configured.
func (p *Provider) Notify(ctx context.Context, target, message string) error {
	p.logger.Info("notification", "target", target, "message", message)
	if p.opts.NotifyWebhookURL == "" {
		return nil
	}
	body, err := p.notificationBody(target, message)
	if err != nil {
		return err
	}
	if _, err := postJSON(ctx, p.client, p.opts.NotifyWebhookURL, body); err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	return nil
}

func (p *Provider) notificationBody(target, message string) (any, error) {
	if p.opts.NotifyFormat != FormatCustom {
		return map[string]any{"text": fmt.Sprintf("[%s] %s", target, message)}, nil
	}
	r := strings.NewReplacer("{{target}}", jsonEscape(target), "{{message}}", jsonEscape(message))
	raw := json.RawMessage(r.Replace(p.opts.NotifyTemplate))
	if !json.Valid(raw) {
		return nil, fmt.Errorf("notification template does not render to valid JSON")
	}
	return raw, nil
}

func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

// SetField writes a field on a task.
func (p *Provider) SetField(ctx context.Context, entityID, field string, value any) error {
	if err := p.store.SetTaskField(ctx, entityID, field, value); err != nil {
		return fmt.Errorf("set %s on task %s: %w", field, entityID, err)
	}
	return nil
}

// CreateTask creates a task under stepID and returns its id.
func (p *Provider) CreateTask(ctx context.Context, stepID string, spec models.TaskSpec) (string, error) {
	if stepID == "" {
		return "", apperr.Validation("create_task needs a step")
	}
	kind := spec.Kind
	if kind == "" {
		kind = models.TaskKindManual
	}
	task := &models.Task{
		StepID:           stepID,
		Name:             spec.Name,
		Kind:             kind,
		AutoAdvance:      spec.AutoAdvance,
		ReviewRequired:   spec.ReviewRequired,
		EstimatedMinutes: spec.EstimatedMinutes,
		Fields:           spec.Fields,
	}
	if err := p.store.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("create task under step %s: %w", stepID, err)
	}
	p.logger.Info("task created by automation", "task_id", task.ID, "step_id", stepID)
	return task.ID, nil
}

// InvokeWebhook posts payload to url and returns the decoded response.
func (p *Provider) InvokeWebhook(ctx context.Context, url string, payload map[string]any) (any, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	out, err := postJSON(ctx, p.client, url, payload)
	if err != nil {
		p.logger.Warn("webhook failed", "url", url, "error", err)
		return nil, err
	}
	return out, nil
}

// InvokeAgent runs an agent through the configured agent service.
func (p *Provider) InvokeAgent(ctx context.Context, agentID string, input map[string]any) (any, error) {
	return p.agents.Invoke(ctx, agentID, input)
}
