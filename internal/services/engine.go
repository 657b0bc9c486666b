// Package services holds the workflow engine: the auto-progression cascade,
// automation runs, review gating and the dependency graph operations.
package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/vithaluntold/accute1-sub000/internal/automation"
	"github.com/vithaluntold/accute1-sub000/internal/dependency"
	"github.com/vithaluntold/accute1-sub000/internal/logging"
	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

const instrumentation = "github.com/vithaluntold/accute1-sub000/internal/services"

// CascadeResult reports what an operation changed. A result with
// AlreadyCompleted set and nothing else means the call was a no-op.
type CascadeResult struct {
	Trigger          models.NodeRef            `json:"trigger"`
	Status           models.Status             `json:"status,omitempty"`
	AlreadyCompleted bool                      `json:"already_completed"`
	PendingReview    bool                      `json:"pending_review"`
	Completed        []models.NodeRef          `json:"completed"`
	Reopened         []models.NodeRef          `json:"reopened,omitempty"`
	ActionResults    []automation.ActionResult `json:"action_results,omitempty"`
}

// Options configure an Engine.
type Options struct {
	Schedule dependency.Options
}

// Engine runs every workflow operation synchronously in the caller's
// context. It holds no locks; the store's conditional transitions are the
// only concurrency control.
type Engine struct {
	store    Store
	executor *automation.Executor
	logger   *logging.Logger
	schedule dependency.Options

	tracer      trace.Tracer
	transitions metric.Int64Counter
	rejections  metric.Int64Counter
}

// NewEngine creates an Engine.
func NewEngine(store Store, executor *automation.Executor, logger *logging.Logger, opts Options) *Engine {
	meter := otel.Meter(instrumentation)
	transitions, err := meter.Int64Counter("cascade.transitions",
		metric.WithDescription("Hierarchy nodes moved to completed by the engine"))
	if err != nil {
		logger.Warn("cascade metrics disabled", "error", err)
	}
	rejections, err := meter.Int64Counter("dependency.rejections",
		metric.WithDescription("Dependency edges rejected"))
	if err != nil {
		logger.Warn("dependency metrics disabled", "error", err)
	}
	return &Engine{
		store:       store,
		executor:    executor,
		logger:      logger,
		schedule:    opts.Schedule,
		tracer:      otel.Tracer(instrumentation),
		transitions: transitions,
		rejections:  rejections,
	}
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "engine."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (e *Engine) countTransition(ctx context.Context, ref models.NodeRef) {
	if e.transitions != nil {
		e.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("node.type", string(ref.Type))))
	}
}

func (e *Engine) countRejection(ctx context.Context, reason string) {
	if e.rejections != nil {
		e.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

func refAttrs(ref models.NodeRef) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("node.type", string(ref.Type)),
		attribute.String("node.id", ref.ID),
	}
}

// ListWorkflows returns the workflows visible to the caller.
func (e *Engine) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	return e.store.ListWorkflows(ctx)
}

// GetTask returns one task.
func (e *Engine) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	return e.store.GetTask(ctx, taskID)
}

// ValidateActions checks action specs without running them.
func (e *Engine) ValidateActions(specs []models.ActionSpec) error {
	return e.executor.ValidateSpecs(specs)
}
